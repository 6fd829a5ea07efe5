// Package floater models a single buoyant unit on the chain loop.
//
// A floater carries its pneumatic substate (air fill fraction, internal
// pressure, stored compression energy) and a lumped air temperature. The
// lifecycle is an explicit state machine:
//
//	Empty -> Filling -> Full -> Venting -> Empty
//
// Filling may also abort straight to Venting (emergency vent-all), and any
// state may move to Fault. Fault is left only by Reset.
package floater

import (
	"fmt"
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

type State int

const (
	Empty State = iota
	Filling
	Full
	Venting
	Fault
)

var stateNames = [...]string{"empty", "filling", "full", "venting", "fault"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown floater state %q", b)
}

// allowed[from][to]; self transitions are handled before the lookup.
var allowed = [5][5]bool{
	Empty:   {Filling: true, Fault: true},
	Filling: {Full: true, Venting: true, Fault: true},
	Full:    {Venting: true, Fault: true},
	Venting: {Empty: true, Fault: true},
	Fault:   {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	if from < 0 || from > Fault || to < 0 || to > Fault {
		return false
	}
	return allowed[from][to]
}

// HoldsAir reports whether a floater in s carries compressed air.
func (s State) HoldsAir() bool {
	return s == Filling || s == Full || s == Venting
}

type Floater struct {
	ID            int     `json:"id"`
	State         State   `json:"state"`
	Angle         float64 `json:"angle"`
	AirFill       float64 `json:"air_fill"`
	Pressure      float64 `json:"pressure"`
	Temperature   float64 `json:"temperature"`
	Volume        float64 `json:"volume"`
	ContainerMass float64 `json:"container_mass"`
	Area          float64 `json:"area"`
	DragCoeff     float64 `json:"drag_coeff"`
	Errors        int     `json:"errors"`
	Stored        float64 `json:"stored"`

	home float64
	amb  float64
	atm  float64
}

// New creates floater id at angle on the loop.
func New(id int, angle float64, cfg config.FloaterConfig, atm float64) Floater {
	f := Floater{
		ID:            id,
		Volume:        cfg.Volume,
		ContainerMass: cfg.ContainerMass,
		Area:          cfg.Area,
		DragCoeff:     cfg.DragCoeff,
		home:          dynamo.WrapAngle(angle),
		amb:           cfg.AmbientTemperature,
		atm:           atm,
	}
	f.Reset()
	return f
}

// Chain builds n floaters with equal angular spacing starting at angle 0.
func Chain(cfg config.FloaterConfig, atm float64) []Floater {
	out := make([]Floater, cfg.Count)
	spacing := 2 * math.Pi / float64(cfg.Count)
	for i := range out {
		out[i] = New(i, float64(i)*spacing, cfg, atm)
	}
	return out
}

// Reset restores the construction-time state.
func (f *Floater) Reset() {
	f.State = Empty
	f.Angle = f.home
	f.AirFill = 0
	f.Pressure = f.atm
	f.Temperature = f.amb
	f.Errors = 0
	f.Stored = 0
}

// EffectiveMass is the container plus the water it still holds.
func (f *Floater) EffectiveMass(rho float64) float64 {
	return f.ContainerMass + rho*f.Volume*(1-f.AirFill)
}

// Transition moves the floater to s. Moving into the current state is a
// no-op. An illegal edge is rejected, counted against the floater and
// reported as ErrInvalidTransition.
func (f *Floater) Transition(to State) error {
	if f.State == to {
		return nil
	}
	if !CanTransition(f.State, to) {
		f.Errors++
		return fmt.Errorf("%w: floater %d %s -> %s", dynamo.ErrInvalidTransition, f.ID, f.State, to)
	}
	f.State = to
	return nil
}

// Check faults the floater on overpressure or too many errors and returns
// the limit record that caused it, if any.
func (f *Floater) Check(maxPressure float64, maxErrors int) *dynamo.LimitExceeded {
	if f.State == Fault {
		return nil
	}
	var rec *dynamo.LimitExceeded
	switch {
	case f.Pressure > maxPressure:
		rec = &dynamo.LimitExceeded{
			Component: f.Component(),
			Quantity:  "pressure",
			Value:     f.Pressure,
			Limit:     maxPressure,
			Severity:  dynamo.Critical,
		}
	case f.Errors >= maxErrors:
		rec = &dynamo.LimitExceeded{
			Component: f.Component(),
			Quantity:  "errors",
			Value:     float64(f.Errors),
			Limit:     float64(maxErrors),
			Severity:  dynamo.Medium,
		}
	default:
		return nil
	}
	f.State = Fault
	return rec
}

// Component is the name used in fault records.
func (f *Floater) Component() string {
	return fmt.Sprintf("floater.%d", f.ID)
}

// Validate reports a physics violation for non-physical floater state.
func (f *Floater) Validate(rho float64) error {
	m := f.EffectiveMass(rho)
	switch {
	case !dynamo.Finite(f.Angle, f.AirFill, f.Pressure, f.Temperature, f.Stored):
		return &dynamo.PhysicsViolation{Quantity: f.Component() + ".state", Value: math.NaN()}
	case f.AirFill < 0 || f.AirFill > 1:
		return &dynamo.PhysicsViolation{Quantity: f.Component() + ".air_fill", Value: f.AirFill}
	case f.Volume <= 0:
		return &dynamo.PhysicsViolation{Quantity: f.Component() + ".volume", Value: f.Volume}
	case m < f.ContainerMass || m > f.ContainerMass+rho*f.Volume:
		return &dynamo.PhysicsViolation{Quantity: f.Component() + ".mass", Value: m}
	}
	return nil
}
