// Package events drives the floater state machine from chain position and
// keeps the pneumatic energy ledger.
package events

import (
	"math"
	"sort"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/floater"
	"github.com/san-kum/kppsim/internal/physics"
)

// edgeTol absorbs angle wrapping round-off at the window edge.
const edgeTol = 1e-9

// airRelax is the time constant of the floater air temperature, s.
const airRelax = 30.0

type Zone int

const (
	Bottom Zone = iota
	Top
)

func (z Zone) String() string {
	if z == Top {
		return "top"
	}
	return "bottom"
}

// Command moves a floater's trigger point inside a zone window. Offset is
// the delay past the entry edge, in radians of loop angle.
type Command struct {
	FloaterID int     `json:"floater_id"`
	Zone      Zone    `json:"zone"`
	Offset    float64 `json:"offset"`
}

type Ledger struct {
	Injected    float64 `json:"injected"`
	Compression float64 `json:"compression"`
	Recovered   float64 `json:"recovered"`
	VentLoss    float64 `json:"vent_loss"`
	Injections  int     `json:"injections"`
	Vents       int     `json:"vents"`
	Failures    int     `json:"failures"`
}

// Net is the pneumatic energy that stayed in the plant.
func (l Ledger) Net() float64 { return l.Injected - l.Recovered }

type Transition struct {
	ID   int
	From floater.State
	To   floater.State
}

type Result struct {
	Transitions []Transition
	Limits      []dynamo.LimitExceeded
	Rejected    []error
	MassBefore  float64
	MassAfter   float64
}

type Handler struct {
	cfg       config.PneumaticsConfig
	fl        config.FloaterConfig
	phys      *physics.Engine
	rho       float64
	atm       float64
	maxAdjust float64
	offsets   map[int][2]float64
	overrides map[int]float64
	inhibit   bool
	ventAll   bool
	prime     int
	ledger    Ledger
}

func New(cfg config.Config, phys *physics.Engine) *Handler {
	return &Handler{
		cfg:       cfg.Pneumatics,
		fl:        cfg.Floaters,
		phys:      phys,
		rho:       cfg.Physics.RhoWater,
		atm:       cfg.Physics.AtmosphericPressure,
		maxAdjust: cfg.Control.Timing.MaxAdjust,
		offsets:   make(map[int][2]float64),
		overrides: make(map[int]float64),
	}
}

// Configure swaps in new pneumatic parameters between steps.
func (h *Handler) Configure(cfg config.Config) {
	h.cfg = cfg.Pneumatics
	h.maxAdjust = cfg.Control.Timing.MaxAdjust
	h.clampOffsets()
}

func (h *Handler) Ledger() Ledger { return h.ledger }

// Clone copies the handler so a step can work on staged state.
func (h *Handler) Clone() *Handler {
	out := *h
	out.offsets = make(map[int][2]float64, len(h.offsets))
	for k, v := range h.offsets {
		out.offsets[k] = v
	}
	out.overrides = make(map[int]float64, len(h.overrides))
	for k, v := range h.overrides {
		out.overrides[k] = v
	}
	return &out
}

func (h *Handler) Reset() {
	h.offsets = make(map[int][2]float64)
	h.overrides = make(map[int]float64)
	h.inhibit = false
	h.ventAll = false
	h.prime = 0
	h.ledger = Ledger{}
}

// Inhibit blocks Empty -> Filling while set.
func (h *Handler) Inhibit(on bool) { h.inhibit = on }

// VentAll forces every air-holding floater to vent while set.
func (h *Handler) VentAll(on bool) { h.ventAll = on }

// OverridePressure forces floater id's internal pressure at the next
// Process, before the fault checks run.
func (h *Handler) OverridePressure(id int, p float64) { h.overrides[id] = p }

// Prime requests injection into n Empty floaters on the ascending run at the
// next Process, regardless of zone.
func (h *Handler) Prime(n int) { h.prime = n }

// Apply stores timing commands. Offsets are clamped to the window.
func (h *Handler) Apply(cmds []Command) {
	for _, c := range cmds {
		o := h.offsets[c.FloaterID]
		o[c.Zone] = h.clampOffset(c.Zone, c.Offset)
		h.offsets[c.FloaterID] = o
	}
}

func (h *Handler) Offset(id int, z Zone) float64 { return h.offsets[id][z] }

func (h *Handler) zone(z Zone) float64 {
	if z == Top {
		return h.cfg.TopZoneAngle
	}
	return h.cfg.BottomZoneAngle
}

func (h *Handler) clampOffset(z Zone, off float64) float64 {
	return dynamo.Clamp(off, 0, math.Min(2*h.zone(z), h.maxAdjust))
}

func (h *Handler) clampOffsets() {
	for id, o := range h.offsets {
		o[Bottom] = h.clampOffset(Bottom, o[Bottom])
		o[Top] = h.clampOffset(Top, o[Top])
		h.offsets[id] = o
	}
}

// InWindow reports whether theta is inside the zone window at or past its
// trigger point for travel direction v.
func (h *Handler) InWindow(z Zone, theta, v, offset float64) bool {
	centre := 0.0
	if z == Top {
		centre = math.Pi
	}
	w := h.zone(z)
	x := dynamo.WrapPi(theta - centre)
	if x < -w-edgeTol || x > w+edgeTol {
		return false
	}
	if v < 0 {
		return x <= w-offset+edgeTol
	}
	return x >= -w+offset-edgeTol
}

// Process runs one event pass over the chain: fill/vent progress, zone
// gated transitions, priming and fault checks. Each floater makes at most
// one state transition. It runs before the force pass so the same step's
// forces see the updated masses.
func (h *Handler) Process(c *physics.ChainState, dt float64) Result {
	var res Result
	v := c.Velocity
	for i := range c.Floaters {
		res.MassBefore += c.Floaters[i].EffectiveMass(h.rho)
	}

	moved := make([]bool, len(c.Floaters))
	record := func(i int, from floater.State, err error) {
		f := &c.Floaters[i]
		if err != nil {
			res.Rejected = append(res.Rejected, err)
			return
		}
		if f.State != from {
			moved[i] = true
			res.Transitions = append(res.Transitions, Transition{ID: f.ID, From: from, To: f.State})
		}
	}

	for i := range c.Floaters {
		f := &c.Floaters[i]
		from := f.State
		switch f.State {
		case floater.Filling:
			f.AirFill = math.Min(1, f.AirFill+h.cfg.FillRate*dt)
			if f.AirFill >= 1 {
				record(i, from, f.Transition(floater.Full))
			}
		case floater.Venting:
			h.vent(f, dt)
			if f.AirFill <= 0 {
				record(i, from, f.Transition(floater.Empty))
			}
		}
	}

	if h.ventAll {
		for i := range c.Floaters {
			f := &c.Floaters[i]
			if moved[i] || !(f.State == floater.Filling || f.State == floater.Full) {
				continue
			}
			from := f.State
			record(i, from, h.startVent(f, dt))
		}
	}

	for i := range c.Floaters {
		f := &c.Floaters[i]
		if moved[i] {
			continue
		}
		off := h.offsets[f.ID]
		switch {
		case f.State == floater.Empty && !h.inhibit && h.InWindow(Bottom, f.Angle, v, off[Bottom]):
			if h.inject(f, dt) {
				record(i, floater.Empty, nil)
				off[Bottom] = 0
			}
		case (f.State == floater.Full || f.State == floater.Filling) && h.InWindow(Top, f.Angle, v, off[Top]):
			from := f.State
			record(i, from, h.startVent(f, dt))
			off[Top] = 0
		}
		h.offsets[f.ID] = off
	}

	if h.prime > 0 && !h.inhibit {
		for _, i := range h.primeOrder(c) {
			if h.prime == 0 {
				break
			}
			if moved[i] {
				continue
			}
			if h.inject(&c.Floaters[i], dt) {
				record(i, floater.Empty, nil)
				h.prime--
			}
		}
		h.prime = 0
	}

	for i := range c.Floaters {
		f := &c.Floaters[i]
		if f.State.HoldsAir() {
			f.Pressure = h.phys.AbsolutePressure(f.Angle)
		} else if f.State != floater.Fault {
			f.Pressure = h.atm
		}
		if p, ok := h.overrides[f.ID]; ok {
			f.Pressure = p
			delete(h.overrides, f.ID)
		}
		f.Temperature += (h.fl.AmbientTemperature - f.Temperature) * dt / airRelax
		if rec := f.Check(h.fl.MaxPressure, h.fl.MaxErrors); rec != nil {
			res.Limits = append(res.Limits, *rec)
		}
		res.MassAfter += f.EffectiveMass(h.rho)
	}
	return res
}

// inject fires Empty -> Filling when the supply can overcome the local
// pressure, booking the compressor energy. The first fill increment lands
// in the same step.
func (h *Handler) inject(f *floater.Floater, dt float64) bool {
	if f.State != floater.Empty {
		return false
	}
	if h.cfg.SupplyPressure < h.phys.AbsolutePressure(f.Angle) {
		f.Errors++
		h.ledger.Failures++
		return false
	}
	if err := f.Transition(floater.Filling); err != nil {
		return false
	}
	ideal := h.phys.GaugePressure(f.Angle) * f.Volume
	drawn := ideal / h.cfg.CompressionEfficiency
	h.ledger.Injected += drawn
	h.ledger.Compression += drawn - ideal
	h.ledger.Injections++
	f.Stored += ideal
	f.Temperature += h.cfg.CompressionHeating
	f.AirFill = math.Min(1, f.AirFill+h.cfg.FillRate*dt)
	return true
}

// startVent opens the vent valve and releases the first increment.
func (h *Handler) startVent(f *floater.Floater, dt float64) error {
	if err := f.Transition(floater.Venting); err != nil {
		return err
	}
	h.ledger.Vents++
	h.vent(f, dt)
	return nil
}

// vent releases air in proportion to the fill fraction removed.
func (h *Handler) vent(f *floater.Floater, dt float64) {
	before := f.AirFill
	f.AirFill = math.Max(0, f.AirFill-h.cfg.VentRate*dt)
	if before <= 0 {
		return
	}
	released := f.Stored * (before - f.AirFill) / before
	if f.AirFill == 0 {
		released = f.Stored
	}
	f.Stored -= released
	rec := released * h.cfg.VentRecovery
	h.ledger.Recovered += rec
	h.ledger.VentLoss += released - rec
}

// primeOrder lists Empty floaters on the ascending run, deepest first.
func (h *Handler) primeOrder(c *physics.ChainState) []int {
	geo := h.phys.Geometry()
	var idx []int
	for i, f := range c.Floaters {
		if f.State == floater.Empty && geo.Slope(f.Angle) > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return geo.Height(c.Floaters[idx[a]].Angle) < geo.Height(c.Floaters[idx[b]].Angle)
	})
	return idx
}

// Stored sums the compressed-air energy held by the floaters.
func Stored(fs []floater.Floater) float64 {
	var s float64
	for _, f := range fs {
		s += f.Stored
	}
	return s
}
