// Package losses computes friction torques and allocates electrical losses,
// and integrates the per-component thermal model.
//
// Mechanical losses that act as real drag (chain friction, bearings, seals,
// windage) are returned as forces/torques for the drivetrain to integrate.
// Gear mesh and sprocket losses come from the drivetrain's efficiency
// chain. Generator and converter losses are the gap between their input and
// output power; copper, iron and switching terms are an allocation of that
// gap, so nothing is counted twice.
package losses

import (
	"math"

	"github.com/san-kum/kppsim/internal/config"
)

const (
	// speeds below which Coulomb friction is ramped to avoid chatter at rest
	chainStiction    = 0.05 // m/s
	flywheelStiction = 0.5  // rad/s
)

// FlywheelTorques is the flywheel-side drag split by mechanism, signed with ω.
type FlywheelTorques struct {
	Bearing float64
	Seal    float64
	Windage float64
}

func (f FlywheelTorques) Total() float64 { return f.Bearing + f.Seal + f.Windage }

// ElectricalLosses is an allocation of the generator and converter losses, W.
type ElectricalLosses struct {
	Copper         float64 `json:"copper"`
	Iron           float64 `json:"iron"`
	GeneratorStray float64 `json:"generator_stray"`
	Switching      float64 `json:"switching"`
	ConverterStray float64 `json:"converter_stray"`
}

func (e ElectricalLosses) Generator() float64 { return e.Copper + e.Iron + e.GeneratorStray }
func (e ElectricalLosses) Converter() float64 { return e.Switching + e.ConverterStray }

// Breakdown is one step's losses by stage, in watts.
type Breakdown struct {
	Drag          float64 `json:"drag"`
	ChainFriction float64 `json:"chain_friction"`
	Sprocket      float64 `json:"sprocket"`
	Mesh          float64 `json:"mesh"`
	ClutchSlip    float64 `json:"clutch_slip"`
	Bearing       float64 `json:"bearing"`
	Seal          float64 `json:"seal"`
	Windage       float64 `json:"windage"`
	ElectricalLosses
}

func (b Breakdown) Mechanical() float64 {
	return b.ChainFriction + b.Sprocket + b.Mesh + b.ClutchSlip + b.Bearing + b.Seal + b.Windage
}

func (b Breakdown) Electrical() float64 {
	return b.Generator() + b.Converter()
}

// Total excludes hydrodynamic drag, which heats the tank rather than a
// component.
func (b Breakdown) Total() float64 { return b.Mechanical() + b.Electrical() }

// Accumulate adds o scaled by k, used to integrate power into energy.
func (b *Breakdown) Accumulate(o Breakdown, k float64) {
	b.Drag += o.Drag * k
	b.ChainFriction += o.ChainFriction * k
	b.Sprocket += o.Sprocket * k
	b.Mesh += o.Mesh * k
	b.ClutchSlip += o.ClutchSlip * k
	b.Bearing += o.Bearing * k
	b.Seal += o.Seal * k
	b.Windage += o.Windage * k
	b.Copper += o.Copper * k
	b.Iron += o.Iron * k
	b.GeneratorStray += o.GeneratorStray * k
	b.Switching += o.Switching * k
	b.ConverterStray += o.ConverterStray * k
}

// Heat maps the step's losses to the thermal nodes.
func (b Breakdown) Heat() map[string]float64 {
	return map[string]float64{
		config.Sprocket:         b.Sprocket + b.ChainFriction,
		config.Gearbox:          b.Mesh,
		config.Clutch:           b.ClutchSlip,
		config.Flywheel:         b.Bearing + b.Seal + b.Windage,
		config.Generator:        b.Generator(),
		config.PowerElectronics: b.Converter(),
	}
}

type Model struct {
	cfg    config.LossConfig
	radius float64
	vpf    float64 // rated V/f, for the flux ratio
	imax   float64
}

func New(cfg config.Config) *Model {
	g := cfg.Electrical.Generator
	return &Model{
		cfg:    cfg.Losses,
		radius: cfg.Drivetrain.SprocketRadius,
		vpf:    2 * math.Pi * g.VoltagePerRadS / float64(g.PolePairs),
		imax:   cfg.Electrical.PowerElectronics.MaxCurrent,
	}
}

func ramp(v, scale float64) float64 {
	return math.Max(-1, math.Min(1, v/scale))
}

// bearing is the load- and temperature-dependent bearing friction torque
// magnitude. Warm oil is thinner, so friction falls as T rises.
func (m *Model) bearing(load, temp float64) float64 {
	b := m.cfg.Bearing
	thermal := math.Max(0.5, 1+b.TempCoeff*(b.RefTemp-temp))
	return (b.Base + b.LoadCoeff*math.Abs(load)) * thermal
}

// ChainForce is the friction force against chain velocity v: link friction
// plus the sprocket bearing reflected to the chain.
func (m *Model) ChainForce(v, sprocketTorque, temp float64) float64 {
	f := m.cfg.ChainFriction + m.bearing(sprocketTorque, temp)/m.radius
	return f * ramp(v, chainStiction)
}

// Flywheel returns the flywheel-side drag torques at speed w. mult is the
// flywheel thermal multiplier; a derated flywheel drags more.
func (m *Model) Flywheel(w, clutchTorque, temp, mult float64) FlywheelTorques {
	s := ramp(w, flywheelStiction)
	aw := math.Abs(w)
	wind := 0.0
	if onset := m.cfg.Windage.OnsetSpeed; aw > onset {
		wind = m.cfg.Windage.Coeff * (aw*aw - onset*onset)
	}
	return FlywheelTorques{
		Bearing: m.bearing(clutchTorque, temp) * s / mult,
		Seal:    m.cfg.Seal.Coeff * (1 + m.cfg.Seal.SpeedCoeff*aw) * s,
		Windage: wind * s,
	}
}

// Allocate splits the generator loss genLoss and converter loss convLoss
// (both W) into mechanisms. current is the phase current, freq the
// electrical frequency and volts the terminal EMF.
func (m *Model) Allocate(genLoss, convLoss, current, freq, volts, genTemp float64) ElectricalLosses {
	c := m.cfg
	r := c.Copper.Resistance * (1 + c.Copper.TempCoeff*(genTemp-config.DefaultAmbient))
	copper := 3 * current * current * math.Max(0, r)

	var iron float64
	if freq > 0 && m.vpf > 0 {
		b := (volts / freq) / m.vpf
		iron = (c.Iron.Hysteresis*freq + c.Iron.Eddy*freq*freq) * b * b
	}

	var out ElectricalLosses
	out.Copper, out.Iron, out.GeneratorStray = split(genLoss, copper, iron)

	sw := 0.0
	if m.imax > 0 {
		sw = c.Switching.Energy * c.Switching.Frequency * math.Min(1, math.Abs(current)/m.imax)
	}
	out.Switching, _, out.ConverterStray = split(convLoss, sw, 0)
	return out
}

// split allocates total between a and b, scaling both down when they
// exceed it, and returns the remainder.
func split(total, a, b float64) (float64, float64, float64) {
	if total <= 0 {
		return 0, 0, 0
	}
	if sum := a + b; sum > total {
		a *= total / sum
		b *= total / sum
	}
	return a, b, math.Max(0, total-a-b)
}
