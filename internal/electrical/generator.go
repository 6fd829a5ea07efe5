// Package electrical models the generator, the AC-DC-AC power electronics
// and the grid interface.
//
// The generator presents a counter torque to the flywheel shaft. Mechanical
// power drawn through that torque is split into electrical output and
// generator loss by the efficiency curve; the converter takes its own share;
// what remains reaches the grid. Power flows only while a sink exists:
// without grid synchronisation, or with the converter tripped, the
// generator is unloaded.
package electrical

import (
	"math"

	"github.com/san-kum/kppsim/internal/config"
)

type Generator struct {
	cfg   config.GeneratorConfig
	rated float64 // rated torque

	Load       float64 `json:"load"`
	Speed      float64 `json:"speed"`
	Torque     float64 `json:"torque"`
	Mechanical float64 `json:"mechanical"`
	Electrical float64 `json:"electrical"`
	Efficiency float64 `json:"efficiency"`
	Voltage    float64 `json:"voltage"`
	Frequency  float64 `json:"frequency"`
	Current    float64 `json:"current"`
}

func NewGenerator(cfg config.GeneratorConfig) *Generator {
	return &Generator{cfg: cfg, rated: cfg.RatedPower / cfg.RatedSpeed}
}

// RatedTorque is rated power over rated speed.
func (g *Generator) RatedTorque() float64 { return g.rated }

// CounterTorque is the shaft torque demanded at speed w for load factor
// load. Below KneeSpeed it falls linearly to zero so a stopped generator
// holds nothing.
//
// The torque is referred to the mechanical side: it equals
// P_electrical/(η·ω), not P_electrical/ω, so the shaft also supplies the
// generator's own loss. At unit efficiency the two agree.
func (g *Generator) CounterTorque(w, load float64) float64 {
	load = math.Max(0, math.Min(1, load))
	g.Load = load
	g.Speed = w
	if w <= 0 || load == 0 {
		g.Torque = 0
		return 0
	}
	g.Torque = load * g.rated * math.Min(1, w/g.cfg.KneeSpeed)
	return g.Torque
}

// EfficiencyAt is the efficiency curve at load factor l, before derating.
func (g *Generator) EfficiencyAt(l float64) float64 {
	peak := g.cfg.PeakEfficiency
	eta := peak - g.cfg.EfficiencyCurvature*(l-1)*(l-1)
	return math.Max(0.5*peak, math.Min(peak, eta))
}

// Convert turns mechanical power pmech (W) at speed w into electrical
// power. derate is the generator's thermal multiplier. It returns the
// generator loss in watts.
func (g *Generator) Convert(pmech, w, derate float64) float64 {
	aw := math.Abs(w)
	g.Mechanical = pmech
	g.Efficiency = g.EfficiencyAt(g.Load) * derate
	g.Electrical = g.Efficiency * pmech
	g.Voltage = g.cfg.VoltagePerRadS * aw
	g.Frequency = aw * float64(g.cfg.PolePairs) / (2 * math.Pi)
	g.Current = 0
	if g.Voltage > 0 {
		g.Current = g.Electrical / (math.Sqrt(3) * g.Voltage)
	}
	return pmech - g.Electrical
}

func (g *Generator) Reset() {
	*g = Generator{cfg: g.cfg, rated: g.rated}
}
