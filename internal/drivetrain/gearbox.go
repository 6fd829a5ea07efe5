package drivetrain

import (
	"fmt"
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// Sprocket converts chain tension into shaft torque.
type Sprocket struct {
	Radius     float64
	Efficiency float64
	Torque     float64
	Speed      float64
}

type Stage struct {
	Ratio      float64 `json:"ratio"`
	Efficiency float64 `json:"efficiency"`
	MaxTorque  float64 `json:"max_torque"`
	Torque     float64 `json:"torque"`
	Limited    bool    `json:"limited"`
}

// Gearbox is an ordered speed-increasing stage list from the sprocket shaft
// to the clutch. Ratios are fixed at construction.
type Gearbox struct {
	stages    []Stage
	meshLight float64
}

func NewGearbox(stages []config.StageConfig, meshLight float64) *Gearbox {
	g := &Gearbox{meshLight: meshLight}
	for _, s := range stages {
		g.stages = append(g.stages, Stage{Ratio: s.Ratio, Efficiency: s.Efficiency, MaxTorque: s.MaxTorque})
	}
	return g
}

// Stages returns a copy of the stage states.
func (g *Gearbox) Stages() []Stage {
	return append([]Stage(nil), g.stages...)
}

func (g *Gearbox) Ratio() float64 {
	r := 1.0
	for _, s := range g.stages {
		r *= s.Ratio
	}
	return r
}

// stageEfficiency applies the light-load mesh penalty using the stage's
// torque from the previous step.
func (g *Gearbox) stageEfficiency(i int, mult float64) float64 {
	s := g.stages[i]
	load := math.Min(1, math.Abs(s.Torque)/s.MaxTorque)
	return s.Efficiency * (1 - g.meshLight*(1-load)) * mult
}

// Efficiency is the product of the stage efficiencies.
func (g *Gearbox) Efficiency(mult float64) float64 {
	eta := 1.0
	for i := range g.stages {
		eta *= g.stageEfficiency(i, mult)
	}
	return eta
}

// Capacity is the largest output torque every stage can carry, for the
// given thermal multiplier.
func (g *Gearbox) Capacity(mult float64) float64 {
	capacity := math.Inf(1)
	gain := 1.0
	for i := len(g.stages) - 1; i >= 0; i-- {
		gain *= g.stages[i].Ratio * g.stageEfficiency(i, mult)
		capacity = math.Min(capacity, g.stages[i].MaxTorque*gain)
	}
	return capacity
}

// Propagate records stage input torques for output torque out, walking
// back from the clutch. It returns the per-stage mesh losses for energy pin
// entering the gearbox, and a protection record for every stage at its
// torque limit.
func (g *Gearbox) Propagate(out, pin, mult float64) ([]float64, []dynamo.LimitExceeded) {
	etas := make([]float64, len(g.stages))
	for i := range g.stages {
		etas[i] = g.stageEfficiency(i, mult)
	}
	var limits []dynamo.LimitExceeded
	tau := out
	for i := len(g.stages) - 1; i >= 0; i-- {
		s := &g.stages[i]
		tau = tau / (s.Ratio * etas[i])
		s.Torque = tau
		s.Limited = math.Abs(tau) >= s.MaxTorque*(1-1e-9)
		if s.Limited {
			limits = append(limits, dynamo.LimitExceeded{
				Component: fmt.Sprintf("%s.stage%d", config.Gearbox, i+1),
				Quantity:  "torque",
				Value:     math.Abs(tau),
				Limit:     s.MaxTorque,
				Severity:  dynamo.Medium,
			})
		}
	}
	losses := make([]float64, len(g.stages))
	p := pin
	for i := range g.stages {
		losses[i] = p * (1 - etas[i])
		p *= etas[i]
	}
	return losses, limits
}

func (g *Gearbox) Reset() {
	for i := range g.stages {
		g.stages[i].Torque = 0
		g.stages[i].Limited = false
	}
}

func (g *Gearbox) clone() *Gearbox {
	out := *g
	out.stages = append([]Stage(nil), g.stages...)
	return &out
}

// Flywheel buffers pulsed input. Crossing MaxSpeed is reported, never
// clamped.
type Flywheel struct {
	Inertia  float64
	MaxSpeed float64
	Speed    float64
}

func (f *Flywheel) StoredEnergy() float64 {
	return 0.5 * f.Inertia * f.Speed * f.Speed
}

// Check returns a critical overspeed record when ω exceeds MaxSpeed.
func (f *Flywheel) Check() *dynamo.LimitExceeded {
	if f.Speed <= f.MaxSpeed {
		return nil
	}
	return &dynamo.LimitExceeded{
		Component: config.Flywheel,
		Quantity:  "speed",
		Value:     f.Speed,
		Limit:     f.MaxSpeed,
		Severity:  dynamo.Critical,
	}
}
