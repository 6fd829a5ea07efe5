package metrics

import (
	"math"

	"github.com/san-kum/kppsim/internal/engine"
)

// Delivered integrates electrical power delivered to the grid, in joules.
type Delivered struct {
	name  string
	total float64
}

func NewDelivered() *Delivered {
	return &Delivered{name: "delivered_energy"}
}

func (d *Delivered) Name() string { return d.name }

func (d *Delivered) Observe(s *engine.Snapshot) {
	d.total += s.Electrical.Power * s.Dt
}

func (d *Delivered) Value() float64 { return d.total }

func (d *Delivered) Reset() { d.total = 0 }

// EnergyResidual tracks the worst relative audit residual seen.
type EnergyResidual struct {
	name     string
	maxDrift float64
	samples  int
}

func NewEnergyResidual() *EnergyResidual {
	return &EnergyResidual{name: "energy_residual"}
}

func (e *EnergyResidual) Name() string { return e.name }

func (e *EnergyResidual) Observe(s *engine.Snapshot) {
	e.maxDrift = math.Max(e.maxDrift, math.Abs(s.Energy.Residual()))
	e.samples++
}

func (e *EnergyResidual) Value() float64 {
	return e.maxDrift
}

func (e *EnergyResidual) Reset() {
	e.maxDrift = 0
	e.samples = 0
}

// Efficiency is delivered electrical energy over net compressor energy, as
// of the latest snapshot.
type Efficiency struct {
	name  string
	value float64
}

func NewEfficiency() *Efficiency {
	return &Efficiency{name: "efficiency"}
}

func (e *Efficiency) Name() string { return e.name }

func (e *Efficiency) Observe(s *engine.Snapshot) {
	if in := s.Energy.Pneumatic.Net(); in > 0 {
		e.value = s.Energy.Electrical / in
	}
}

func (e *Efficiency) Value() float64 { return e.value }

func (e *Efficiency) Reset() { e.value = 0 }
