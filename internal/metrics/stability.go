package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/transient"
)

// Availability is the fraction of steps spent Operational.
type Availability struct {
	name        string
	operational int
	samples     int
}

func NewAvailability() *Availability {
	return &Availability{
		name: "availability",
	}
}

func (a *Availability) Name() string {
	return a.name
}

func (a *Availability) Observe(s *engine.Snapshot) {
	a.samples++
	if s.State.Kind == transient.Operational {
		a.operational++
	}
}

func (a *Availability) Value() float64 {
	if a.samples == 0 {
		return 0
	}
	return float64(a.operational) / float64(a.samples)
}

func (a *Availability) Reset() {
	a.operational = 0
	a.samples = 0
}

// PeakTemperature is the hottest component temperature seen, °C.
type PeakTemperature struct {
	name string
	peak float64
	seen bool
}

func NewPeakTemperature() *PeakTemperature {
	return &PeakTemperature{name: "peak_temperature"}
}

func (p *PeakTemperature) Name() string { return p.name }

func (p *PeakTemperature) Observe(s *engine.Snapshot) {
	t := s.MaxTemperature()
	if !p.seen || t > p.peak {
		p.peak, p.seen = t, true
	}
}

func (p *PeakTemperature) Value() float64 { return p.peak }

func (p *PeakTemperature) Reset() {
	p.peak = 0
	p.seen = false
}

// Pulsation is the coefficient of variation of chain velocity over a
// sliding window: the pulse the flywheel has to smooth out.
type Pulsation struct {
	name   string
	window int
	buf    []float64
}

func NewPulsation(window int) *Pulsation {
	if window < 2 {
		window = 2
	}
	return &Pulsation{name: "pulsation", window: window}
}

func (p *Pulsation) Name() string { return p.name }

func (p *Pulsation) Observe(s *engine.Snapshot) {
	p.buf = append(p.buf, s.Chain.Velocity)
	if len(p.buf) > p.window {
		p.buf = p.buf[len(p.buf)-p.window:]
	}
}

func (p *Pulsation) Value() float64 {
	if len(p.buf) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(p.buf, nil)
	if math.Abs(mean) < 1e-9 {
		return 0
	}
	return std / math.Abs(mean)
}

func (p *Pulsation) Reset() { p.buf = p.buf[:0] }

// Standard is the metric set the CLI and scenarios report.
func Standard() []engine.Metric {
	return []engine.Metric{
		NewDelivered(),
		NewEfficiency(),
		NewEnergyResidual(),
		NewAvailability(),
		NewControlEffort(),
		NewPeakTemperature(),
		NewPulsation(500),
	}
}
