package electrical

import (
	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// Output is one step's power flow, in watts.
type Output struct {
	Mechanical    float64 `json:"mechanical"`
	Generated     float64 `json:"generated"`
	Delivered     float64 `json:"delivered"`
	GeneratorLoss float64 `json:"generator_loss"`
	ConverterLoss float64 `json:"converter_loss"`
}

// Derates are the thermal multipliers from the previous step.
type Derates struct {
	Generator        float64
	PowerElectronics float64
}

var NoDerate = Derates{Generator: 1, PowerElectronics: 1}

type System struct {
	Generator *Generator
	Converter *PowerElectronics
	Grid      *GridInterface
}

func New(cfg config.Config) *System {
	e := cfg.Electrical
	return &System{
		Generator: NewGenerator(e.Generator),
		Converter: NewPowerElectronics(e.PowerElectronics),
		Grid:      NewGridInterface(e.Grid),
	}
}

func (s *System) Clone() *System {
	g, c, gi := *s.Generator, *s.Converter, *s.Grid
	return &System{Generator: &g, Converter: &c, Grid: &gi}
}

func (s *System) Reset() {
	s.Generator.Reset()
	s.Converter.Reset()
	s.Grid.Reset()
}

// Sink reports whether generated power can be delivered.
func (s *System) Sink() bool {
	return s.Grid.Sink() && !s.Converter.Tripped
}

// CounterTorque is the generator load torque for the coming step,
// P_electrical/(η·ω) on the shaft. It is zero without a sink.
func (s *System) CounterTorque(w, load float64) float64 {
	if !s.Sink() {
		load = 0
	}
	return s.Generator.CounterTorque(w, load)
}

// Step converts the shaft energy absorbed by the generator over dt at mean
// speed w, then runs converter protection and grid synchronisation.
func (s *System) Step(energy, w, dt float64, d Derates) (Output, []dynamo.LimitExceeded) {
	var out Output
	out.Mechanical = energy / dt
	out.GeneratorLoss = s.Generator.Convert(out.Mechanical, w, d.Generator)
	out.Generated = s.Generator.Electrical
	out.ConverterLoss = s.Converter.Convert(out.Generated, d.PowerElectronics)
	out.Delivered = s.Converter.Output
	s.Grid.Delivered = out.Delivered

	var limits []dynamo.LimitExceeded
	g := s.Generator
	if rec := s.Converter.Protect(g.Voltage, g.Frequency, g.Current); rec != nil {
		limits = append(limits, *rec)
	}
	s.Grid.Step(!s.Converter.Tripped && w > 0, dt)
	return out, limits
}
