package electrical

import (
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// PowerElectronics is the AC-DC-AC converter. A protection trip latches
// until Acknowledge.
type PowerElectronics struct {
	cfg config.PowerElectronicsConfig

	Efficiency float64 `json:"efficiency"`
	Output     float64 `json:"output"`
	Tripped    bool    `json:"tripped"`
	Cause      string  `json:"cause,omitempty"`
}

func NewPowerElectronics(cfg config.PowerElectronicsConfig) *PowerElectronics {
	return &PowerElectronics{cfg: cfg, Efficiency: cfg.Efficiency}
}

// Convert passes pin watts through the converter and returns the loss.
func (p *PowerElectronics) Convert(pin, derate float64) float64 {
	p.Efficiency = p.cfg.Efficiency * derate
	p.Output = p.Efficiency * pin
	return pin - p.Output
}

// Protect checks the generator terminal quantities and latches a trip on
// the first one above its limit.
func (p *PowerElectronics) Protect(volts, freq, current float64) *dynamo.LimitExceeded {
	if p.Tripped {
		return nil
	}
	checks := []struct {
		quantity string
		value    float64
		limit    float64
	}{
		{"voltage", volts, p.cfg.MaxVoltage},
		{"frequency", freq, p.cfg.MaxFrequency},
		{"current", math.Abs(current), p.cfg.MaxCurrent},
	}
	for _, c := range checks {
		if c.value > c.limit {
			p.Tripped = true
			p.Cause = "over" + c.quantity
			return &dynamo.LimitExceeded{
				Component: config.PowerElectronics,
				Quantity:  c.quantity,
				Value:     c.value,
				Limit:     c.limit,
				Severity:  dynamo.High,
			}
		}
	}
	return nil
}

// Acknowledge clears a latched trip.
func (p *PowerElectronics) Acknowledge() {
	p.Tripped = false
	p.Cause = ""
}

func (p *PowerElectronics) Reset() {
	*p = PowerElectronics{cfg: p.cfg, Efficiency: p.cfg.Efficiency}
}

// GridCondition is the state of the external grid. Perturbations change it.
type GridCondition struct {
	VoltagePU float64 `json:"voltage_pu" yaml:"voltage_pu"`
	Frequency float64 `json:"frequency" yaml:"frequency"`
}

// NominalCondition is 1 pu at the configured frequency.
func NominalCondition(cfg config.GridConfig) GridCondition {
	return GridCondition{VoltagePU: 1, Frequency: cfg.NominalFrequency}
}

// GridInterface synchronises the converter output to the grid. Once
// synchronised it stays so until the breaker opens.
type GridInterface struct {
	cfg config.GridConfig

	Condition     GridCondition `json:"condition"`
	Voltage       float64       `json:"voltage"`
	Frequency     float64       `json:"frequency"`
	Synchronized  bool          `json:"synchronized"`
	BreakerClosed bool          `json:"breaker_closed"`
	Delivered     float64       `json:"delivered"`
	SyncEnabled   bool          `json:"sync_enabled"`

	held float64
}

func NewGridInterface(cfg config.GridConfig) *GridInterface {
	return &GridInterface{cfg: cfg, Condition: NominalCondition(cfg)}
}

// EnableSync allows the breaker to close. Disabling it opens the breaker.
func (g *GridInterface) EnableSync(on bool) {
	g.SyncEnabled = on
	if !on {
		g.OpenBreaker()
	}
}

func (g *GridInterface) OpenBreaker() {
	g.Synchronized = false
	g.BreakerClosed = false
	g.held = 0
}

// Sink reports whether delivered power has somewhere to go.
func (g *GridInterface) Sink() bool { return g.Synchronized && g.BreakerClosed }

// inTolerance compares the converter output with the grid.
func (g *GridInterface) inTolerance() bool {
	tv := g.Condition.VoltagePU * g.cfg.NominalVoltage
	dv := math.Abs(g.Voltage-tv) / g.cfg.NominalVoltage
	df := math.Abs(g.Frequency - g.Condition.Frequency)
	return dv <= g.cfg.VoltageTolerance && df <= g.cfg.FrequencyTolerance
}

// Step moves the converter output toward the grid and updates
// synchronisation. available is false when the converter cannot produce an
// output (tripped or stopped generator).
func (g *GridInterface) Step(available bool, dt float64) {
	tv, tf := g.Condition.VoltagePU*g.cfg.NominalVoltage, g.Condition.Frequency
	if !available || !g.SyncEnabled {
		tv, tf = 0, 0
		if g.BreakerClosed {
			g.OpenBreaker()
		}
	}

	if g.Synchronized {
		g.Voltage, g.Frequency = tv, tf
		return
	}

	alpha := 1 - math.Exp(-dt/g.cfg.TimeConstant)
	g.Voltage += (tv - g.Voltage) * alpha
	g.Frequency += (tf - g.Frequency) * alpha

	if !available || !g.SyncEnabled || !g.inTolerance() {
		g.held = 0
		return
	}
	g.held += dt
	if g.held >= g.cfg.SyncHold {
		g.Synchronized = true
		g.BreakerClosed = true
	}
}

func (g *GridInterface) Reset() {
	*g = GridInterface{cfg: g.cfg, Condition: NominalCondition(g.cfg)}
}
