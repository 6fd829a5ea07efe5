package control

import (
	"fmt"
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/electrical"
)

type GridMode int

const (
	GridNormal GridMode = iota
	FrequencySupport
	VoltageSupport
)

var gridModeNames = [...]string{"normal", "frequency_support", "voltage_support"}

func (m GridMode) String() string {
	if m < 0 || int(m) >= len(gridModeNames) {
		return fmt.Sprintf("grid_mode(%d)", int(m))
	}
	return gridModeNames[m]
}

func (m GridMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// GridSupport is the stability controller's request for the next step.
type GridSupport struct {
	Mode        GridMode `json:"mode"`
	PowerAdjust float64  `json:"power_adjust"`
	Reactive    float64  `json:"reactive"`
}

// GridStability picks a support mode from grid deviations: droop on active
// power for frequency, a proportional reactive target for voltage.
type GridStability struct {
	cfg     config.GridStabilityConfig
	nominal float64
	rated   float64
}

func NewGridStability(cfg config.Config) *GridStability {
	return &GridStability{
		cfg:     cfg.Control.GridStability,
		nominal: cfg.Electrical.Grid.NominalFrequency,
		rated:   cfg.Electrical.Generator.RatedPower,
	}
}

func (g *GridStability) Configure(cfg config.Config) {
	g.cfg = cfg.Control.GridStability
}

func (g *GridStability) Update(c electrical.GridCondition) GridSupport {
	df := c.Frequency - g.nominal
	dv := c.VoltagePU - 1
	switch {
	case math.Abs(df) > g.cfg.FrequencyBand:
		return GridSupport{
			Mode:        FrequencySupport,
			PowerAdjust: -(df / g.nominal) / g.cfg.Droop * g.rated,
		}
	case math.Abs(dv) > g.cfg.VoltageBand:
		return GridSupport{Mode: VoltageSupport, Reactive: -g.cfg.ReactiveGain * dv}
	}
	return GridSupport{}
}
