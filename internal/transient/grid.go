package transient

import (
	"fmt"
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/electrical"
)

type GridAction int

const (
	GridNone GridAction = iota
	RideThrough
	Disconnect
	LoadShed
	FrequencySupport
)

var gridActionNames = [...]string{"none", "ride_through", "disconnect", "load_shed", "frequency_support"}

func (a GridAction) String() string {
	if a < 0 || int(a) >= len(gridActionNames) {
		return fmt.Sprintf("grid_action(%d)", int(a))
	}
	return gridActionNames[a]
}

func (a GridAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// GridDisturbance classifies grid voltage and frequency excursions. A sag
// is ridden through for RideThroughTime before disconnecting; after a
// disconnect the grid must stay healthy for ReconnectDelay.
type GridDisturbance struct {
	cfg          config.GridDisturbanceConfig
	Action       GridAction
	sag          float64
	healthy      float64
	disconnected bool
	shed         float64
}

func NewGridDisturbance(cfg config.GridDisturbanceConfig) *GridDisturbance {
	return &GridDisturbance{cfg: cfg}
}

func (g *GridDisturbance) Configure(cfg config.GridDisturbanceConfig) { g.cfg = cfg }

func (g *GridDisturbance) Reset() { *g = GridDisturbance{cfg: g.cfg} }

func (g *GridDisturbance) Update(c electrical.GridCondition, dt float64) GridAction {
	cfg := g.cfg
	v, f := c.VoltagePU, c.Frequency

	trip := v < cfg.DisconnectVoltage || v > cfg.OverVoltage ||
		f < cfg.TripLowFrequency || f > cfg.TripHighFrequency
	if v < cfg.RideThroughVoltage {
		g.sag += dt
		if g.sag > cfg.RideThroughTime {
			trip = true
		}
	} else {
		g.sag = 0
	}

	healthy := !trip && v >= cfg.RideThroughVoltage &&
		f >= cfg.UnderFrequency && f <= cfg.OverFrequency

	switch {
	case trip:
		g.disconnected = true
		g.healthy = 0
	case g.disconnected:
		if healthy {
			g.healthy += dt
		} else {
			g.healthy = 0
		}
		if g.healthy >= cfg.ReconnectDelay {
			g.disconnected = false
		}
	}

	switch {
	case g.disconnected:
		g.Action = Disconnect
	case v < cfg.RideThroughVoltage:
		g.Action = RideThrough
	case f > cfg.OverFrequency:
		g.Action = LoadShed
	case f < cfg.UnderFrequency:
		g.Action = FrequencySupport
	default:
		g.Action = GridNone
	}
	return g.Action
}

// Shed fixes the load held during a load shed from the load applied when
// the shed began.
func (g *GridDisturbance) Shed(applied float64) {
	g.shed = applied * (1 - g.cfg.ShedFraction)
}

// Commands adapts the normal candidate to the current action.
func (g *GridDisturbance) Commands(normal Commands) Commands {
	c := normal
	switch g.Action {
	case Disconnect:
		c.EnableSync = false
		c.Load = 0
	case LoadShed:
		c.Load = math.Min(normal.Load, g.shed)
	}
	return c
}
