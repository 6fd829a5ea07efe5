package control

import (
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/events"
	"github.com/san-kum/kppsim/internal/floater"
	"github.com/san-kum/kppsim/internal/physics"
)

// TimingController moves injection and vent trigger points for floaters
// about to reach a zone. Injection is delayed so that filling completes as
// the floater leaves the bottom window; venting starts as it crosses the
// top.
type TimingController struct {
	cfg config.TimingConfig
	pn  config.PneumaticsConfig
	geo physics.Geometry
}

func NewTimingController(cfg config.Config, geo physics.Geometry) *TimingController {
	return &TimingController{cfg: cfg.Control.Timing, pn: cfg.Pneumatics, geo: geo}
}

func (c *TimingController) Configure(cfg config.Config) {
	c.cfg = cfg.Control.Timing
	c.pn = cfg.Pneumatics
}

// travel predicts the loop angle covered in t seconds.
func (c *TimingController) travel(v, a, t float64) float64 {
	return c.geo.AngleStep(math.Max(0, v*t+0.5*a*t*t))
}

// arrival is the time to cover dtheta of loop angle, or +Inf if the chain
// will not get there.
func (c *TimingController) arrival(v, a, dtheta float64) float64 {
	s := dtheta * c.geo.Loop / (2 * math.Pi)
	if math.Abs(a) < 1e-9 {
		if v <= 0 {
			return math.Inf(1)
		}
		return s / v
	}
	disc := v*v + 2*a*s
	if disc < 0 {
		return math.Inf(1)
	}
	t := (-v + math.Sqrt(disc)) / a
	if t < 0 {
		return math.Inf(1)
	}
	return t
}

// Plan returns trigger commands for every floater predicted to reach its
// next zone within the horizon. Reverse travel leaves the defaults alone.
func (c *TimingController) Plan(chain *physics.ChainState) []events.Command {
	v, a := chain.Velocity, chain.Acceleration
	if v <= 0 {
		return nil
	}
	var cmds []events.Command
	for _, f := range chain.Floaters {
		var (
			zone   events.Zone
			centre float64
			w      float64
			offset float64
		)
		switch f.State {
		case floater.Empty:
			zone, centre, w = events.Bottom, 0, c.pn.BottomZoneAngle
			fill := c.travel(v, a, 1/c.pn.FillRate)
			offset = 2*w - fill
		case floater.Full:
			zone, centre, w = events.Top, math.Pi, c.pn.TopZoneAngle
			offset = w
		default:
			continue
		}

		// distance from the floater to the window's entry edge
		ahead := dynamo.WrapAngle(centre - w - f.Angle)
		if x := dynamo.WrapPi(f.Angle - centre); x >= -w && x <= w {
			ahead = 0
		}
		if c.arrival(v, a, ahead) > c.cfg.Horizon {
			continue
		}
		limit := math.Min(2*w, c.cfg.MaxAdjust)
		cmds = append(cmds, events.Command{
			FloaterID: f.ID,
			Zone:      zone,
			Offset:    dynamo.Clamp(offset, 0, limit),
		})
	}
	return cmds
}
