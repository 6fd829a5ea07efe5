package control

import (
	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/electrical"
	"github.com/san-kum/kppsim/internal/events"
	"github.com/san-kum/kppsim/internal/physics"
)

// Input is what the control layer observes at the end of a step.
type Input struct {
	Time          float64
	Dt            float64
	Chain         *physics.ChainState
	FlywheelSpeed float64
	Power         float64 // delivered to the grid, W
	Sink          bool
	Grid          electrical.GridCondition
	Signals       []Signal
	Limits        []dynamo.LimitExceeded
	Residual      float64
}

// Output holds the commands for the next step and the step's faults.
type Output struct {
	Commands []events.Command `json:"commands,omitempty"`
	Load     float64          `json:"load"`
	Support  GridSupport      `json:"support"`
	Faults   []dynamo.Fault   `json:"faults,omitempty"`
}

type System struct {
	Timing *TimingController
	Load   *LoadManager
	Grid   *GridStability
	Faults *FaultDetector
}

func New(cfg config.Config, geo physics.Geometry) *System {
	return &System{
		Timing: NewTimingController(cfg, geo),
		Load:   NewLoadManager(cfg),
		Grid:   NewGridStability(cfg),
		Faults: NewFaultDetector(cfg.Control.Faults),
	}
}

func (s *System) Configure(cfg config.Config) {
	s.Timing.Configure(cfg)
	s.Load.Configure(cfg)
	s.Grid.Configure(cfg)
	s.Faults.Configure(cfg.Control.Faults)
}

func (s *System) Clone() *System {
	t, g := *s.Timing, *s.Grid
	return &System{Timing: &t, Load: s.Load.clone(), Grid: &g, Faults: s.Faults.clone()}
}

func (s *System) Reset() {
	s.Load.Hold()
	s.Faults.Reset()
}

// Step runs the four controllers in order: timing, grid stability, load,
// fault detection.
func (s *System) Step(in Input) Output {
	var out Output
	out.Commands = s.Timing.Plan(in.Chain)
	out.Support = s.Grid.Update(in.Grid)
	if in.Sink {
		out.Load = s.Load.Update(in.Power, in.FlywheelSpeed, out.Support.PowerAdjust, in.Dt)
	} else {
		s.Load.Hold()
	}
	out.Faults = s.Faults.Detect(in.Time, in.Signals, in.Limits, in.Residual)
	return out
}

// Track feeds the load chosen by arbitration back to the load manager.
func (s *System) Track(applied float64) { s.Load.Track(applied) }
