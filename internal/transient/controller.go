package transient

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/electrical"
	"github.com/san-kum/kppsim/internal/events"
)

// Commands is one complete command set for the next step.
type Commands struct {
	Load       float64          `json:"load"`
	Disengage  bool             `json:"disengage"`
	Inhibit    bool             `json:"inhibit"`
	VentAll    bool             `json:"vent_all"`
	Prime      int              `json:"prime,omitempty"`
	EnableSync bool             `json:"enable_sync"`
	Timing     []events.Command `json:"-"`
}

// Source identifies a candidate command set. Higher values win.
type Source int

const (
	SourceNormal Source = iota
	SourceGridSupport
	SourceStartup
	SourceShutdown
	SourceEmergency
)

var sourceNames = [...]string{"normal", "grid_support", "startup", "shutdown", "emergency"}

func (s Source) String() string {
	if s < 0 || int(s) >= len(sourceNames) {
		return fmt.Sprintf("source(%d)", int(s))
	}
	return sourceNames[s]
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Observation is the plant as the transient controller sees it at the end
// of a step, with the control layer's output as the normal candidate.
type Observation struct {
	Time           float64
	Dt             float64
	ChainSpeed     float64
	FlywheelSpeed  float64
	MaxPressure    float64
	MaxTemperature float64
	Synchronized   bool
	Tripped        bool
	ConfigValid    bool
	Grid           electrical.GridCondition
	Limits         []dynamo.LimitExceeded
	Normal         Commands
	GridSupport    bool
}

// Decision records one arbitration.
type Decision struct {
	Source    Source                         `json:"source"`
	Reason    string                         `json:"reason"`
	Commands  Commands                       `json:"commands"`
	Discarded []Source                       `json:"discarded,omitempty"`
	From      SystemState                    `json:"from"`
	To        SystemState                    `json:"to"`
	Breaches  []string                       `json:"breaches,omitempty"`
	Grid      GridAction                     `json:"grid"`
	Timeout   *dynamo.SynchronizationTimeout `json:"-"`
	Rejected  error                          `json:"-"`
}

// Changed reports whether the system state moved this step.
func (d Decision) Changed() bool { return d.From != d.To }

type candidate struct {
	source   Source
	reason   string
	commands Commands
}

type Controller struct {
	cfg       config.TransientConfig
	rampRate  float64
	State     SystemState
	Startup   *Startup
	Emergency *EmergencyResponse
	Grid      *GridDisturbance
	load      float64
}

func New(cfg config.Config) *Controller {
	t := cfg.Transient
	return &Controller{
		cfg:       t,
		rampRate:  cfg.Control.Load.MaxRate,
		Startup:   NewStartup(t.Startup),
		Emergency: NewEmergencyResponse(t.Emergency),
		Grid:      NewGridDisturbance(t.Grid),
	}
}

func (c *Controller) Configure(cfg config.Config) {
	c.cfg = cfg.Transient
	c.rampRate = cfg.Control.Load.MaxRate
	c.Startup.Configure(cfg.Transient.Startup)
	c.Emergency.Configure(cfg.Transient.Emergency)
	c.Grid.Configure(cfg.Transient.Grid)
}

func (c *Controller) Clone() *Controller {
	out := *c
	st, g := *c.Startup, *c.Grid
	out.Startup = &st
	out.Grid = &g
	out.Emergency = c.Emergency.clone()
	return &out
}

func (c *Controller) Reset() {
	c.State = SystemState{}
	c.Startup.Begin()
	c.Emergency.Clear()
	c.Grid.Reset()
	c.load = 0
}

// Start begins the startup sequence from Offline.
func (c *Controller) Start() error {
	if c.State.Kind != Offline {
		return fmt.Errorf("%w: start in %s", dynamo.ErrInvalidCommand, c.State)
	}
	c.Startup.Begin()
	return c.State.transition(SystemState{Kind: Starting, Phase: Initialization})
}

// Stop begins a controlled shutdown.
func (c *Controller) Stop() error {
	if k := c.State.Kind; k != Starting && k != Operational {
		return fmt.Errorf("%w: stop in %s", dynamo.ErrInvalidCommand, c.State)
	}
	return c.State.transition(SystemState{Kind: Shutdown})
}

// Acknowledge arms the emergency exit; it is re-validated on the next step.
func (c *Controller) Acknowledge() error {
	if c.State.Kind != Emergency {
		return fmt.Errorf("%w: acknowledge in %s", dynamo.ErrInvalidCommand, c.State)
	}
	c.Emergency.Acknowledge()
	return nil
}

// Step advances the state machine and arbitrates the next command set.
func (c *Controller) Step(obs Observation) Decision {
	d := Decision{From: c.State}
	move := func(to SystemState) {
		if err := c.State.transition(to); err != nil {
			d.Rejected = err
		}
	}

	breaches := c.Emergency.Breaches(obs)
	if len(breaches) > 0 {
		d.Breaches = breaches
		level := c.Emergency.Escalate(breaches)
		if c.State.Kind != Emergency || level > c.State.Level {
			move(SystemState{Kind: Emergency, Level: level})
		}
	}

	switch c.State.Kind {
	case Emergency:
		if c.Emergency.Revalidate(obs, breaches) {
			move(SystemState{Kind: Shutdown})
			c.Emergency.Clear()
			c.load = 0
		}
	case Starting:
		p := c.State.Phase
		done, timeout := c.Startup.Step(p, obs)
		switch {
		case timeout != nil:
			d.Timeout = timeout
			move(SystemState{Kind: Fault})
		case done && p == Synchronization:
			move(SystemState{Kind: Operational})
		case done:
			move(SystemState{Kind: Starting, Phase: p + 1})
		}
	case Shutdown:
		c.load = math.Max(0, c.load-c.rampRate*obs.Dt)
		if c.load == 0 && math.Abs(obs.ChainSpeed) < c.cfg.ShutdownSpeed {
			move(SystemState{Kind: Offline})
		}
	}

	prev := c.Grid.Action
	d.Grid = c.Grid.Update(obs.Grid, obs.Dt)
	if d.Grid == LoadShed && prev != LoadShed {
		c.Grid.Shed(c.load)
	}

	cands := c.candidates(obs, breaches)
	win := cands[0]
	for _, k := range cands[1:] {
		d.Discarded = append(d.Discarded, k.source)
	}
	if win.source == SourceGridSupport && d.Grid != Disconnect {
		win.commands.Load = ramp(c.load, win.commands.Load, c.rampRate*obs.Dt)
	}
	d.Source, d.Reason, d.Commands = win.source, win.reason, win.commands
	d.To = c.State
	c.load = win.commands.Load
	return d
}

// candidates returns the active candidates, highest priority first.
func (c *Controller) candidates(obs Observation, breaches []string) []candidate {
	var out []candidate
	s := c.State
	switch s.Kind {
	case Emergency:
		reason := "emergency"
		if len(breaches) > 0 {
			reason += ": " + strings.Join(breaches, ",")
		}
		out = append(out, candidate{SourceEmergency, reason, c.Emergency.Commands()})
	case Shutdown:
		out = append(out, candidate{SourceShutdown, "shutdown", Commands{
			Load:       c.load,
			Inhibit:    true,
			EnableSync: c.load > 0,
			Timing:     obs.Normal.Timing,
		}})
	case Offline:
		out = append(out, candidate{SourceShutdown, "offline", Commands{Inhibit: true}})
	case Fault:
		out = append(out, candidate{SourceShutdown, "fault", Commands{Inhibit: true, VentAll: true}})
	case Starting:
		out = append(out, candidate{SourceStartup, "startup: " + s.Phase.String(), c.Startup.Commands(s.Phase, obs.Normal)})
	}
	if s.Kind == Operational && (c.Grid.Action != GridNone || obs.GridSupport) {
		out = append(out, candidate{SourceGridSupport, "grid: " + c.Grid.Action.String(), c.Grid.Commands(obs.Normal)})
	}
	return append(out, candidate{SourceNormal, "normal", obs.Normal})
}

// ramp moves from toward to by at most step.
func ramp(from, to, step float64) float64 {
	return math.Max(from-step, math.Min(from+step, to))
}
