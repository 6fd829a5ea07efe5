// Package scenario runs scripted plant sequences headless: timed commands
// and disturbances against one engine, with the final state checked against
// an expectation.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/electrical"
	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/metrics"
	"github.com/san-kum/kppsim/internal/transient"
)

// Scenario defines a scripted plant sequence
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Preset      string   `yaml:"preset,omitempty"`
	Duration    float64  `yaml:"duration"`
	Dt          float64  `yaml:"dt,omitempty"`
	Actions     []Action `yaml:"actions"`
	ExpectState string   `yaml:"expect_state,omitempty"`
}

// Action kinds.
const (
	Start     = "start"
	Stop      = "stop"
	Ack       = "ack"
	Reset     = "reset"
	Grid      = "grid"
	Overspeed = "overspeed"
	Params    = "params"
	Perturb   = "perturb"
)

// Action is a single timed command in a scenario
type Action struct {
	At      float64                   `yaml:"at"`
	Do      string                    `yaml:"do"`
	Grid    *electrical.GridCondition `yaml:"grid,omitempty"`
	Speed   float64                   `yaml:"speed,omitempty"`
	Params  *config.Update            `yaml:"params,omitempty"`
	Perturb *engine.Perturbation      `yaml:"perturb,omitempty"`
}

// Load reads a scenario from a YAML file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) Validate() error {
	if !(sc.Duration > 0) {
		return dynamo.Configf("scenario.duration", "must be positive, got %g", sc.Duration)
	}
	if sc.Preset != "" {
		if _, ok := config.GetPreset(sc.Preset); !ok {
			return dynamo.Configf("scenario.preset", "unknown preset %q", sc.Preset)
		}
	}
	if sc.ExpectState != "" && !knownKind(sc.ExpectState) {
		return dynamo.Configf("scenario.expect_state", "unknown state %q", sc.ExpectState)
	}
	for i, a := range sc.Actions {
		field := fmt.Sprintf("scenario.actions[%d]", i)
		if a.At < 0 || a.At > sc.Duration {
			return dynamo.Configf(field, "time %g outside [0, %g]", a.At, sc.Duration)
		}
		switch a.Do {
		case Start, Stop, Ack, Reset:
		case Grid:
			if a.Grid == nil {
				return dynamo.Configf(field, "grid action needs a grid condition")
			}
		case Overspeed:
			if !(a.Speed > 0) {
				return dynamo.Configf(field, "overspeed action needs a positive speed")
			}
		case Params:
			if a.Params == nil {
				return dynamo.Configf(field, "params action needs params")
			}
		case Perturb:
			if a.Perturb == nil {
				return dynamo.Configf(field, "perturb action needs a perturbation")
			}
		default:
			return dynamo.Configf(field, "unknown action %q", a.Do)
		}
	}
	return nil
}

func knownKind(name string) bool {
	for k := transient.Offline; k <= transient.Fault; k++ {
		if k.String() == name {
			return true
		}
	}
	return false
}

// Transition is one system state change seen during a run.
type Transition struct {
	Time   float64               `json:"time"`
	From   transient.SystemState `json:"from"`
	To     transient.SystemState `json:"to"`
	Source transient.Source      `json:"source"`
}

type Result struct {
	Name        string             `json:"name"`
	Steps       int                `json:"steps"`
	Final       engine.Snapshot    `json:"final"`
	Metrics     map[string]float64 `json:"metrics"`
	Transitions []Transition       `json:"transitions"`
	Rejected    []string           `json:"rejected,omitempty"`
	Passed      bool               `json:"passed"`
}

// Runner executes scenarios. The zero value runs on the scenario's preset
// with logging discarded.
type Runner struct {
	Logger *slog.Logger
	// Config replaces the preset when set.
	Config *config.Config
	// Observe sees every snapshot, e.g. to record the run.
	Observe func(engine.Snapshot)
}

func (r Runner) config(sc *Scenario) config.Config {
	cfg := config.Default()
	if r.Config != nil {
		cfg = r.Config.Clone()
	} else if sc.Preset != "" {
		cfg, _ = config.GetPreset(sc.Preset)
	}
	if sc.Dt > 0 {
		cfg.Physics.TimeStep = sc.Dt
	}
	return cfg
}

// Run executes all actions of a scenario
func (r Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("scenario", sc.Name)

	e, err := engine.New(r.config(sc), engine.WithLogger(logger), engine.WithMetrics(metrics.Standard()...))
	if err != nil {
		return nil, err
	}

	actions := append([]Action(nil), sc.Actions...)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].At < actions[j].At })

	res := &Result{Name: sc.Name}
	snap := e.Snapshot()
	next := 0
	for snap.Time < sc.Duration-snap.Dt/2 {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		for next < len(actions) && actions[next].At <= snap.Time+snap.Dt/2 {
			a := actions[next]
			next++
			if err := apply(e, a); err != nil {
				logger.Warn("action rejected", "do", a.Do, "at", a.At, "error", err)
				res.Rejected = append(res.Rejected, fmt.Sprintf("t=%.2f %s: %v", a.At, a.Do, err))
			}
		}

		prev := snap.State
		snap, err = e.Step()
		if err != nil {
			res.Final, res.Steps = snap, snap.Step
			return res, err
		}
		if snap.State != prev {
			res.Transitions = append(res.Transitions, Transition{
				Time: snap.Time, From: prev, To: snap.State, Source: snap.Source,
			})
		}
		if r.Observe != nil {
			r.Observe(snap)
		}
	}

	res.Final = snap
	res.Steps = snap.Step
	res.Metrics = e.Metrics()
	res.Passed = sc.ExpectState == "" || snap.State.Kind.String() == sc.ExpectState
	return res, nil
}

func apply(e *engine.Engine, a Action) error {
	switch a.Do {
	case Start:
		return e.Start()
	case Stop:
		return e.Stop()
	case Ack:
		return e.Acknowledge()
	case Reset:
		return e.Reset()
	case Grid:
		return e.Perturb(engine.Perturbation{Grid: a.Grid})
	case Overspeed:
		speed := a.Speed
		return e.Perturb(engine.Perturbation{FlywheelSpeed: &speed})
	case Params:
		return e.UpdateParams(*a.Params)
	case Perturb:
		return e.Perturb(*a.Perturb)
	}
	return fmt.Errorf("%w: %s", dynamo.ErrInvalidCommand, a.Do)
}

// Summary is a one-line human description of a result.
func (r *Result) Summary() string {
	var b strings.Builder
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "%s %s: %d steps, final %s", status, r.Name, r.Steps, r.Final.State)
	if len(r.Rejected) > 0 {
		fmt.Fprintf(&b, ", %d rejected", len(r.Rejected))
	}
	return b.String()
}
