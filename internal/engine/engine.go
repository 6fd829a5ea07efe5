// Package engine runs the plant one step at a time.
//
// A step works on a deep copy of every component and commits only when the
// whole step succeeds, so a physics violation leaves the last good state and
// snapshot in place. Steps and commands are serialised by one mutex;
// snapshots are published under a separate read lock so readers never wait
// on a step in progress.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/control"
	"github.com/san-kum/kppsim/internal/drivetrain"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/electrical"
	"github.com/san-kum/kppsim/internal/events"
	"github.com/san-kum/kppsim/internal/floater"
	"github.com/san-kum/kppsim/internal/losses"
	"github.com/san-kum/kppsim/internal/physics"
	"github.com/san-kum/kppsim/internal/transient"
)

// Metric folds published snapshots into one figure.
type Metric interface {
	Name() string
	Observe(s *Snapshot)
	Value() float64
	Reset()
}

// Clock supplies wall time for step timing and real-time pacing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithMetrics(ms ...Metric) Option {
	return func(e *Engine) { e.metrics = append(e.metrics, ms...) }
}

// WithRealTime paces Run so that simulated time advances at factor times
// wall time. Zero runs as fast as possible.
func WithRealTime(factor float64) Option {
	return func(e *Engine) { e.realTime = factor }
}

// WithAdaptive lets Run shrink dt when steps overrun their budget.
func WithAdaptive(a *AdaptiveTimeStep) Option {
	return func(e *Engine) { e.adaptive = a }
}

// plant is every piece of mutable component state. A step runs on a clone.
type plant struct {
	chain   physics.ChainState
	events  *events.Handler
	drive   *drivetrain.Drivetrain
	thermal *losses.Thermal
	elec    *electrical.System
	ctrl    *control.System
	trans   *transient.Controller

	step      int
	time      float64
	cmds      transient.Commands
	decision  transient.Decision
	support   control.GridSupport
	faults    []dynamo.Fault
	power     electrical.Output
	breakdown losses.Breakdown
	ledger    Ledger
}

func (p *plant) clone() *plant {
	out := *p
	out.chain = p.chain.Clone()
	out.events = p.events.Clone()
	out.drive = p.drive.Clone()
	out.thermal = p.thermal.Clone()
	out.elec = p.elec.Clone()
	out.ctrl = p.ctrl.Clone()
	out.trans = p.trans.Clone()
	out.cmds.Timing = append([]events.Command(nil), p.cmds.Timing...)
	out.faults = append([]dynamo.Fault(nil), p.faults...)
	return &out
}

type Engine struct {
	mu   sync.Mutex
	cfg  config.Config
	phys *physics.Engine
	loss *losses.Model
	p    *plant

	snapMu sync.RWMutex
	snap   Snapshot

	logger   *slog.Logger
	clock    Clock
	metrics  []Metric
	realTime float64
	adaptive *AdaptiveTimeStep
	dropped  atomic.Uint64
}

// New validates cfg and builds an Offline plant.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg.Clone(),
		logger: slog.New(slog.DiscardHandler),
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.build(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) build() error {
	phys, err := physics.New(e.cfg)
	if err != nil {
		return err
	}
	cfg := e.cfg
	p := &plant{
		chain:   physics.ChainState{Floaters: floater.Chain(cfg.Floaters, cfg.Physics.AtmosphericPressure)},
		events:  events.New(cfg, phys),
		drive:   drivetrain.New(cfg),
		thermal: losses.NewThermal(cfg.Thermal),
		elec:    electrical.New(cfg),
		ctrl:    control.New(cfg, phys.Geometry()),
		trans:   transient.New(cfg),
		cmds:    transient.Commands{Inhibit: true},
	}
	p.events.Inhibit(true)
	p.ledger.Stored = events.Stored(p.chain.Floaters)
	p.ledger.StoredStart = p.ledger.Stored

	e.phys = phys
	e.loss = losses.New(cfg)
	e.p = p
	e.publish(e.snapshot(p, phys.TimeStep(), 0))
	return nil
}

func (e *Engine) publish(s Snapshot) {
	e.snapMu.Lock()
	e.snap = s
	e.snapMu.Unlock()
}

// Snapshot returns a deep copy of the last good snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap.Clone()
}

// Ledger returns the energy audit as of the last committed step.
func (e *Engine) Ledger() Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.ledger
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

func (e *Engine) Geometry() physics.Geometry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phys.Geometry()
}

// Metrics returns the current value of every registered metric.
func (e *Engine) Metrics() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.metrics))
	for _, m := range e.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

// Dropped counts snapshots Run could not hand to a full sink.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.p.trans.Start(); err != nil {
		e.logger.Warn("command rejected", "command", "start", "state", e.p.trans.State.String())
		return err
	}
	e.logger.Info("start", "step", e.p.step)
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.p.trans.Stop(); err != nil {
		e.logger.Warn("command rejected", "command", "stop", "state", e.p.trans.State.String())
		return err
	}
	e.logger.Info("stop", "step", e.p.step)
	return nil
}

// Acknowledge arms the emergency exit and clears a latched converter trip.
// The plant leaves Emergency only if the next step finds it healthy.
func (e *Engine) Acknowledge() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.p.trans.Acknowledge(); err != nil {
		e.logger.Warn("command rejected", "command", "ack", "state", e.p.trans.State.String())
		return err
	}
	e.p.elec.Converter.Acknowledge()
	e.logger.Info("acknowledge", "step", e.p.step)
	return nil
}

// Reset returns the plant to its freshly constructed state under the
// current configuration.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.build(); err != nil {
		return err
	}
	for _, m := range e.metrics {
		m.Reset()
	}
	e.logger.Info("reset")
	return nil
}

// UpdateParams applies a partial parameter change between steps. The whole
// resulting configuration is validated first; on error nothing changes.
func (e *Engine) UpdateParams(u config.Update) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := u.Apply(e.cfg)
	if err != nil {
		e.logger.Warn("update rejected", "error", err)
		return err
	}
	return e.configure(next)
}

// Reload swaps in a full configuration, such as a re-read config file. Only
// runtime-tunable fields may differ.
func (e *Engine) Reload(next config.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := config.Diff(e.cfg, next)
	if err != nil {
		e.logger.Warn("reload rejected", "error", err)
		return err
	}
	if u.Empty() {
		return nil
	}
	next, err = u.Apply(e.cfg)
	if err != nil {
		return err
	}
	return e.configure(next)
}

func (e *Engine) configure(next config.Config) error {
	if next.Physics.TimeStep != e.cfg.Physics.TimeStep {
		if err := e.phys.SetTimeStep(next.Physics.TimeStep); err != nil {
			return err
		}
	}
	p := e.p
	p.events.Configure(next)
	p.drive.Configure(next)
	p.ctrl.Configure(next)
	p.trans.Configure(next)
	e.cfg = next
	e.logger.Info("parameters updated", "step", p.step)
	return nil
}

// SetTimeStep stages dt for the next step.
func (e *Engine) SetTimeStep(dt float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setTimeStep(dt)
}

func (e *Engine) setTimeStep(dt float64) error {
	if err := e.phys.SetTimeStep(dt); err != nil {
		return err
	}
	e.cfg.Physics.TimeStep = dt
	return nil
}

// Perturbation injects an external disturbance between steps. Nil fields
// are left alone.
type Perturbation struct {
	Grid            *electrical.GridCondition `json:"grid,omitempty" yaml:"grid,omitempty"`
	FlywheelSpeed   *float64                  `json:"flywheel_speed,omitempty" yaml:"flywheel_speed,omitempty"`
	FloaterPressure map[int]float64           `json:"floater_pressure,omitempty" yaml:"floater_pressure,omitempty"`
	Temperatures    map[string]float64        `json:"temperatures,omitempty" yaml:"temperatures,omitempty"`
}

func (pt Perturbation) validate(p *plant) error {
	if g := pt.Grid; g != nil {
		if !dynamo.Finite(g.VoltagePU, g.Frequency) || g.VoltagePU < 0 || g.Frequency < 0 {
			return fmt.Errorf("%w: grid condition %+v", dynamo.ErrInvalidCommand, *g)
		}
	}
	if w := pt.FlywheelSpeed; w != nil && !dynamo.Finite(*w) {
		return fmt.Errorf("%w: flywheel speed %g", dynamo.ErrInvalidCommand, *w)
	}
	for id, pr := range pt.FloaterPressure {
		if id < 0 || id >= len(p.chain.Floaters) {
			return fmt.Errorf("%w: no floater %d", dynamo.ErrInvalidCommand, id)
		}
		if !dynamo.Finite(pr) || pr < 0 {
			return fmt.Errorf("%w: floater %d pressure %g", dynamo.ErrInvalidCommand, id, pr)
		}
	}
	for name, t := range pt.Temperatures {
		if !dynamo.Finite(t) {
			return fmt.Errorf("%w: %s temperature %g", dynamo.ErrInvalidCommand, name, t)
		}
	}
	return nil
}

// Perturb applies pt whole or not at all.
func (e *Engine) Perturb(pt Perturbation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.p
	if err := pt.validate(p); err != nil {
		return err
	}
	if pt.Grid != nil {
		p.elec.Grid.Condition = *pt.Grid
	}
	if pt.FlywheelSpeed != nil {
		before := p.drive.KineticEnergy()
		p.drive.SetFlywheelSpeed(*pt.FlywheelSpeed)
		p.ledger.External += p.drive.KineticEnergy() - before
		p.ledger.Kinetic += p.drive.KineticEnergy() - before
	}
	for id, pr := range pt.FloaterPressure {
		p.events.OverridePressure(id, pr)
	}
	for name, t := range pt.Temperatures {
		p.thermal.SetTemperature(name, t)
	}
	e.logger.Info("perturbation", "step", p.step, "perturbation", fmt.Sprintf("%+v", pt))
	return nil
}

func maxPressure(fs []floater.Floater) float64 {
	top := math.Inf(-1)
	for i := range fs {
		top = math.Max(top, fs[i].Pressure)
	}
	return top
}
