package transient

import (
	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// Startup walks the four startup phases. Each phase has an exit condition
// and a time budget; running out of budget is a SynchronizationTimeout.
type Startup struct {
	cfg     config.StartupConfig
	elapsed float64
	primed  bool
}

func NewStartup(cfg config.StartupConfig) *Startup {
	return &Startup{cfg: cfg}
}

func (s *Startup) Configure(cfg config.StartupConfig) { s.cfg = cfg }

// Begin resets the phase clock.
func (s *Startup) Begin() {
	s.elapsed = 0
	s.primed = false
}

// Elapsed is the time spent in the current phase.
func (s *Startup) Elapsed() float64 { return s.elapsed }

func (s *Startup) budget(p Phase) float64 {
	t := s.cfg.Timeouts
	switch p {
	case Initialization:
		return t.Initialization
	case FirstInjection:
		return t.FirstInjection
	case Acceleration:
		return t.Acceleration
	}
	return t.Synchronization
}

// done reports whether phase p's exit condition holds.
func (s *Startup) done(p Phase, obs Observation) bool {
	switch p {
	case Initialization:
		return s.elapsed >= s.cfg.InitDuration && obs.ConfigValid
	case FirstInjection:
		return obs.ChainSpeed >= s.cfg.FirstInjectionSpeed
	case Acceleration:
		return obs.FlywheelSpeed >= s.cfg.SyncSpeed
	}
	return obs.Synchronized
}

// Step advances the phase clock. It returns whether the phase is complete,
// and a timeout record when the budget ran out first.
func (s *Startup) Step(p Phase, obs Observation) (bool, *dynamo.SynchronizationTimeout) {
	s.elapsed += obs.Dt
	if s.done(p, obs) {
		s.elapsed = 0
		s.primed = false
		return true, nil
	}
	if b := s.budget(p); s.elapsed > b {
		return false, &dynamo.SynchronizationTimeout{Phase: p.String(), Elapsed: s.elapsed, Budget: b}
	}
	return false, nil
}

// Commands is the startup candidate for phase p.
func (s *Startup) Commands(p Phase, normal Commands) Commands {
	c := Commands{Timing: normal.Timing}
	switch p {
	case Initialization:
		c.Inhibit = true
	case FirstInjection:
		if !s.primed {
			c.Prime = s.cfg.PrimeCount
			s.primed = true
		}
	case Synchronization:
		c.EnableSync = true
	}
	return c
}
