package control

import (
	"math"

	"github.com/san-kum/kppsim/internal/config"
)

// LoadManager drives the generator load factor toward the target power.
type LoadManager struct {
	cfg      config.LoadConfig
	maxSpeed float64
	pid      *PID
	Load     float64
}

func NewLoadManager(cfg config.Config) *LoadManager {
	l := cfg.Control.Load
	pid := NewPID(l.Kp, l.Ki, l.Kd, l.TargetPower)
	pid.Min, pid.Max, pid.Deadband = 0, 1, l.Band
	return &LoadManager{cfg: l, maxSpeed: cfg.Drivetrain.Flywheel.MaxSpeed, pid: pid}
}

func (m *LoadManager) Configure(cfg config.Config) {
	m.cfg = cfg.Control.Load
	m.maxSpeed = cfg.Drivetrain.Flywheel.MaxSpeed
	m.pid.Kp, m.pid.Ki, m.pid.Kd = m.cfg.Kp, m.cfg.Ki, m.cfg.Kd
	m.pid.Deadband = m.cfg.Band
}

// Update returns the load factor for the next step given delivered power,
// flywheel speed and a grid-support power adjustment (W).
func (m *LoadManager) Update(power, speed, adjust, dt float64) float64 {
	m.pid.Target = m.cfg.TargetPower + adjust
	u := m.pid.Compute(power, dt)

	guard := m.cfg.SpeedGuard * m.maxSpeed
	if speed > guard && m.maxSpeed > guard {
		u += (speed - guard) / (m.maxSpeed - guard)
	}

	step := m.cfg.MaxRate * dt
	u = math.Max(m.Load-step, math.Min(m.Load+step, u))
	m.Load = math.Max(0, math.Min(1, u))
	return m.Load
}

// Hold parks the manager at zero load while there is no sink.
func (m *LoadManager) Hold() {
	m.Load = 0
	m.pid.Reset()
}

// Track aligns the manager with the load actually applied after
// arbitration so the next Update ramps from there. The integral is
// preloaded for a bumpless return to closed loop.
func (m *LoadManager) Track(applied float64) {
	if math.Abs(applied-m.Load) < 1e-12 {
		return
	}
	m.Load = applied
	m.pid.Preload(applied)
}

func (m *LoadManager) clone() *LoadManager {
	out := *m
	pid := *m.pid
	out.pid = &pid
	return &out
}
