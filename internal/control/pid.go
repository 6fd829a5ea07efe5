package control

import "math"

// PID is a discrete PID controller on a scalar measurement. The output and
// the integral term are both clamped to [Min, Max], and the integral holds
// while the error is inside Deadband.
type PID struct {
	Kp       float64
	Ki       float64
	Kd       float64
	Target   float64
	Min      float64
	Max      float64
	Deadband float64
	integral float64
	prevErr  float64
	first    bool
}

func NewPID(kp, ki, kd, target float64) *PID {
	return &PID{
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		Target: target,
		Min:    math.Inf(-1),
		Max:    math.Inf(1),
		first:  true,
	}
}

func (p *PID) clamp(u float64) float64 {
	return math.Max(p.Min, math.Min(p.Max, u))
}

// Compute returns the control output for measured after dt seconds.
func (p *PID) Compute(measured, dt float64) float64 {
	err := p.Target - measured

	if p.first || dt <= 0 {
		p.prevErr = err
		p.first = false
		return p.clamp(p.Kp*err + p.Ki*p.integral)
	}

	derivative := (err - p.prevErr) / dt
	p.prevErr = err

	if math.Abs(err) > p.Deadband {
		p.integral += err * dt
		if p.Ki != 0 {
			p.integral = p.clamp(p.Ki*p.integral) / p.Ki
		}
	}
	return p.clamp(p.Kp*err + p.Ki*p.integral + p.Kd*derivative)
}

// Preload sets the integral so that a zero-error output equals u.
func (p *PID) Preload(u float64) {
	if p.Ki != 0 {
		p.integral = u / p.Ki
	}
}

// Reset clears integral and derivative state
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.first = true
}
