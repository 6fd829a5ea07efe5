package engine

import (
	"math"
	"time"
)

// AdaptiveTimeStep keeps a real-time run inside its wall-clock budget. A
// step slower than Budget halves dt down to Min; a step faster than a
// quarter of Budget doubles dt back up to Nominal.
type AdaptiveTimeStep struct {
	Nominal float64
	Min     float64
	Budget  time.Duration
}

// NewAdaptiveTimeStep budgets each step at the real time it simulates.
func NewAdaptiveTimeStep(nominal float64) *AdaptiveTimeStep {
	return &AdaptiveTimeStep{
		Nominal: nominal,
		Min:     nominal / 16,
		Budget:  time.Duration(nominal * float64(time.Second)),
	}
}

// Next returns the dt for the following step given the last step's dt and
// wall time.
func (a *AdaptiveTimeStep) Next(dt float64, wall time.Duration) float64 {
	switch {
	case wall > a.Budget && dt/2 >= a.Min:
		return dt / 2
	case wall < a.Budget/4 && dt < a.Nominal:
		return math.Min(dt*2, a.Nominal)
	}
	return dt
}
