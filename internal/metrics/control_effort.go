package metrics

import (
	"math"

	"github.com/san-kum/kppsim/internal/engine"
)

// ControlEffort is the mean absolute change of the load factor per step.
type ControlEffort struct {
	name    string
	last    float64
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(s *engine.Snapshot) {
	c.sum += math.Abs(s.LoadFactor - c.last)
	c.last = s.LoadFactor
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.last = 0
	c.sum = 0
	c.samples = 0
}
