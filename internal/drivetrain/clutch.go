package drivetrain

import (
	"fmt"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

type ClutchState int

const (
	Disengaged ClutchState = iota
	Slipping
	Locked
)

var clutchNames = [...]string{"disengaged", "slipping", "locked"}

func (s ClutchState) String() string {
	if s < 0 || int(s) >= len(clutchNames) {
		return fmt.Sprintf("clutch(%d)", int(s))
	}
	return clutchNames[s]
}

func (s ClutchState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ClutchState) UnmarshalText(b []byte) error {
	for i, n := range clutchNames {
		if n == string(b) {
			*s = ClutchState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown clutch state %q", b)
}

var clutchEdges = [3][3]bool{
	Disengaged: {Slipping: true},
	Slipping:   {Disengaged: true, Locked: true},
	Locked:     {Disengaged: true, Slipping: true},
}

// OneWayClutch passes torque from the gearbox to the flywheel only. The
// engage/disengage thresholds form a hysteresis band on the speed
// differential Δω = ω_in − ω_out.
type OneWayClutch struct {
	cfg    config.ClutchConfig
	State  ClutchState
	Slip   float64
	Torque float64
	hold   bool
}

func NewClutch(cfg config.ClutchConfig) *OneWayClutch {
	return &OneWayClutch{cfg: cfg}
}

func (c *OneWayClutch) Configure(cfg config.ClutchConfig) { c.cfg = cfg }

// Engaged is true while slipping or locked.
func (c *OneWayClutch) Engaged() bool { return c.State != Disengaged }

// RequestDisengage holds the clutch open while on.
func (c *OneWayClutch) RequestDisengage(on bool) { c.hold = on }

func (c *OneWayClutch) DisengageRequested() bool { return c.hold }

func (c *OneWayClutch) set(to ClutchState) error {
	if to == c.State {
		return nil
	}
	if !clutchEdges[c.State][to] {
		return fmt.Errorf("%w: clutch %s -> %s", dynamo.ErrInvalidTransition, c.State, to)
	}
	c.State = to
	return nil
}

// Update applies the hysteresis rules for differential dw and returns the
// new state.
func (c *OneWayClutch) Update(dw float64) ClutchState {
	c.Slip = dw
	if c.hold {
		c.set(Disengaged)
		return c.State
	}
	switch c.State {
	case Disengaged:
		if dw > c.cfg.EngageThreshold {
			c.set(Slipping)
		}
	case Slipping:
		switch {
		case dw < c.cfg.DisengageThreshold:
			c.set(Disengaged)
		case dw >= -c.cfg.LockBand && dw <= c.cfg.LockBand:
			c.set(Locked)
		}
	case Locked:
		if dw < c.cfg.DisengageThreshold {
			c.set(Disengaged)
		}
	}
	return c.State
}

// release drops a locked clutch to slipping when it cannot hold the joint.
func (c *OneWayClutch) release() {
	if c.State == Locked {
		c.set(Slipping)
	}
}

func (c *OneWayClutch) Reset() {
	c.State = Disengaged
	c.Slip = 0
	c.Torque = 0
	c.hold = false
}
