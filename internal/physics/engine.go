// Package physics computes floater forces and integrates the chain.
//
// The chain is rigid: every floater advances by the same angle each step, so
// the spacing fixed at construction is preserved. Chain acceleration is
// solved by the caller together with the drivetrain; this package supplies
// the force side ([Engine.Forces]) and the explicit integration step
// ([Engine.Advance]).
package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/floater"
)

// ChainState is the shared chain scalar state plus the floaters it carries.
type ChainState struct {
	Velocity     float64 // m/s along the loop
	Position     float64 // cumulative travel, m
	Acceleration float64
	Floaters     []floater.Floater
}

// Clone returns a deep copy.
func (c ChainState) Clone() ChainState {
	out := c
	out.Floaters = append([]floater.Floater(nil), c.Floaters...)
	return out
}

// FloaterForce is the force breakdown for one floater, along the chain.
type FloaterForce struct {
	ID         int     `json:"id"`
	Buoyancy   float64 `json:"buoyancy"`
	Weight     float64 `json:"weight"`
	Drag       float64 `json:"drag"`
	Tangential float64 `json:"tangential"`
	Submerged  float64 `json:"submerged"`
	Ascending  bool    `json:"ascending"`
}

type Forces struct {
	PerFloater  []FloaterForce
	Lift        float64 // Σ (F_buoy − F_weight)·dh/ds
	Drag        float64
	Total       float64
	FloaterMass float64
}

type Engine struct {
	cfg     config.PhysicsConfig
	val     config.ValidationConfig
	geo     Geometry
	extent  float64
	dt      float64
	pending float64
}

// New validates the physical constants and builds an engine.
func New(cfg config.Config) (*Engine, error) {
	p := cfg.Physics
	switch {
	case !(p.RhoWater > 0):
		return nil, dynamo.Configf("physics.rho_water", "must be positive, got %g", p.RhoWater)
	case !(p.Gravity > 0):
		return nil, dynamo.Configf("physics.gravity", "must be positive, got %g", p.Gravity)
	case !(p.TimeStep > 0):
		return nil, dynamo.Configf("physics.time_step", "must be positive, got %g", p.TimeStep)
	case !(cfg.Floaters.Volume > 0):
		return nil, dynamo.Configf("floaters.volume", "must be positive, got %g", cfg.Floaters.Volume)
	}
	return &Engine{
		cfg:    p,
		val:    cfg.Validation,
		geo:    NewGeometry(p, cfg.Drivetrain.SprocketRadius),
		extent: cfg.Floaters.Volume / cfg.Floaters.Area,
		dt:     p.TimeStep,
	}, nil
}

func (e *Engine) Geometry() Geometry { return e.geo }

// TimeStep is the dt used by the current or next step.
func (e *Engine) TimeStep() float64 { return e.dt }

// SetTimeStep stages a new dt. It takes effect at the next Latch, so a
// step already in progress keeps its dt.
func (e *Engine) SetTimeStep(dt float64) error {
	if !dynamo.Finite(dt) || dt <= 0 {
		return dynamo.Configf("physics.time_step", "must be positive, got %g", dt)
	}
	e.pending = dt
	return nil
}

// Latch applies a staged dt and returns the dt for the step about to run.
func (e *Engine) Latch() float64 {
	if e.pending > 0 {
		e.dt = e.pending
		e.pending = 0
	}
	return e.dt
}

// AbsolutePressure is the hydrostatic pressure at the floater's angle.
func (e *Engine) AbsolutePressure(theta float64) float64 {
	return e.cfg.AtmosphericPressure + e.cfg.RhoWater*e.cfg.Gravity*e.geo.Depth(theta)
}

// GaugePressure excludes the atmosphere.
func (e *Engine) GaugePressure(theta float64) float64 {
	return e.cfg.RhoWater * e.cfg.Gravity * e.geo.Depth(theta)
}

// Forces computes per-floater and total tangential forces at the chain's
// current velocity.
func (e *Engine) Forces(c ChainState) (Forces, error) {
	rho, g := e.cfg.RhoWater, e.cfg.Gravity
	v := c.Velocity
	out := Forces{PerFloater: make([]FloaterForce, len(c.Floaters))}

	for i := range c.Floaters {
		fl := &c.Floaters[i]
		if err := fl.Validate(rho); err != nil {
			return Forces{}, err
		}
		m := fl.EffectiveMass(rho)
		sub := e.geo.Submerged(fl.Angle, e.extent)
		slope := e.geo.Slope(fl.Angle)

		buoy := rho * fl.Volume * sub * g
		weight := m * g
		drag := 0.5 * rho * fl.DragCoeff * fl.Area * v * v * dynamo.Sign(-v) * sub
		lift := (buoy - weight) * slope

		out.PerFloater[i] = FloaterForce{
			ID:         fl.ID,
			Buoyancy:   buoy,
			Weight:     weight,
			Drag:       drag,
			Tangential: lift + drag,
			Submerged:  sub,
			Ascending:  e.geo.Ascending(fl.Angle, v),
		}
		out.Lift += lift
		out.Drag += drag
		out.FloaterMass += m
	}
	out.Total = out.Lift + out.Drag

	if !dynamo.Finite(out.Lift, out.Drag, out.Total) {
		return Forces{}, &dynamo.PhysicsViolation{Quantity: "chain.force", Value: out.Total}
	}
	return out, nil
}

// CheckNewton compares M·a with the net force the chain was integrated
// under, within Validation.ForceTolerance.
func (e *Engine) CheckNewton(mass, accel, net float64) error {
	r := mass*accel - net
	tol := e.val.ForceTolerance * math.Max(1, math.Abs(net))
	if !dynamo.Finite(r) || math.Abs(r) > tol {
		return &dynamo.PhysicsViolation{Quantity: "chain.force_balance", Value: r}
	}
	return nil
}

// TotalMass is the translating mass of chain and floaters.
func (e *Engine) TotalMass(f Forces) float64 {
	return e.cfg.ChainMass + f.FloaterMass
}

// Advance integrates the chain explicitly over dt with acceleration a and
// returns the mean velocity over the step. Displacement uses the mean
// velocity so that ½M(v₁²−v₀²) equals M·a·v̄·dt exactly.
func (e *Engine) Advance(c *ChainState, a, dt float64) (float64, error) {
	if !dynamo.Finite(a) || math.Abs(a) > e.val.StabilityThreshold {
		return 0, &dynamo.PhysicsViolation{Quantity: "chain.acceleration", Value: a}
	}
	v0 := c.Velocity
	v1 := v0 + a*dt
	vmid := (v0 + v1) / 2
	if !dynamo.Finite(v1) {
		return 0, &dynamo.PhysicsViolation{Quantity: "chain.velocity", Value: v1}
	}
	ds := vmid * dt
	dtheta := e.geo.AngleStep(ds)
	for i := range c.Floaters {
		c.Floaters[i].Angle = dynamo.WrapAngle(c.Floaters[i].Angle + dtheta)
	}
	c.Velocity = v1
	c.Position += ds
	c.Acceleration = a
	return vmid, nil
}

// SetVelocity overwrites the chain velocity, used when the clutch locks
// and the chain and flywheel are brought to a common speed.
func (c *ChainState) SetVelocity(v float64) {
	c.Velocity = v
}

func (f FloaterForce) String() string {
	return fmt.Sprintf("floater %d: buoy=%.1f weight=%.1f drag=%.1f net=%.1f", f.ID, f.Buoyancy, f.Weight, f.Drag, f.Tangential)
}
