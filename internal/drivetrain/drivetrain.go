// Package drivetrain couples the floater chain to the flywheel through the
// sprocket, gearbox and one-way clutch.
//
// The chain and flywheel are integrated together. While the clutch is locked
// they move as one body whose flywheel inertia is reflected through the gear
// ratio. While it slips, the clutch carries at most its torque capacity and
// the two sides are integrated separately. Every energy flow over the step
// is reported in [Flows], evaluated at the mid-step speeds so that the flows
// and the kinetic energy changes balance exactly.
package drivetrain

import (
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// Multipliers are the thermal derates from the previous step.
type Multipliers struct {
	Sprocket float64
	Gearbox  float64
	Clutch   float64
}

// Nominal is no derating.
var Nominal = Multipliers{Sprocket: 1, Gearbox: 1, Clutch: 1}

type Input struct {
	Force      float64 // Σ floater tangential force, N
	Mass       float64 // chain plus floaters, kg
	Velocity   float64 // chain velocity at step start
	ChainLoss  float64 // friction force against the chain, signed with the motion
	LoadTorque float64 // generator counter torque
	LossTorque float64 // flywheel-side friction torque, signed with ω
	Derate     Multipliers
	Dt         float64
}

// Flows are the energies moved over one step, in joules.
type Flows struct {
	Chain     float64   `json:"chain"`
	ChainLoss float64   `json:"chain_loss"`
	Sprocket  float64   `json:"sprocket"`
	Mesh      []float64 `json:"mesh"`
	Slip      float64   `json:"slip"`
	Flywheel  float64   `json:"flywheel"`
	Generator float64   `json:"generator"`
}

// MeshTotal sums the gear stage losses.
func (f Flows) MeshTotal() float64 {
	var s float64
	for _, m := range f.Mesh {
		s += m
	}
	return s
}

type Result struct {
	Accel    float64
	Velocity float64 // chain velocity the step starts from, after any lock-in
	Omega    float64 // mean flywheel speed over the step
	Reaction float64 // clutch reaction on the chain, N
	Flows    Flows
	Limits   []dynamo.LimitExceeded
}

type Drivetrain struct {
	cfg       config.DrivetrainConfig
	slipCoeff float64
	Sprocket  Sprocket
	Gearbox   *Gearbox
	Clutch    *OneWayClutch
	Flywheel  Flywheel
}

func New(cfg config.Config) *Drivetrain {
	d := cfg.Drivetrain
	return &Drivetrain{
		cfg:       d,
		slipCoeff: cfg.Losses.ClutchSlipCoeff,
		Sprocket:  Sprocket{Radius: d.SprocketRadius, Efficiency: d.SprocketEfficiency},
		Gearbox:   NewGearbox(d.Stages, cfg.Losses.MeshLightLoad),
		Clutch:    NewClutch(d.Clutch),
		Flywheel:  Flywheel{Inertia: d.Flywheel.Inertia, MaxSpeed: d.Flywheel.MaxSpeed},
	}
}

// Configure applies runtime-tunable parameters (clutch thresholds).
func (d *Drivetrain) Configure(cfg config.Config) {
	d.cfg.Clutch = cfg.Drivetrain.Clutch
	d.Clutch.Configure(cfg.Drivetrain.Clutch)
}

// Clone deep-copies the drivetrain state for a staged step.
func (d *Drivetrain) Clone() *Drivetrain {
	out := *d
	out.Gearbox = d.Gearbox.clone()
	cl := *d.Clutch
	out.Clutch = &cl
	return &out
}

func (d *Drivetrain) Reset() {
	d.Sprocket.Torque = 0
	d.Sprocket.Speed = 0
	d.Gearbox.Reset()
	d.Clutch.Reset()
	d.Flywheel.Speed = 0
}

// Ratio is the chain-to-flywheel speed ratio G/r, rad/s per m/s.
func (d *Drivetrain) Ratio() float64 {
	return d.Gearbox.Ratio() / d.Sprocket.Radius
}

// Step advances the flywheel and returns the chain acceleration for the
// caller to integrate. The chain must be integrated from Result.Velocity.
func (d *Drivetrain) Step(in Input) (Result, error) {
	dt := in.Dt
	M := in.Mass
	I := d.Flywheel.Inertia
	k := d.slipCoeff
	gr := d.Ratio()

	etaS := d.Sprocket.Efficiency * in.Derate.Sprocket
	etaG := d.Gearbox.Efficiency(in.Derate.Gearbox)
	eta := etaS * etaG
	K := gr / eta // chain force per unit clutch torque

	capClutch := d.cfg.Clutch.TorqueCapacity * in.Derate.Clutch
	capGear := d.Gearbox.Capacity(in.Derate.Gearbox)
	capacity := math.Min(capClutch, capGear)

	v0, w0 := in.Velocity, d.Flywheel.Speed
	res := Result{Velocity: v0}

	if d.Clutch.Update(v0*gr-w0) == Locked {
		// bring both sides to a common speed with an impulse through the clutch
		j := (v0*gr - w0) / (K*gr/M + 1/I)
		v1 := v0 - K*j/M
		w1 := w0 + j/I
		before := 0.5*M*v0*v0 + 0.5*I*w0*w0
		after := 0.5*M*v1*v1 + 0.5*I*w1*w1
		res.Flows.Slip += before - after
		v0, w0 = v1, w1
		res.Velocity = v1
	}

	fnet := in.Force - in.ChainLoss
	tr := in.LoadTorque + in.LossTorque

	// drag is the input-side torque per unit of transmitted torque. A
	// slipping clutch loses k·|Δω|·τ on top of the slip itself.
	drag := 1.0
	var a, wdot, tau float64
	switch d.Clutch.State {
	case Locked:
		a = (fnet - K*tr) / (M + K*I*gr)
		tau = I*gr*a + tr
		switch {
		case tau < 0:
			d.Clutch.release()
			tau = 0
		case tau > capacity:
			d.Clutch.release()
			tau = capacity
		default:
			wdot = gr * a
		}
		if d.Clutch.State != Locked {
			a = (fnet - K*tau) / M
			wdot = (tau - tr) / I
		}
	case Slipping:
		win := v0 * gr
		dw := win - w0
		if win > 0 {
			drag += k * math.Abs(dw) / win
		}
		if dw > 0 {
			// torque that closes the gap by the end of the step
			closing := (dw/dt + gr*fnet/M + tr/I) / (gr*K*drag/M + 1/I)
			tau = dynamo.Clamp(closing, 0, math.Min(capClutch, capGear/drag))
		}
		a = (fnet - K*drag*tau) / M
		wdot = (tau - tr) / I
	default:
		a = fnet / M
		wdot = -tr / I
	}

	if !dynamo.Finite(a, wdot, tau) {
		return Result{}, &dynamo.PhysicsViolation{Quantity: "drivetrain.acceleration", Value: a}
	}

	v1 := v0 + a*dt
	vmid := (v0 + v1) / 2
	w1 := w0 + wdot*dt
	wmid := (w0 + w1) / 2
	winMid := vmid * gr

	res.Accel = a
	res.Omega = wmid
	res.Reaction = K * drag * tau
	d.Flywheel.Speed = w1
	d.Clutch.Torque = tau

	tin := drag * tau
	chain := K * tin * vmid * dt
	mesh, limits := d.Gearbox.Propagate(tin, chain*etaS, in.Derate.Gearbox)
	res.Flows.Chain = chain
	res.Flows.ChainLoss = in.ChainLoss * vmid * dt
	res.Flows.Sprocket = chain * (1 - etaS)
	res.Flows.Mesh = mesh
	res.Flows.Slip += tin*winMid*dt - tau*wmid*dt
	res.Flows.Flywheel = in.LossTorque * wmid * dt
	res.Flows.Generator = in.LoadTorque * wmid * dt

	d.Sprocket.Torque = tin * d.Gearbox.Ratio() / etaG
	d.Sprocket.Speed = v1 / d.Sprocket.Radius

	if tin >= capGear*(1-1e-9) {
		res.Limits = append(res.Limits, limits...)
	}
	if rec := d.Flywheel.Check(); rec != nil {
		res.Limits = append(res.Limits, *rec)
	}
	return res, nil
}

// KineticEnergy of the flywheel.
func (d *Drivetrain) KineticEnergy() float64 {
	return d.Flywheel.StoredEnergy()
}

// SetFlywheelSpeed overrides ω. The clutch sees the new differential on the
// next step.
func (d *Drivetrain) SetFlywheelSpeed(w float64) {
	d.Flywheel.Speed = w
}
