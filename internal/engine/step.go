package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/control"
	"github.com/san-kum/kppsim/internal/drivetrain"
	"github.com/san-kum/kppsim/internal/dynamo"
	"github.com/san-kum/kppsim/internal/electrical"
	"github.com/san-kum/kppsim/internal/events"
	"github.com/san-kum/kppsim/internal/losses"
	"github.com/san-kum/kppsim/internal/transient"
)

// Step advances the plant by one dt. On error the plant is left exactly as
// it was and the last good snapshot is returned with a *dynamo.SimulationError.
func (e *Engine) Step() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step()
}

func (e *Engine) step() (Snapshot, error) {
	began := e.clock.Now()
	dt := e.phys.Latch()
	w := e.p.clone()

	if err := e.advance(w, dt); err != nil {
		n, t := e.p.step+1, e.p.time
		var pv *dynamo.PhysicsViolation
		if errors.As(err, &pv) {
			pv.Step, pv.Time = n, t
		}
		e.logger.Error("step aborted", "step", n, "time", t, "error", err)
		return e.Snapshot(), &dynamo.SimulationError{Step: n, Time: t, Wrapped: err}
	}

	e.report(e.p, w)
	e.p = w
	snap := e.snapshot(w, dt, e.clock.Now().Sub(began))
	for _, m := range e.metrics {
		m.Observe(&snap)
	}
	e.publish(snap)
	return snap.Clone(), nil
}

// advance runs the step stages in order on the working copy p: events,
// forces, drivetrain and chain, electrical, losses and thermal, control,
// transient arbitration.
func (e *Engine) advance(p *plant, dt float64) error {
	th := p.thermal
	mult := drivetrain.Multipliers{
		Sprocket: th.Multiplier(config.Sprocket),
		Gearbox:  th.Multiplier(config.Gearbox),
		Clutch:   th.Multiplier(config.Clutch),
	}
	derate := electrical.Derates{
		Generator:        th.Multiplier(config.Generator),
		PowerElectronics: th.Multiplier(config.PowerElectronics),
	}

	v0 := p.chain.Velocity
	ev := p.events.Process(&p.chain, dt)
	for _, err := range ev.Rejected {
		e.logger.Warn("floater transition rejected", "step", p.step+1, "error", err)
	}

	f, err := e.phys.Forces(p.chain)
	if err != nil {
		return err
	}
	mass := e.phys.TotalMass(f)

	w0 := p.drive.Flywheel.Speed
	loadTorque := p.elec.CounterTorque(w0, p.cmds.Load)
	chainLoss := e.loss.ChainForce(v0, p.drive.Sprocket.Torque, th.Temperature(config.Sprocket))
	fly := e.loss.Flywheel(w0, p.drive.Clutch.Torque, th.Temperature(config.Flywheel), th.Multiplier(config.Flywheel))

	res, err := p.drive.Step(drivetrain.Input{
		Force:      f.Total,
		Mass:       mass,
		Velocity:   v0,
		ChainLoss:  chainLoss,
		LoadTorque: loadTorque,
		LossTorque: fly.Total(),
		Derate:     mult,
		Dt:         dt,
	})
	if err != nil {
		return err
	}
	if err := e.phys.CheckNewton(mass, res.Accel, f.Total-chainLoss-res.Reaction); err != nil {
		return err
	}
	p.chain.SetVelocity(res.Velocity)
	vmid, err := e.phys.Advance(&p.chain, res.Accel, dt)
	if err != nil {
		return err
	}

	out, elimits := p.elec.Step(res.Flows.Generator, res.Omega, dt, derate)
	p.power = out

	b := breakdown(f.Drag, vmid, dt, res.Flows, fly)
	g := p.elec.Generator
	b.ElectricalLosses = e.loss.Allocate(out.GeneratorLoss, out.ConverterLoss, g.Current, g.Frequency, g.Voltage, th.Temperature(config.Generator))
	tlimits := th.Step(b.Heat(), dt)
	p.breakdown = b

	led := &p.ledger
	led.Pneumatic = p.events.Ledger()
	led.Buoyant += f.Lift * vmid * dt
	led.Exchange += 0.5 * (ev.MassAfter - ev.MassBefore) * v0 * v0
	led.Electrical += out.Delivered * dt
	led.Losses.Accumulate(b, dt)
	v1 := p.chain.Velocity
	led.Kinetic = 0.5*mass*v1*v1 + p.drive.KineticEnergy()
	led.Stored = events.Stored(p.chain.Floaters)

	if !dynamo.Finite(led.In(), led.Out()) {
		return &dynamo.PhysicsViolation{Quantity: "energy.ledger", Value: led.Out()}
	}

	limits := make([]dynamo.LimitExceeded, 0, len(ev.Limits)+len(res.Limits)+len(elimits)+len(tlimits))
	limits = append(limits, ev.Limits...)
	limits = append(limits, res.Limits...)
	limits = append(limits, elimits...)
	limits = append(limits, tlimits...)

	p.step++
	p.time += dt

	wheel := p.drive.Flywheel.Speed
	pmax := maxPressure(p.chain.Floaters)
	tmax := math.Inf(-1)
	signals := []control.Signal{
		{Name: "flywheel.speed", Component: config.Flywheel, Value: wheel, Limit: e.cfg.Drivetrain.Flywheel.MaxSpeed},
		{Name: "floater.pressure", Component: "floaters", Value: pmax, Limit: e.cfg.Floaters.MaxPressure},
	}
	for _, name := range config.ThermalComponents {
		t := th.Temperature(name)
		tmax = math.Max(tmax, t)
		signals = append(signals, control.Signal{
			Name:      name + ".temperature",
			Component: name,
			Value:     t,
			Limit:     e.cfg.Thermal.Components[name].Max,
		})
	}

	cout := p.ctrl.Step(control.Input{
		Time:          p.time,
		Dt:            dt,
		Chain:         &p.chain,
		FlywheelSpeed: wheel,
		Power:         out.Delivered,
		Sink:          p.elec.Sink(),
		Grid:          p.elec.Grid.Condition,
		Signals:       signals,
		Limits:        limits,
		Residual:      led.Residual(),
	})
	p.support = cout.Support

	d := p.trans.Step(transient.Observation{
		Time:           p.time,
		Dt:             dt,
		ChainSpeed:     v1,
		FlywheelSpeed:  wheel,
		MaxPressure:    pmax,
		MaxTemperature: tmax,
		Synchronized:   p.elec.Grid.Synchronized,
		Tripped:        p.elec.Converter.Tripped,
		ConfigValid:    true,
		Grid:           p.elec.Grid.Condition,
		Limits:         limits,
		Normal: transient.Commands{
			Load:       cout.Load,
			EnableSync: true,
			Timing:     cout.Commands,
		},
		GridSupport: cout.Support.Mode != control.GridNormal,
	})
	p.decision = d
	p.ctrl.Track(d.Commands.Load)

	p.faults = cout.Faults
	if d.Timeout != nil {
		p.faults = append(p.faults, dynamo.Fault{
			Code:      "startup.timeout",
			Component: "startup",
			Check:     dynamo.CheckTimeout,
			Severity:  dynamo.High,
			Message:   d.Timeout.Error(),
			Value:     d.Timeout.Elapsed,
			Limit:     d.Timeout.Budget,
			Time:      p.time,
		})
		dynamo.SortFaults(p.faults)
	}

	e.apply(p, d.Commands)
	return nil
}

// apply hands the winning command set to the components for the next step.
func (e *Engine) apply(p *plant, c transient.Commands) {
	p.cmds = c
	p.events.Apply(c.Timing)
	p.events.Inhibit(c.Inhibit)
	p.events.VentAll(c.VentAll)
	if c.Prime > 0 {
		p.events.Prime(c.Prime)
	}
	p.drive.Clutch.RequestDisengage(c.Disengage)
	p.elec.Grid.EnableSync(c.EnableSync)
}

// breakdown converts the step's drivetrain flows into stage losses in
// watts. Flywheel drag is split across its mechanisms by torque share.
func breakdown(drag, vmid, dt float64, fl drivetrain.Flows, fly losses.FlywheelTorques) losses.Breakdown {
	b := losses.Breakdown{
		Drag:          -drag * vmid,
		ChainFriction: fl.ChainLoss / dt,
		Sprocket:      fl.Sprocket / dt,
		Mesh:          fl.MeshTotal() / dt,
		ClutchSlip:    fl.Slip / dt,
	}
	if tot := fly.Total(); tot != 0 {
		pw := fl.Flywheel / dt
		b.Bearing = pw * fly.Bearing / tot
		b.Seal = pw * fly.Seal / tot
		b.Windage = pw * fly.Windage / tot
	}
	return b
}

// report logs what changed between the committed state and the step just
// taken.
func (e *Engine) report(before, after *plant) {
	d := after.decision
	if d.Changed() {
		e.logger.Info("state change",
			"step", after.step,
			"from", d.From.String(),
			"to", d.To.String(),
			"source", d.Source.String(),
			"reason", d.Reason,
		)
	}
	if d.Rejected != nil {
		e.logger.Warn("transition rejected", "step", after.step, "error", d.Rejected)
	}
	seen := make(map[string]bool, len(before.faults))
	for _, f := range before.faults {
		seen[f.Code] = true
	}
	for _, f := range after.faults {
		if seen[f.Code] {
			continue
		}
		e.logger.Log(context.Background(), slogLevel(f.Severity), "fault", "step", after.step, "fault", f.Code, "severity", f.Severity.String(), "message", f.Message)
	}
}

func slogLevel(s dynamo.Severity) slog.Level {
	switch {
	case s >= dynamo.High:
		return slog.LevelError
	case s >= dynamo.Medium:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
