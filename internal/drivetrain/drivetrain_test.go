package drivetrain

import (
	"math"
	"math/rand"
	"testing"

	"github.com/san-kum/kppsim/internal/config"
)

func TestClutchHysteresis(t *testing.T) {
	cfg := config.Default().Drivetrain.Clutch
	if !(cfg.DisengageThreshold < cfg.EngageThreshold) {
		t.Fatal("disengage threshold must be strictly below engage threshold")
	}

	c := NewClutch(cfg)
	rng := rand.New(rand.NewSource(7))
	dw := 0.0
	for i := 0; i < 20000; i++ {
		dw += rng.NormFloat64() * 0.1
		dw = math.Max(-2, math.Min(2, dw))

		before := c.State
		after := c.Update(dw)

		if before != Disengaged && after == Disengaged && dw >= cfg.DisengageThreshold {
			t.Fatalf("step %d: disengaged at Δω=%f above threshold %f", i, dw, cfg.DisengageThreshold)
		}
		if before == Disengaged && after != Disengaged && dw <= cfg.EngageThreshold {
			t.Fatalf("step %d: engaged at Δω=%f below threshold %f", i, dw, cfg.EngageThreshold)
		}
		if before == Disengaged && after == Locked {
			t.Fatalf("step %d: locked without slipping first", i)
		}
	}
}

func TestClutchInsideBandHoldsState(t *testing.T) {
	cfg := config.Default().Drivetrain.Clutch
	c := NewClutch(cfg)

	mid := (cfg.EngageThreshold + cfg.DisengageThreshold) / 2
	c.Update(mid)
	if c.Engaged() {
		t.Fatal("disengaged clutch should not engage inside the band")
	}
	c.Update(cfg.EngageThreshold + 0.1)
	if !c.Engaged() {
		t.Fatal("expected engagement above threshold")
	}
	c.Update(mid)
	if !c.Engaged() {
		t.Error("engaged clutch should hold inside the band")
	}
	c.Update(cfg.DisengageThreshold - 0.01)
	if c.Engaged() {
		t.Error("expected disengagement below threshold")
	}
}

func TestClutchDisengageRequest(t *testing.T) {
	c := NewClutch(config.Default().Drivetrain.Clutch)
	c.Update(1)
	c.Update(0)
	if c.State != Locked {
		t.Fatalf("expected locked, got %s", c.State)
	}
	c.RequestDisengage(true)
	for _, dw := range []float64{0, 1, 5} {
		if c.Update(dw) != Disengaged {
			t.Fatalf("request should hold the clutch open at Δω=%f", dw)
		}
	}
	c.RequestDisengage(false)
	if c.Update(1) != Slipping {
		t.Error("expected re-engagement after the request clears")
	}
}

func TestGearbox(t *testing.T) {
	cfg := config.Lossless()
	g := NewGearbox(cfg.Drivetrain.Stages, cfg.Losses.MeshLightLoad)

	if g.Ratio() != 64 {
		t.Errorf("expected ratio 64, got %f", g.Ratio())
	}
	if g.Efficiency(1) != 1 {
		t.Errorf("expected unit efficiency, got %f", g.Efficiency(1))
	}
	if c := g.Capacity(1); math.Abs(c-4000) > 1e-9 {
		t.Errorf("expected capacity 4000 (last stage), got %f", c)
	}

	lossy := config.Default()
	g = NewGearbox(lossy.Drivetrain.Stages, lossy.Losses.MeshLightLoad)
	if e := g.Efficiency(1); e >= math.Pow(0.98, 3) {
		t.Errorf("light load should cost mesh efficiency, got %f", e)
	}
	if g.Efficiency(0.8) >= g.Efficiency(1) {
		t.Error("thermal derate should lower efficiency")
	}
}

func step(t *testing.T, d *Drivetrain, in *Input) Result {
	t.Helper()
	res, err := d.Step(*in)
	if err != nil {
		t.Fatal(err)
	}
	in.Velocity = res.Velocity + res.Accel*in.Dt
	return res
}

func TestStepEnergyBalance(t *testing.T) {
	for _, name := range []string{"lossless", "reference"} {
		t.Run(name, func(t *testing.T) {
			cfg, _ := config.GetPreset(name)
			d := New(cfg)
			in := Input{
				Force:      20000,
				Mass:       3000,
				ChainLoss:  150,
				LoadTorque: 40,
				LossTorque: 2,
				Derate:     Nominal,
				Dt:         0.01,
			}
			if name == "lossless" {
				in.ChainLoss, in.LossTorque = 0, 0
			}
			in.Velocity = 1
			d.SetFlywheelSpeed(in.Velocity * d.Ratio())

			ke := func(v float64) float64 {
				return 0.5*in.Mass*v*v + d.KineticEnergy()
			}
			start := ke(in.Velocity)
			var work, out float64
			for i := 0; i < 500; i++ {
				res := step(t, d, &in)
				vmid := (res.Velocity + in.Velocity) / 2
				work += in.Force * vmid * in.Dt
				f := res.Flows
				out += f.ChainLoss + f.Sprocket + f.MeshTotal() + f.Slip + f.Flywheel + f.Generator
			}
			dke := ke(in.Velocity) - start
			if rel := math.Abs(work-out-dke) / work; rel > 1e-9 {
				t.Errorf("energy mismatch: work %f, flows %f, ΔKE %f (rel %g)", work, out, dke, rel)
			}
			if d.Clutch.State != Locked {
				t.Errorf("expected locked clutch under steady drive, got %s", d.Clutch.State)
			}
		})
	}
}

func TestLockInCommonSpeed(t *testing.T) {
	cfg := config.Default()
	d := New(cfg)
	in := Input{Force: 10000, Mass: 3000, Velocity: 1, Derate: Nominal, Dt: 0.01}

	for i := 0; i < 5; i++ {
		step(t, d, &in)
	}
	if d.Clutch.State != Locked {
		t.Fatalf("expected lock-in, got %s", d.Clutch.State)
	}
	if gap := in.Velocity*d.Ratio() - d.Flywheel.Speed; math.Abs(gap) > 1e-6 {
		t.Errorf("locked sides differ by %f rad/s", gap)
	}
}

func TestOverrunReleases(t *testing.T) {
	cfg := config.Default()
	d := New(cfg)
	in := Input{Force: 10000, Mass: 3000, Velocity: 1, Derate: Nominal, Dt: 0.01}
	for i := 0; i < 200; i++ {
		step(t, d, &in)
	}
	w := d.Flywheel.Speed

	in.Force = -20000
	for i := 0; i < 50; i++ {
		step(t, d, &in)
	}
	if d.Clutch.State == Locked {
		t.Error("clutch should not hold while the flywheel overruns")
	}
	if d.Clutch.Torque != 0 {
		t.Errorf("overrunning clutch should carry no torque, got %f", d.Clutch.Torque)
	}
	if d.Flywheel.Speed > w {
		t.Error("flywheel gained speed while overrunning")
	}
}

func TestOverspeedReported(t *testing.T) {
	cfg := config.Default()
	d := New(cfg)
	d.SetFlywheelSpeed(500)

	res, err := d.Step(Input{Mass: 3000, Derate: Nominal, Dt: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if d.Flywheel.Speed < 499 {
		t.Errorf("speed must not be clamped, got %f", d.Flywheel.Speed)
	}
	found := false
	for _, l := range res.Limits {
		if l.Component == config.Flywheel && l.Quantity == "speed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected overspeed record, got %+v", res.Limits)
	}
}

func TestDisengagedCoasts(t *testing.T) {
	cfg := config.Lossless()
	d := New(cfg)
	d.SetFlywheelSpeed(100)
	d.Clutch.RequestDisengage(true)

	in := Input{Force: 50000, Mass: 3000, Velocity: 2, LoadTorque: 10, Derate: Nominal, Dt: 0.01}
	step(t, d, &in)

	want := 100 - 10/cfg.Drivetrain.Flywheel.Inertia*0.01
	if math.Abs(d.Flywheel.Speed-want) > 1e-9 {
		t.Errorf("expected coast to %f, got %f", want, d.Flywheel.Speed)
	}
	if d.Clutch.Torque != 0 {
		t.Error("disengaged clutch carried torque")
	}
}

func TestGearProtection(t *testing.T) {
	cfg := config.Default()
	cfg.Drivetrain.Clutch.TorqueCapacity = 1e6
	d := New(cfg)
	in := Input{Force: 1e6, Mass: 3000, Velocity: 1, Derate: Nominal, Dt: 0.01}

	var hit bool
	for i := 0; i < 20 && !hit; i++ {
		res := step(t, d, &in)
		for _, l := range res.Limits {
			if l.Quantity == "torque" {
				hit = true
			}
		}
	}
	if !hit {
		t.Fatal("expected gearbox torque protection")
	}
	for _, s := range d.Gearbox.Stages() {
		if s.Torque > s.MaxTorque*(1+1e-6) {
			t.Errorf("stage torque %f exceeds limit %f", s.Torque, s.MaxTorque)
		}
	}
}

func TestLockedClutchBooksNoSlipLoss(t *testing.T) {
	cfg := config.Default()
	if cfg.Losses.ClutchSlipCoeff == 0 {
		t.Fatal("default config should carry a slip coefficient")
	}
	d := New(cfg)
	in := Input{Force: 5000, Mass: 3000, Velocity: 1, Derate: Nominal, Dt: 0.01}
	for i := 0; i < 20 && d.Clutch.State != Locked; i++ {
		step(t, d, &in)
	}
	if d.Clutch.State != Locked {
		t.Fatalf("expected lock-in, got %s", d.Clutch.State)
	}

	for i := 0; i < 100; i++ {
		res := step(t, d, &in)
		if d.Clutch.State != Locked {
			t.Fatalf("step %d: clutch left lock (%s)", i, d.Clutch.State)
		}
		if math.Abs(res.Flows.Slip) > 1e-9 {
			t.Fatalf("step %d: locked clutch at zero slip lost %g J", i, res.Flows.Slip)
		}
	}
}

func TestSlipLossWhileSlipping(t *testing.T) {
	cfg := config.Lossless()
	cfg.Drivetrain.Clutch.TorqueCapacity = 5
	cfg.Losses.ClutchSlipCoeff = 0.05
	d := New(cfg)
	in := Input{Force: 20000, Mass: 3000, Velocity: 1, Derate: Nominal, Dt: 0.01}

	start := 0.5*in.Mass*in.Velocity*in.Velocity + d.KineticEnergy()
	var work, out, extra float64
	for i := 0; i < 50; i++ {
		w0 := d.Flywheel.Speed
		res := step(t, d, &in)
		if d.Clutch.State != Slipping {
			t.Fatalf("step %d: expected slipping clutch, got %s", i, d.Clutch.State)
		}
		vmid := (res.Velocity + in.Velocity) / 2
		work += in.Force * vmid * in.Dt
		f := res.Flows
		out += f.ChainLoss + f.Sprocket + f.MeshTotal() + f.Slip + f.Flywheel + f.Generator
		wmid := (w0 + d.Flywheel.Speed) / 2
		extra += res.Flows.Slip - d.Clutch.Torque*(vmid*d.Ratio()-wmid)*in.Dt
	}
	dke := 0.5*in.Mass*in.Velocity*in.Velocity + d.KineticEnergy() - start
	if rel := math.Abs(work-out-dke) / work; rel > 1e-9 {
		t.Errorf("energy mismatch while slipping: work %f, flows %f, ΔKE %f", work, out, dke)
	}
	if extra <= 0 {
		t.Errorf("slip coefficient should add loss beyond the slip itself, got %g J", extra)
	}
}
