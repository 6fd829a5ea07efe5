package electrical

import (
	"math"
	"testing"

	"github.com/san-kum/kppsim/internal/config"
)

func TestCounterTorque(t *testing.T) {
	cfg := config.Default().Electrical.Generator
	g := NewGenerator(cfg)
	rated := cfg.RatedPower / cfg.RatedSpeed

	tests := []struct {
		name string
		w    float64
		load float64
		want float64
	}{
		{"stopped", 0, 1, 0},
		{"reverse", -10, 1, 0},
		{"unloaded", 200, 0, 0},
		{"half knee", cfg.KneeSpeed / 2, 1, rated / 2},
		{"rated", cfg.RatedSpeed, 1, rated},
		{"partial", cfg.RatedSpeed, 0.4, 0.4 * rated},
		{"clamped load", cfg.RatedSpeed, 1.5, rated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.CounterTorque(tt.w, tt.load); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestEfficiencyCurve(t *testing.T) {
	cfg := config.Default().Electrical.Generator
	g := NewGenerator(cfg)

	if e := g.EfficiencyAt(1); e != cfg.PeakEfficiency {
		t.Errorf("expected peak at rated load, got %f", e)
	}
	if e := g.EfficiencyAt(0.5); e >= cfg.PeakEfficiency {
		t.Errorf("part load should cost efficiency, got %f", e)
	}

	cfg.EfficiencyCurvature = 10
	g = NewGenerator(cfg)
	if e := g.EfficiencyAt(0); e != 0.5*cfg.PeakEfficiency {
		t.Errorf("expected floor at half peak, got %f", e)
	}
}

func TestGeneratorConvert(t *testing.T) {
	cfg := config.Default().Electrical.Generator
	g := NewGenerator(cfg)
	w := cfg.RatedSpeed
	tau := g.CounterTorque(w, 1)

	pmech := tau * w
	loss := g.Convert(pmech, w, 1)
	if math.Abs(loss+g.Electrical-pmech) > 1e-9 {
		t.Errorf("loss %f + electrical %f != mechanical %f", loss, g.Electrical, pmech)
	}
	if want := g.Electrical / (g.Efficiency * w); math.Abs(tau-want) > 1e-9 {
		t.Errorf("counter torque %f should be P_elec/(η·ω) = %f", tau, want)
	}
	if math.Abs(g.Electrical-cfg.PeakEfficiency*cfg.RatedPower) > 1e-6 {
		t.Errorf("expected %f W at rated, got %f", cfg.PeakEfficiency*cfg.RatedPower, g.Electrical)
	}
	wantF := w * float64(cfg.PolePairs) / (2 * math.Pi)
	if math.Abs(g.Frequency-wantF) > 1e-9 {
		t.Errorf("expected frequency %f, got %f", wantF, g.Frequency)
	}
	wantI := g.Electrical / (math.Sqrt(3) * cfg.VoltagePerRadS * w)
	if math.Abs(g.Current-wantI) > 1e-9 {
		t.Errorf("expected current %f, got %f", wantI, g.Current)
	}

	g.Convert(pmech, w, 0.8)
	if g.Efficiency >= cfg.PeakEfficiency {
		t.Error("thermal derate should lower efficiency")
	}
}

func TestProtectLatches(t *testing.T) {
	cfg := config.Default().Electrical.PowerElectronics
	p := NewPowerElectronics(cfg)

	if rec := p.Protect(cfg.MaxVoltage, cfg.MaxFrequency, cfg.MaxCurrent); rec != nil {
		t.Fatalf("limits are inclusive, got %v", rec)
	}
	rec := p.Protect(cfg.MaxVoltage+1, 0, 0)
	if rec == nil || rec.Quantity != "voltage" {
		t.Fatalf("expected overvoltage trip, got %v", rec)
	}
	if !p.Tripped || p.Cause != "overvoltage" {
		t.Errorf("expected latched overvoltage, got %v %q", p.Tripped, p.Cause)
	}
	if p.Protect(0, 0, 0) != nil || !p.Tripped {
		t.Error("trip should stay latched without a second record")
	}
	p.Acknowledge()
	if p.Tripped {
		t.Error("acknowledge should clear the trip")
	}
}

func syncGrid(t *testing.T, g *GridInterface, limit float64) float64 {
	t.Helper()
	dt := 0.01
	for elapsed := 0.0; elapsed < limit; elapsed += dt {
		g.Step(true, dt)
		if g.Synchronized {
			return elapsed + dt
		}
	}
	t.Fatalf("grid did not synchronise within %f s", limit)
	return 0
}

func TestGridSynchronisation(t *testing.T) {
	cfg := config.Default().Electrical.Grid
	g := NewGridInterface(cfg)

	for i := 0; i < 1000; i++ {
		g.Step(true, 0.01)
	}
	if g.Synchronized {
		t.Fatal("synchronised without sync enabled")
	}

	g.EnableSync(true)
	took := syncGrid(t, g, 20)
	if took < cfg.SyncHold {
		t.Errorf("synchronised after %f s, before the hold time %f", took, cfg.SyncHold)
	}
	if !g.Sink() {
		t.Error("expected breaker closed once synchronised")
	}

	g.Condition.VoltagePU = 0.8
	g.Step(true, 0.01)
	if !g.Synchronized {
		t.Error("synchronised interface should hold through a grid deviation")
	}

	g.EnableSync(false)
	if g.Synchronized || g.BreakerClosed {
		t.Error("disabling sync should open the breaker")
	}
}

func TestGridLosesSyncWhenUnavailable(t *testing.T) {
	g := NewGridInterface(config.Default().Electrical.Grid)
	g.EnableSync(true)
	syncGrid(t, g, 20)

	g.Step(false, 0.01)
	if g.Sink() {
		t.Error("expected breaker to open when the converter drops out")
	}
}

func TestSystemNoSinkNoLoad(t *testing.T) {
	cfg := config.Default()
	s := New(cfg)

	if tau := s.CounterTorque(cfg.Electrical.Generator.RatedSpeed, 1); tau != 0 {
		t.Errorf("expected no load without a sink, got %f", tau)
	}

	s.Grid.EnableSync(true)
	syncGrid(t, s.Grid, 20)
	w := cfg.Electrical.Generator.RatedSpeed
	tau := s.CounterTorque(w, 1)
	if tau <= 0 {
		t.Fatal("expected load once synchronised")
	}

	dt := 0.01
	out, limits := s.Step(tau*w*dt, w, dt, NoDerate)
	if len(limits) != 0 {
		t.Errorf("unexpected limits at rated: %+v", limits)
	}
	if sum := out.Delivered + out.GeneratorLoss + out.ConverterLoss; math.Abs(sum-out.Mechanical) > 1e-6 {
		t.Errorf("power does not balance: %f vs %f", sum, out.Mechanical)
	}
	if out.Delivered <= 0 || s.Grid.Delivered != out.Delivered {
		t.Errorf("expected delivered power, got %+v", out)
	}
}

func TestSystemOverspeedTrips(t *testing.T) {
	cfg := config.Default()
	s := New(cfg)
	s.Grid.EnableSync(true)
	syncGrid(t, s.Grid, 20)

	_, limits := s.Step(0, 500, 0.01, NoDerate)
	if len(limits) != 1 || limits[0].Quantity != "frequency" {
		t.Fatalf("expected overfrequency trip at 500 rad/s, got %+v", limits)
	}
	if s.Sink() {
		t.Error("tripped converter must remove the sink")
	}
	if s.CounterTorque(200, 1) != 0 {
		t.Error("tripped converter must zero the counter torque")
	}

	c := s.Clone()
	c.Converter.Acknowledge()
	if !s.Converter.Tripped {
		t.Error("clone shares converter state")
	}
}
