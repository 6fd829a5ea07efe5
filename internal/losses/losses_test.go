package losses

import (
	"math"
	"testing"

	"github.com/san-kum/kppsim/internal/config"
)

func TestChainForceOpposesMotion(t *testing.T) {
	m := New(config.Default())

	tests := []struct {
		v    float64
		sign float64
	}{
		{1.5, 1},
		{-1.5, -1},
		{0, 0},
	}
	for _, tt := range tests {
		f := m.ChainForce(tt.v, 1000, 40)
		if math.Signbit(f) != math.Signbit(tt.sign) || (tt.sign == 0) != (f == 0) {
			t.Errorf("v=%f: expected force sign %f, got %f", tt.v, tt.sign, f)
		}
	}

	small := m.ChainForce(0.01, 1000, 40)
	full := m.ChainForce(1, 1000, 40)
	if math.Abs(small-full*0.2) > 1e-9 {
		t.Errorf("expected ramped friction near rest: %f vs %f", small, full)
	}
}

func TestBearingTemperature(t *testing.T) {
	m := New(config.Default())
	cold := m.ChainForce(1, 1000, 20)
	warm := m.ChainForce(1, 1000, 60)
	if warm >= cold {
		t.Errorf("bearing friction should fall with temperature: cold %f, warm %f", cold, warm)
	}
	if heavy := m.ChainForce(1, 5000, 40); heavy <= m.ChainForce(1, 1000, 40) {
		t.Error("bearing friction should rise with load")
	}
}

func TestFlywheelTorques(t *testing.T) {
	cfg := config.Default()
	m := New(cfg)

	below := m.Flywheel(cfg.Losses.Windage.OnsetSpeed*0.9, 0, 40, 1)
	if below.Windage != 0 {
		t.Errorf("expected no windage below onset, got %f", below.Windage)
	}
	above := m.Flywheel(300, 0, 40, 1)
	if above.Windage <= 0 {
		t.Error("expected windage above onset")
	}
	if above.Seal <= below.Seal {
		t.Error("seal friction should rise with speed")
	}
	derated := m.Flywheel(300, 0, 40, 0.8)
	if derated.Bearing <= above.Bearing {
		t.Error("derated bearing should drag more")
	}
	if m.Flywheel(0, 0, 40, 1).Total() != 0 {
		t.Error("expected no drag at rest")
	}
}

func TestLosslessIsZero(t *testing.T) {
	m := New(config.Lossless())
	if f := m.ChainForce(2, 1000, 40); f != 0 {
		t.Errorf("expected zero chain friction, got %f", f)
	}
	if tq := m.Flywheel(300, 100, 40, 1).Total(); tq != 0 {
		t.Errorf("expected zero flywheel drag, got %f", tq)
	}
}

func TestAllocateConserves(t *testing.T) {
	m := New(config.Default())

	tests := []struct {
		name    string
		gen     float64
		conv    float64
		current float64
	}{
		{"rated", 1200, 1500, 24},
		{"tiny budget", 5, 3, 50},
		{"zero", 0, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			freq := 188.5 * 2 / (2 * math.Pi)
			e := m.Allocate(tt.gen, tt.conv, tt.current, freq, 1.5*188.5, 40)
			if math.Abs(e.Generator()-tt.gen) > 1e-9 {
				t.Errorf("generator allocation %f != %f", e.Generator(), tt.gen)
			}
			if math.Abs(e.Converter()-tt.conv) > 1e-9 {
				t.Errorf("converter allocation %f != %f", e.Converter(), tt.conv)
			}
			for _, v := range []float64{e.Copper, e.Iron, e.GeneratorStray, e.Switching, e.ConverterStray} {
				if v < 0 {
					t.Errorf("negative loss term in %+v", e)
				}
			}
		})
	}
}

func TestCopperRisesWithTemperature(t *testing.T) {
	m := New(config.Default())
	cold := m.Allocate(1e6, 0, 20, 60, 300, 20)
	hot := m.Allocate(1e6, 0, 20, 60, 300, 100)
	if hot.Copper <= cold.Copper {
		t.Errorf("expected copper loss to rise with temperature: %f vs %f", cold.Copper, hot.Copper)
	}
}

func TestBreakdownHeat(t *testing.T) {
	b := Breakdown{Drag: 100, ChainFriction: 1, Sprocket: 2, Mesh: 3, ClutchSlip: 4, Bearing: 5, Seal: 6, Windage: 7}
	b.Copper, b.Iron, b.GeneratorStray, b.Switching, b.ConverterStray = 8, 9, 10, 11, 12

	var sum float64
	for _, p := range b.Heat() {
		sum += p
	}
	if sum != b.Total() {
		t.Errorf("heat %f should equal total %f", sum, b.Total())
	}
	if b.Total() != 78 {
		t.Errorf("expected total 78 excluding drag, got %f", b.Total())
	}
}

func TestThermalSteadyState(t *testing.T) {
	cfg := config.Default().Thermal
	th := NewThermal(cfg)

	node := cfg.Components[config.Gearbox]
	p := 400.0
	want := cfg.Ambient + p/node.Dissipation

	for i := 0; i < 200000; i++ {
		th.Step(map[string]float64{config.Gearbox: p}, 1)
	}
	if got := th.Temperature(config.Gearbox); math.Abs(got-want) > 0.01 {
		t.Errorf("expected steady state %f, got %f", want, got)
	}
	if got := th.Temperature(config.Clutch); got != cfg.Ambient {
		t.Errorf("unheated node drifted to %f", got)
	}
}

func TestThermalMultiplier(t *testing.T) {
	cfg := config.Default().Thermal
	th := NewThermal(cfg)
	n := cfg.Components[config.Generator]

	tests := []struct {
		temp float64
		want float64
	}{
		{cfg.Ambient, 1},
		{n.DerateStart, 1},
		{(n.DerateStart + n.Max) / 2, (1 + n.MinMultiplier) / 2},
		{n.Max, n.MinMultiplier},
		{n.Max + 50, n.MinMultiplier},
	}
	for _, tt := range tests {
		th.SetTemperature(config.Generator, tt.temp)
		if got := th.Multiplier(config.Generator); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("T=%f: expected multiplier %f, got %f", tt.temp, tt.want, got)
		}
	}
	if th.Multiplier("nonexistent") != 1 {
		t.Error("unknown component should not derate")
	}
}

func TestThermalOvertemperature(t *testing.T) {
	cfg := config.Default().Thermal
	th := NewThermal(cfg)
	th.SetTemperature(config.PowerElectronics, cfg.Components[config.PowerElectronics].Max+5)

	limits := th.Step(nil, 0.01)
	if len(limits) != 1 || limits[0].Component != config.PowerElectronics {
		t.Fatalf("expected one overtemperature record, got %+v", limits)
	}

	th.Reset()
	if th.Temperature(config.PowerElectronics) != cfg.Ambient {
		t.Error("reset should return nodes to ambient")
	}
	c := th.Clone()
	c.SetTemperature(config.Clutch, 99)
	if th.Temperature(config.Clutch) == 99 {
		t.Error("clone shares state")
	}
}
