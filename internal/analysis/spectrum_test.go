package analysis

import (
	"math"
	"testing"

	"github.com/san-kum/kppsim/internal/engine"
)

func TestDominantFrequency(t *testing.T) {
	const dt = 0.01
	x := make([]float64, 1000)
	for i := range x {
		x[i] = 3 + math.Sin(2*math.Pi*2*float64(i)*dt)
	}
	sp := PowerSpectrum(x, dt)
	if len(sp.Freq) != 501 {
		t.Fatalf("expected 501 bins, got %d", len(sp.Freq))
	}
	if f := sp.Dominant(); math.Abs(f-2) > 0.1 {
		t.Errorf("expected dominant 2 Hz, got %g", f)
	}
	if sp.Power[0] > 1e-6 {
		t.Errorf("expected mean removed, DC power %g", sp.Power[0])
	}
}

func TestPowerSpectrumDegenerate(t *testing.T) {
	if sp := PowerSpectrum([]float64{1}, 0.01); len(sp.Freq) != 0 {
		t.Errorf("expected empty spectrum for one sample")
	}
	if sp := PowerSpectrum([]float64{1, 2, 3}, 0); len(sp.Freq) != 0 {
		t.Errorf("expected empty spectrum for zero dt")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, 2, 3})
	if s.N != 3 || s.Mean != 2 || s.Min != 1 || s.Max != 3 {
		t.Errorf("unexpected summary %+v", s)
	}
	if math.Abs(s.Std-1) > 1e-12 {
		t.Errorf("expected std 1, got %g", s.Std)
	}
	if math.Abs(s.RMS-math.Sqrt(14.0/3)) > 1e-12 {
		t.Errorf("expected rms %g, got %g", math.Sqrt(14.0/3), s.RMS)
	}
	if z := Summarize(nil); z.N != 0 {
		t.Errorf("expected empty summary, got %+v", z)
	}
}

func TestUniform(t *testing.T) {
	if dt, ok := Uniform([]float64{0.01, 0.01, 0.01}); !ok || dt != 0.01 {
		t.Errorf("expected uniform 0.01, got %g %v", dt, ok)
	}
	if _, ok := Uniform([]float64{0.01, 0.005}); ok {
		t.Error("expected non-uniform")
	}
}

func TestExtract(t *testing.T) {
	snaps := []engine.Snapshot{
		{Time: 0.01, Chain: engine.ChainView{Velocity: 0.5}},
		{Time: 0.02, Chain: engine.ChainView{Velocity: 0.7}},
	}
	v, err := Extract(snaps, "chain.velocity")
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 0.5 || v[1] != 0.7 {
		t.Errorf("expected [0.5 0.7], got %v", v)
	}
	if _, err := Extract(snaps, "warp"); err == nil {
		t.Error("expected error for unknown series")
	}
}
