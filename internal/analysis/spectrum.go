package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/kppsim/internal/engine"
)

// Extract pulls the named field out of each snapshot.
func Extract(snaps []engine.Snapshot, name string) ([]float64, error) {
	f, ok := engine.LookupField(name)
	if !ok {
		return nil, fmt.Errorf("analysis: unknown series %q", name)
	}
	out := make([]float64, len(snaps))
	for i := range snaps {
		out[i] = f.Get(&snaps[i])
	}
	return out, nil
}

// Spectrum is a one-sided power spectrum.
type Spectrum struct {
	Freq  []float64
	Power []float64
}

// PowerSpectrum estimates the one-sided power spectrum of x sampled every
// dt seconds. The mean is removed and a Hann window applied first.
func PowerSpectrum(x []float64, dt float64) Spectrum {
	n := len(x)
	if n < 2 || !(dt > 0) {
		return Spectrum{}
	}
	mean := stat.Mean(x, nil)
	w := make([]float64, n)
	for i, v := range x {
		hann := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		w[i] = (v - mean) * hann
	}

	coeffs := fft.FFTReal(w)
	half := n/2 + 1
	sp := Spectrum{Freq: make([]float64, half), Power: make([]float64, half)}
	df := 1 / (float64(n) * dt)
	for k := 0; k < half; k++ {
		a := cmplx.Abs(coeffs[k])
		sp.Freq[k] = float64(k) * df
		sp.Power[k] = a * a / float64(n)
	}
	return sp
}

// Dominant returns the frequency with the most power, ignoring DC.
func (s Spectrum) Dominant() float64 {
	best, at := 0.0, 0.0
	for k := 1; k < len(s.Power); k++ {
		if s.Power[k] > best {
			best, at = s.Power[k], s.Freq[k]
		}
	}
	return at
}

// Summary holds descriptive statistics of a series.
type Summary struct {
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	RMS  float64 `json:"rms"`
}

func Summarize(x []float64) Summary {
	s := Summary{N: len(x)}
	if len(x) == 0 {
		return s
	}
	s.Mean, s.Std = stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		s.Std = 0
	}
	s.Min, s.Max = x[0], x[0]
	var sq float64
	for _, v := range x {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
		sq += v * v
	}
	s.RMS = math.Sqrt(sq / float64(len(x)))
	return s
}

// Uniform reports whether the samples share one time step, which the
// spectrum assumes. Runs with an adaptive step are not uniform.
func Uniform(dts []float64) (float64, bool) {
	if len(dts) == 0 {
		return 0, false
	}
	for _, d := range dts[1:] {
		if math.Abs(d-dts[0]) > 1e-12*math.Max(1, dts[0]) {
			return 0, false
		}
	}
	return dts[0], true
}
