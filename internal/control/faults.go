package control

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// trendSamples is how many recent samples the trend fit uses.
const trendSamples = 20

// Signal is one monitored quantity. Limit 0 means no absolute limit, so
// only the outlier check applies.
type Signal struct {
	Name      string
	Component string
	Value     float64
	Limit     float64
}

type series struct {
	t []float64
	x []float64
}

func (s *series) push(t, x float64, keep int) {
	s.t = append(s.t, t)
	s.x = append(s.x, x)
	if over := len(s.x) - keep; over > 0 {
		s.t = s.t[over:]
		s.x = s.x[over:]
	}
}

func (s *series) clone() *series {
	return &series{t: append([]float64(nil), s.t...), x: append([]float64(nil), s.x...)}
}

// FaultDetector classifies faults from limit records, trend extrapolation,
// rolling-window outliers and the energy audit residual. It reports only;
// acting on faults is the transient controller's job.
type FaultDetector struct {
	cfg     config.FaultConfig
	history map[string]*series
}

func NewFaultDetector(cfg config.FaultConfig) *FaultDetector {
	return &FaultDetector{cfg: cfg, history: make(map[string]*series)}
}

func (d *FaultDetector) Configure(cfg config.FaultConfig) { d.cfg = cfg }

func (d *FaultDetector) Reset() { d.history = make(map[string]*series) }

func (d *FaultDetector) clone() *FaultDetector {
	out := &FaultDetector{cfg: d.cfg, history: make(map[string]*series, len(d.history))}
	for k, s := range d.history {
		out.history[k] = s.clone()
	}
	return out
}

// Detect runs every check for one step and returns the faults sorted by
// severity.
func (d *FaultDetector) Detect(now float64, signals []Signal, limits []dynamo.LimitExceeded, residual float64) []dynamo.Fault {
	var faults []dynamo.Fault
	for _, l := range limits {
		faults = append(faults, dynamo.FaultFromLimit(l, now))
	}

	for _, sig := range signals {
		s, ok := d.history[sig.Name]
		if !ok {
			s = &series{}
			d.history[sig.Name] = s
		}
		if f, ok := d.trend(now, sig, s); ok {
			faults = append(faults, f)
		}
		if f, ok := d.outlier(now, sig, s); ok {
			faults = append(faults, f)
		}
		keep := d.cfg.OutlierWindow
		if keep < trendSamples {
			keep = trendSamples
		}
		s.push(now, sig.Value, keep)
	}

	if tol := d.cfg.ResidualTolerance; tol > 0 && math.Abs(residual) > tol {
		faults = append(faults, dynamo.Fault{
			Code:      "energy.residual",
			Component: "engine",
			Check:     dynamo.CheckResidual,
			Severity:  dynamo.Medium,
			Message:   fmt.Sprintf("energy audit residual %.3f exceeds %.3f", residual, tol),
			Value:     residual,
			Limit:     tol,
			Time:      now,
		})
	}

	dynamo.SortFaults(faults)
	return faults
}

// trend fits a line through the recent samples and flags a signal
// projected to cross its limit within the horizon.
func (d *FaultDetector) trend(now float64, sig Signal, s *series) (dynamo.Fault, bool) {
	if sig.Limit <= 0 || sig.Value > sig.Limit || len(s.x) < 5 {
		return dynamo.Fault{}, false
	}
	n := len(s.x)
	from := n - trendSamples
	if from < 0 {
		from = 0
	}
	ts := make([]float64, 0, n-from+1)
	for _, t := range s.t[from:] {
		ts = append(ts, t-now)
	}
	ts = append(ts, 0)
	xs := append(append([]float64(nil), s.x[from:]...), sig.Value)

	_, slope := stat.LinearRegression(ts, xs, nil, false)
	projected := sig.Value + slope*d.cfg.TrendHorizon
	if slope <= 0 || projected <= sig.Limit {
		return dynamo.Fault{}, false
	}
	return dynamo.Fault{
		Code:      sig.Name + ".trend",
		Component: sig.Component,
		Check:     dynamo.CheckTrend,
		Severity:  dynamo.Medium,
		Message:   fmt.Sprintf("%s projected to reach %.3g within %.1fs (limit %.3g)", sig.Name, projected, d.cfg.TrendHorizon, sig.Limit),
		Value:     projected,
		Limit:     sig.Limit,
		Time:      now,
	}, true
}

// outlier compares the new sample with the mean and deviation of a full
// window of earlier samples.
func (d *FaultDetector) outlier(now float64, sig Signal, s *series) (dynamo.Fault, bool) {
	w := d.cfg.OutlierWindow
	if w <= 1 || len(s.x) < w {
		return dynamo.Fault{}, false
	}
	mean, std := stat.MeanStdDev(s.x[len(s.x)-w:], nil)
	if std <= 1e-9*math.Max(1, math.Abs(mean)) {
		return dynamo.Fault{}, false
	}
	z := (sig.Value - mean) / std
	if math.Abs(z) <= d.cfg.OutlierSigma {
		return dynamo.Fault{}, false
	}
	return dynamo.Fault{
		Code:      sig.Name + ".outlier",
		Component: sig.Component,
		Check:     dynamo.CheckOutlier,
		Severity:  dynamo.Low,
		Message:   fmt.Sprintf("%s at %.1fσ from its recent mean", sig.Name, z),
		Value:     sig.Value,
		Limit:     mean + math.Copysign(d.cfg.OutlierSigma*std, z),
		Time:      now,
	}, true
}
