package dynamo

import (
	"fmt"
	"math"
	"sort"
)

// Severity orders fault importance. The zero value is Info.
type Severity int

const (
	Info Severity = iota
	Low
	Medium
	High
	Critical
)

var severityNames = [...]string{"info", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	for i, n := range severityNames {
		if n == string(b) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

// Check identifies which detector produced a fault.
type Check string

const (
	CheckLimit    Check = "limit"
	CheckTrend    Check = "trend"
	CheckOutlier  Check = "outlier"
	CheckResidual Check = "residual"
	CheckTrip     Check = "trip"
	CheckTimeout  Check = "timeout"
)

// Fault is one entry of the severity-classified fault list.
type Fault struct {
	Code      string   `json:"code"`
	Component string   `json:"component"`
	Check     Check    `json:"check"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Value     float64  `json:"value"`
	Limit     float64  `json:"limit"`
	Time      float64  `json:"time"`
}

// FaultFromLimit converts a limit record into a fault entry.
func FaultFromLimit(l LimitExceeded, t float64) Fault {
	return Fault{
		Code:      l.Component + "." + l.Quantity,
		Component: l.Component,
		Check:     CheckLimit,
		Severity:  l.Severity,
		Message:   l.Error(),
		Value:     l.Value,
		Limit:     l.Limit,
		Time:      t,
	}
}

// SortFaults orders faults by descending severity, then by code.
func SortFaults(fs []Fault) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Severity != fs[j].Severity {
			return fs[i].Severity > fs[j].Severity
		}
		return fs[i].Code < fs[j].Code
	})
}

// MaxSeverity returns the highest severity in fs, or Info when empty.
func MaxSeverity(fs []Fault) Severity {
	top := Info
	for _, f := range fs {
		if f.Severity > top {
			top = f.Severity
		}
	}
	return top
}

// Finite reports whether every value is neither NaN nor Inf.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sign returns -1, 0 or 1.
func Sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// WrapAngle maps a to [0, 2π).
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// WrapPi maps a to [-π, π).
func WrapPi(a float64) float64 {
	return WrapAngle(a+math.Pi) - math.Pi
}
