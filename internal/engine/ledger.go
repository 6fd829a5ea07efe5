package engine

import (
	"math"

	"github.com/san-kum/kppsim/internal/events"
	"github.com/san-kum/kppsim/internal/losses"
)

// Ledger is the cumulative energy audit since construction or reset, in
// joules.
//
//	in  = net injection + buoyant work + exchange + external
//	out = electrical + ΔKE + Δstored + compression + vent + drag + stage losses
//
// Buoyant work is Σ(F_buoy − F_weight)·dh/ds·v̄·dt. Exchange is the kinetic
// energy carried by water entering or leaving floaters at the step's start
// speed. External is energy added by perturbations (flywheel overrides).
type Ledger struct {
	Pneumatic    events.Ledger    `json:"pneumatic"`
	Buoyant      float64          `json:"buoyant"`
	Exchange     float64          `json:"exchange"`
	External     float64          `json:"external"`
	Electrical   float64          `json:"electrical"`
	Losses       losses.Breakdown `json:"losses"`
	KineticStart float64          `json:"kinetic_start"`
	Kinetic      float64          `json:"kinetic"`
	StoredStart  float64          `json:"stored_start"`
	Stored       float64          `json:"stored"`
}

func (l Ledger) In() float64 {
	return l.Pneumatic.Net() + l.Buoyant + l.Exchange + l.External
}

func (l Ledger) Out() float64 {
	return l.Electrical + l.DeltaKinetic() + l.DeltaStored() + l.Attributed()
}

func (l Ledger) DeltaKinetic() float64 { return l.Kinetic - l.KineticStart }
func (l Ledger) DeltaStored() float64  { return l.Stored - l.StoredStart }

// Attributed is every loss booked to a named stage.
func (l Ledger) Attributed() float64 {
	return l.Pneumatic.Compression + l.Pneumatic.VentLoss + l.Losses.Drag + l.Losses.Total()
}

// Deficit is the energy that went missing from the dynamics: what came in
// minus what is still in the plant or left as electricity. It must equal
// Attributed.
func (l Ledger) Deficit() float64 {
	return l.In() - l.Electrical - l.DeltaKinetic() - l.DeltaStored()
}

// Residual is (in − out) relative to the larger side, floored at 1 J.
func (l Ledger) Residual() float64 {
	in, out := l.In(), l.Out()
	scale := math.Max(1, math.Max(math.Abs(in), math.Abs(out)))
	return (in - out) / scale
}

func (l Ledger) Balanced(tol float64) bool {
	return math.Abs(l.Residual()) <= tol
}
