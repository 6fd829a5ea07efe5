package transient

import (
	"sort"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// Breach categories that trigger an emergency.
const (
	BreachOverspeed       = "overspeed"
	BreachOverpressure    = "overpressure"
	BreachOvertemperature = "overtemperature"
	BreachConverterTrip   = "converter_trip"
	BreachCritical        = "critical_limit"
)

// EmergencyResponse detects breaches and holds the plant safe until an
// acknowledged re-validation succeeds.
type EmergencyResponse struct {
	cfg   config.EmergencyConfig
	seen  map[string]bool
	acked bool
}

func NewEmergencyResponse(cfg config.EmergencyConfig) *EmergencyResponse {
	return &EmergencyResponse{cfg: cfg, seen: make(map[string]bool)}
}

func (e *EmergencyResponse) Configure(cfg config.EmergencyConfig) { e.cfg = cfg }

func (e *EmergencyResponse) clone() *EmergencyResponse {
	out := &EmergencyResponse{cfg: e.cfg, seen: make(map[string]bool, len(e.seen)), acked: e.acked}
	for k, v := range e.seen {
		out.seen[k] = v
	}
	return out
}

// Breaches lists the active breach categories in sorted order.
func (e *EmergencyResponse) Breaches(obs Observation) []string {
	set := map[string]bool{}
	if obs.FlywheelSpeed > e.cfg.Overspeed {
		set[BreachOverspeed] = true
	}
	if obs.MaxPressure > e.cfg.Overpressure {
		set[BreachOverpressure] = true
	}
	if obs.MaxTemperature > e.cfg.Overtemperature {
		set[BreachOvertemperature] = true
	}
	if obs.Tripped {
		set[BreachConverterTrip] = true
	}
	for _, l := range obs.Limits {
		if l.Severity < dynamo.Critical {
			continue
		}
		switch l.Quantity {
		case "speed":
			set[BreachOverspeed] = true
		case "pressure":
			set[BreachOverpressure] = true
		case "temperature":
			set[BreachOvertemperature] = true
		default:
			set[BreachCritical] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Escalate records breaches and returns the level they justify: one per
// distinct category seen since the emergency began, capped at MaxLevel.
func (e *EmergencyResponse) Escalate(breaches []string) Level {
	for _, b := range breaches {
		e.seen[b] = true
	}
	l := Level(len(e.seen))
	if l > MaxLevel {
		l = MaxLevel
	}
	return l
}

// Acknowledge requests exit at the next re-validation.
func (e *EmergencyResponse) Acknowledge() { e.acked = true }

// Revalidate consumes a pending acknowledgment. It passes when no breach
// and no critical or high limit is active.
func (e *EmergencyResponse) Revalidate(obs Observation, breaches []string) bool {
	if !e.acked {
		return false
	}
	e.acked = false
	if len(breaches) > 0 {
		return false
	}
	for _, l := range obs.Limits {
		if l.Severity >= dynamo.High {
			return false
		}
	}
	return true
}

// Clear forgets the finished emergency.
func (e *EmergencyResponse) Clear() {
	e.seen = make(map[string]bool)
	e.acked = false
}

// Commands is the emergency candidate: no load, clutch open, no injection,
// everything vented, breaker open.
func (e *EmergencyResponse) Commands() Commands {
	return Commands{Disengage: true, Inhibit: true, VentAll: true}
}
