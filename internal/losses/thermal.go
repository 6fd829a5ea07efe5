package losses

import (
	"math"
	"sort"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/dynamo"
)

// Thermal holds one lumped node per component:
//
//	C·dT/dt = P_loss − D·(T − T_amb)
//
// Each node yields a performance multiplier that falls linearly from 1 at
// DerateStart to MinMultiplier at Max. Multipliers computed in one step are
// consumed by the next.
type Thermal struct {
	ambient float64
	nodes   map[string]config.ComponentThermal
	temps   map[string]float64
}

func NewThermal(cfg config.ThermalConfig) *Thermal {
	t := &Thermal{ambient: cfg.Ambient, nodes: cfg.Components}
	t.Reset()
	return t
}

func (t *Thermal) Reset() {
	t.temps = make(map[string]float64, len(t.nodes))
	for name := range t.nodes {
		t.temps[name] = t.ambient
	}
}

func (t *Thermal) Clone() *Thermal {
	out := &Thermal{ambient: t.ambient, nodes: t.nodes, temps: make(map[string]float64, len(t.temps))}
	for k, v := range t.temps {
		out.temps[k] = v
	}
	return out
}

// Temperature of a component in °C; ambient for unknown names.
func (t *Thermal) Temperature(name string) float64 {
	if v, ok := t.temps[name]; ok {
		return v
	}
	return t.ambient
}

// SetTemperature overrides a node, for fault injection.
func (t *Thermal) SetTemperature(name string, temp float64) {
	if _, ok := t.nodes[name]; ok {
		t.temps[name] = temp
	}
}

// Temperatures returns a copy of every node.
func (t *Thermal) Temperatures() map[string]float64 {
	out := make(map[string]float64, len(t.temps))
	for k, v := range t.temps {
		out[k] = v
	}
	return out
}

// Multiplier is the performance derate of a component at its current
// temperature.
func (t *Thermal) Multiplier(name string) float64 {
	n, ok := t.nodes[name]
	if !ok {
		return 1
	}
	temp := t.temps[name]
	switch {
	case temp <= n.DerateStart:
		return 1
	case temp >= n.Max:
		return n.MinMultiplier
	}
	frac := (temp - n.DerateStart) / (n.Max - n.DerateStart)
	return 1 - frac*(1-n.MinMultiplier)
}

// Step integrates every node with heat input in watts and returns an
// overtemperature record for each node above its maximum, in component
// order.
func (t *Thermal) Step(heat map[string]float64, dt float64) []dynamo.LimitExceeded {
	names := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []dynamo.LimitExceeded
	for _, name := range names {
		n := t.nodes[name]
		temp := t.temps[name]
		p := math.Max(0, heat[name])
		temp += (p - n.Dissipation*(temp-t.ambient)) / n.Capacitance * dt
		t.temps[name] = temp
		if temp > n.Max {
			out = append(out, dynamo.LimitExceeded{
				Component: name,
				Quantity:  "temperature",
				Value:     temp,
				Limit:     n.Max,
				Severity:  dynamo.High,
			})
		}
	}
	return out
}
