// Package optim searches plant parameters for the best value of a run
// metric.
package optim

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/scenario"
)

// Goal selects whether the metric is maximised or minimised.
type Goal int

const (
	Maximize Goal = iota
	Minimize
)

// GridSearch tries every combination of the given values. Parameter names
// are the update field names, e.g. "target_power" or "load_kp".
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	Goal       Goal
	Workers    int
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameters but %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("optim: no values for %s", params[i])
		}
	}
	if _, err := ToUpdate(zeroes(params)); err != nil {
		return nil, err
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Linspace returns n evenly spaced values over [lo, hi].
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

func zeroes(names []string) map[string]float64 {
	m := make(map[string]float64, len(names))
	for _, n := range names {
		m[n] = 0
	}
	return m
}

// ToUpdate converts named values into a parameter update. Unknown names are
// an error.
func ToUpdate(params map[string]float64) (config.Update, error) {
	var u config.Update
	data, err := yaml.Marshal(params)
	if err != nil {
		return u, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&u); err != nil {
		return u, fmt.Errorf("optim: %w", err)
	}
	return u, nil
}

// Trial is one evaluated parameter combination.
type Trial struct {
	Params map[string]float64 `json:"params"`
	Value  float64            `json:"value"`
	Passed bool               `json:"passed"`
	Err    string             `json:"error,omitempty"`
}

type Result struct {
	Metric string  `json:"metric"`
	Best   *Trial  `json:"best"`
	Trials []Trial `json:"trials"`
}

func (g *GridSearch) combinations() []map[string]float64 {
	combos := []map[string]float64{{}}
	for i, name := range g.paramNames {
		next := make([]map[string]float64, 0, len(combos)*len(g.ranges[i]))
		for _, c := range combos {
			for _, v := range g.ranges[i] {
				m := make(map[string]float64, len(c)+1)
				for k, x := range c {
					m[k] = x
				}
				m[name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// Search runs sc once per combination on base with the combination applied
// and ranks by metricName. Invalid combinations and failed runs are kept as
// trials with Err set and never win.
func (g *GridSearch) Search(ctx context.Context, base config.Config, sc *scenario.Scenario, metricName string) (*Result, error) {
	combos := g.combinations()
	trials := make([]Trial, len(combos))

	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, params := range combos {
		eg.Go(func() error {
			trials[i] = g.evaluate(ctx, base, sc, metricName, params)
			return ctx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Metric: metricName, Trials: trials}
	for i := range trials {
		t := &trials[i]
		if t.Err != "" || math.IsNaN(t.Value) {
			continue
		}
		if res.Best == nil || g.better(t.Value, res.Best.Value) {
			res.Best = t
		}
	}
	if res.Best == nil {
		return res, fmt.Errorf("optim: no combination produced %s", metricName)
	}
	return res, nil
}

func (g *GridSearch) better(a, b float64) bool {
	if g.Goal == Minimize {
		return a < b
	}
	return a > b
}

func (g *GridSearch) evaluate(ctx context.Context, base config.Config, sc *scenario.Scenario, metricName string, params map[string]float64) Trial {
	t := Trial{Params: params, Value: math.NaN()}
	u, err := ToUpdate(params)
	if err != nil {
		t.Err = err.Error()
		return t
	}
	cfg, err := u.Apply(base)
	if err != nil {
		t.Err = err.Error()
		return t
	}
	res, err := scenario.Runner{Config: &cfg}.Run(ctx, sc)
	if err != nil {
		t.Err = err.Error()
		return t
	}
	v, ok := res.Metrics[metricName]
	if !ok {
		t.Err = fmt.Sprintf("unknown metric %q", metricName)
		return t
	}
	t.Value, t.Passed = v, res.Passed
	return t
}

// Ranked returns the successful trials best first.
func (r *Result) Ranked(goal Goal) []Trial {
	out := make([]Trial, 0, len(r.Trials))
	for _, t := range r.Trials {
		if t.Err == "" && !math.IsNaN(t.Value) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if goal == Minimize {
			return out[i].Value < out[j].Value
		}
		return out[i].Value > out[j].Value
	})
	return out
}
