package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/metrics"
	"github.com/san-kum/kppsim/internal/optim"
	"github.com/san-kum/kppsim/internal/scenario"
	"github.com/san-kum/kppsim/internal/storage"
	"github.com/san-kum/kppsim/internal/viz"
)

// simulate steps e for the given simulated seconds, handing every snapshot
// to sink.
func simulate(ctx context.Context, e *engine.Engine, seconds float64, sink func(engine.Snapshot) error) (engine.Snapshot, error) {
	snap := e.Snapshot()
	end := snap.Time + seconds
	for snap.Time < end-snap.Dt/2 {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		next, err := e.Step()
		if err != nil {
			return next, err
		}
		snap = next
		if sink != nil {
			if err := sink(snap); err != nil {
				return snap, err
			}
		}
	}
	return snap, nil
}

func newEngine(cfg config.Config) (*engine.Engine, error) {
	return engine.New(cfg, engine.WithLogger(newLogger()), engine.WithMetrics(metrics.Standard()...))
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, err := newEngine(cfg)
	if err != nil {
		return err
	}
	if err := e.Start(); err != nil {
		return err
	}

	var rec *storage.Recorder
	if runRecord {
		rec, err = storage.New(dataDir).Record(storage.RunMetadata{
			Name:        "run",
			Preset:      preset,
			Dt:          cfg.Physics.TimeStep,
			Config:      cfg,
			Description: fmt.Sprintf("headless run for %gs", duration),
		}, every)
		if err != nil {
			return err
		}
	}

	fmt.Printf("running plant for %gs...\n", duration)
	start := time.Now()

	g, ctx := errgroup.WithContext(cmd.Context())
	snaps := make(chan engine.Snapshot, 256)
	if rec != nil {
		g.Go(func() error { return rec.Run(ctx, snaps) })
	}
	var final engine.Snapshot
	g.Go(func() error {
		defer close(snaps)
		var err error
		final, err = simulate(ctx, e, duration, func(s engine.Snapshot) error {
			if rec == nil {
				return nil
			}
			select {
			case snaps <- s:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return err
	})
	runErr := g.Wait()

	if rec != nil {
		meta, err := rec.Close(e.Metrics(), e.Dropped())
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", meta.ID)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Printf("completed in %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("steps: %d\n", final.Step)
	fmt.Printf("state: %s (%s)\n", final.State, final.Source)
	printMetrics(e.Metrics())

	if svgOut != "" {
		f, err := os.Create(svgOut)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := viz.LoopSVG(f, e.Geometry(), &final, 40); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", svgOut)
	}
	return nil
}

func printMetrics(m map[string]float64) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6g\n", name, m[name])
	}
}

func auditEnergy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, err := newEngine(cfg)
	if err != nil {
		return err
	}
	if err := e.Start(); err != nil {
		return err
	}
	final, err := simulate(cmd.Context(), e, duration, nil)
	if err != nil {
		return err
	}

	l := e.Ledger()
	fmt.Printf("energy ledger after %.2fs (%s)\n\n", final.Time, final.State)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	row := func(name string, v float64) { fmt.Fprintf(w, "%s\t%.1f J\t\n", name, v) }
	fmt.Fprintln(w, "in\t\t")
	row("pneumatic net", l.Pneumatic.Net())
	row("buoyant", l.Buoyant)
	row("exchange", l.Exchange)
	row("external", l.External)
	fmt.Fprintln(w, "out\t\t")
	row("electrical", l.Electrical)
	row("kinetic change", l.DeltaKinetic())
	row("stored change", l.DeltaStored())
	row("compression", l.Pneumatic.Compression)
	row("vent", l.Pneumatic.VentLoss)
	row("drag", l.Losses.Drag)
	row("mechanical", l.Losses.Mechanical())
	row("electrical losses", l.Losses.Electrical())
	fmt.Fprintln(w, "\t\t")
	row("total in", l.In())
	row("total out", l.Out())
	if err := w.Flush(); err != nil {
		return err
	}

	tol := cfg.Validation.EnergyTolerance
	fmt.Printf("\nresidual: %.3e (tolerance %.1e)\n", l.Residual(), tol)
	fmt.Printf("injections %d, vents %d, failed injections %d\n",
		l.Pneumatic.Injections, l.Pneumatic.Vents, l.Pneumatic.Failures)
	if !l.Balanced(tol) {
		return fmt.Errorf("energy ledger out of balance: residual %.3e", l.Residual())
	}
	return nil
}

// resolveScenario takes a built-in name or a yaml path.
func resolveScenario(arg string) (*scenario.Scenario, error) {
	if sc, ok := scenario.Get(arg); ok {
		return sc, nil
	}
	if _, err := os.Stat(arg); err != nil {
		return nil, fmt.Errorf("unknown scenario: %s (built-in: %s)", arg, strings.Join(scenario.List(), ", "))
	}
	return scenario.Load(arg)
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := resolveScenario(args[0])
	if err != nil {
		return err
	}
	runner := scenario.Runner{Logger: newLogger()}
	if plantChosen(cmd) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		runner.Config = &cfg
	}

	var rec *storage.Recorder
	if record {
		cfg := config.Default()
		if runner.Config != nil {
			cfg = *runner.Config
		} else if p, ok := config.GetPreset(sc.Preset); ok {
			cfg = p
		}
		if sc.Dt > 0 {
			cfg.Physics.TimeStep = sc.Dt
		}
		rec, err = storage.New(dataDir).Record(storage.RunMetadata{
			Name:        "scenario/" + sc.Name,
			Preset:      sc.Preset,
			Dt:          cfg.Physics.TimeStep,
			Config:      cfg,
			Description: sc.Description,
		}, every)
		if err != nil {
			return err
		}
		runner.Observe = func(s engine.Snapshot) {
			if err := rec.Write(s); err != nil {
				runner.Logger.Warn("snapshot not recorded", "step", s.Step, "error", err)
			}
		}
	}

	res, runErr := runner.Run(cmd.Context(), sc)
	if rec != nil {
		var m map[string]float64
		if res != nil {
			m = res.Metrics
		}
		meta, err := rec.Close(m, 0)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", meta.ID)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Println(res.Summary())
	for _, t := range res.Transitions {
		fmt.Printf("  t=%7.2fs  %s -> %s (%s)\n", t.Time, t.From, t.To, t.Source)
	}
	for _, r := range res.Rejected {
		fmt.Printf("  rejected %s\n", r)
	}
	printMetrics(res.Metrics)
	if !res.Passed {
		return fmt.Errorf("scenario %s ended %s, expected %s", sc.Name, res.Final.State, sc.ExpectState)
	}
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The dashboard owns the terminal, so the engine logs nowhere.
	e, err := engine.New(cfg, engine.WithMetrics(metrics.Standard()...))
	if err != nil {
		return err
	}
	return viz.Run(e, theme)
}

// parseRange reads name=lo:hi:n.
func parseRange(arg string) (string, []float64, error) {
	name, rng, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("bad parameter %q, want name=lo:hi:n", arg)
	}
	parts := strings.Split(rng, ":")
	if len(parts) != 3 {
		return "", nil, fmt.Errorf("bad range %q, want lo:hi:n", rng)
	}
	lo, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return "", nil, fmt.Errorf("bad range %q: %w", rng, err)
	}
	hi, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return "", nil, fmt.Errorf("bad range %q: %w", rng, err)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		return "", nil, fmt.Errorf("bad range %q: count must be a positive integer", rng)
	}
	return name, optim.Linspace(lo, hi, n), nil
}

func sweepParams(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sc, err := resolveScenario(scenarioID)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(sweepRanges))
	ranges := make([][]float64, 0, len(sweepRanges))
	for _, arg := range sweepRanges {
		name, values, err := parseRange(arg)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}
	gs, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	if minimize {
		gs.Goal = optim.Minimize
	}
	gs.Workers = workers

	total := 1
	for _, r := range ranges {
		total *= len(r)
	}
	fmt.Printf("sweeping %d combinations over scenario %s...\n", total, sc.Name)
	start := time.Now()
	res, err := gs.Search(cmd.Context(), cfg, sc, metricName)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(start).Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RANK\t%s\t%s\tPASSED\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(metricName))
	for i, t := range res.Ranked(gs.Goal) {
		if i == 10 {
			break
		}
		cells := make([]string, len(names))
		for j, name := range names {
			cells[j] = strconv.FormatFloat(t.Params[name], 'g', 6, 64)
		}
		fmt.Fprintf(w, "%d\t%s\t%.6g\t%v\n", i+1, strings.Join(cells, "\t"), t.Value, t.Passed)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	failed := 0
	for _, t := range res.Trials {
		if t.Err != "" {
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("\n%d of %d combinations failed\n", failed, len(res.Trials))
	}
	return nil
}
