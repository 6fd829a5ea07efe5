package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/scenario"
)

var (
	dataDir    string
	logLevel   string
	configFile string
	preset     string
	dt         float64
	duration   float64
	// Recording
	record    bool
	runRecord bool
	every     int
	svgOut    string
	// Serve
	bind     string
	port     int
	fps      float64
	realTime float64
	adaptive bool
	watch    bool
	cmdRate  float64
	cmdBurst int
	// Live view
	theme string
	// Stored runs, one series selection per command
	plotSeries    []string
	analyzeSeries []string
	exportSeries  []string
	outFile       string
	// Sweep
	sweepRanges []string
	metricName  string
	minimize    bool
	workers     int
	scenarioID  string
)

// main registers the kppsim commands and runs the one named on the command
// line. It exits with status 1 when the command fails.
func main() {
	rootCmd := &cobra.Command{
		Use:           "kppsim",
		Short:         "kinetic power plant simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".kppsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	plantFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
		cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
		cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "start the plant and run it headless",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	plantFlags(runCmd)
	runCmd.Flags().Float64Var(&duration, "time", 120, "simulated duration in seconds")
	runCmd.Flags().BoolVar(&runRecord, "record", true, "record the run to the data directory")
	runCmd.Flags().IntVar(&every, "every", 10, "record every n-th step")
	runCmd.Flags().StringVar(&svgOut, "svg", "", "write the final loop state as svg")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "run the plant and print the energy ledger",
		Args:  cobra.NoArgs,
		RunE:  auditEnergy,
	}
	plantFlags(auditCmd)
	auditCmd.Flags().Float64Var(&duration, "time", 120, "simulated duration in seconds")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [name|file]",
		Short: "run a built-in or yaml scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	plantFlags(scenarioCmd)
	scenarioCmd.Flags().BoolVar(&record, "record", false, "record the run to the data directory")
	scenarioCmd.Flags().IntVar(&every, "every", 10, "record every n-th step")

	scenariosCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "list built-in scenarios",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range scenario.List() {
				sc, _ := scenario.Get(name)
				fmt.Printf("  %-12s %s\n", name, sc.Description)
			}
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the plant in real time behind the http api",
		Args:  cobra.NoArgs,
		RunE:  servePlant,
	}
	plantFlags(serveCmd)
	serveCmd.Flags().StringVar(&bind, "bind", "127.0.0.1", "listen address")
	serveCmd.Flags().IntVar(&port, "port", 8080, "listen port")
	serveCmd.Flags().Float64Var(&fps, "fps", 20, "websocket frames per second (0 for unlimited)")
	serveCmd.Flags().Float64Var(&realTime, "speed", 1, "simulated seconds per wall second (0 for as fast as possible)")
	serveCmd.Flags().BoolVar(&adaptive, "adaptive", false, "shrink dt when steps overrun their wall budget")
	serveCmd.Flags().BoolVar(&watch, "watch", false, "reload --config when the file changes")
	serveCmd.Flags().Float64Var(&cmdRate, "command-rate", 10, "mutating requests per second (0 for unlimited)")
	serveCmd.Flags().IntVar(&cmdBurst, "command-burst", 5, "mutating request burst")
	serveCmd.Flags().BoolVar(&record, "record", false, "record the run to the data directory")
	serveCmd.Flags().IntVar(&every, "every", 10, "record every n-th step")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run the plant with the terminal dashboard",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	plantFlags(liveCmd)
	liveCmd.Flags().StringVar(&theme, "theme", "control-room", "dashboard theme")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results (latest run by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&plotSeries, "series", []string{"power", "chain.velocity", "flywheel.speed"}, "series to plot")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "statistics and power spectrum of a recorded series",
		Args:  cobra.MaximumNArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().StringSliceVar(&analyzeSeries, "series", []string{"chain.velocity"}, "series to analyse")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringSliceVar(&exportSeries, "series", nil, "series to keep (all by default)")
	exportCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (stdout by default)")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "grid search plant parameters over a scenario",
		Args:  cobra.NoArgs,
		RunE:  sweepParams,
	}
	plantFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&sweepRanges, "param", nil, "parameter range name=lo:hi:n (repeatable)")
	sweepCmd.Flags().StringVar(&metricName, "metric", "delivered_energy", "metric to optimise")
	sweepCmd.Flags().BoolVar(&minimize, "minimize", false, "minimise the metric instead")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "parallel runs (0 for one per cpu)")
	sweepCmd.Flags().StringVar(&scenarioID, "scenario", "startup", "scenario name or file")
	sweepCmd.MarkFlagRequired("param")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [file]",
		Short: "print the effective configuration, or save it to file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showConfig,
	}
	plantFlags(configCmd)

	rootCmd.AddCommand(runCmd, auditCmd, scenarioCmd, scenariosCmd, serveCmd, liveCmd,
		listCmd, plotCmd, analyzeCmd, exportCmd, sweepCmd, presetsCmd, configCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the plant configuration: defaults, then --preset,
// then --config, then --dt when given explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if preset != "" {
		p, ok := config.GetPreset(preset)
		if !ok {
			return cfg, fmt.Errorf("unknown preset: %s (available: %s)", preset, strings.Join(config.ListPresets(), ", "))
		}
		cfg = p
	}
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	}
	if cmd.Flags().Changed("dt") {
		cfg.Physics.TimeStep = dt
	}
	return cfg, cfg.Validate()
}

// plantChosen reports whether the command line picked a configuration.
func plantChosen(cmd *cobra.Command) bool {
	return preset != "" || configFile != "" || cmd.Flags().Changed("dt")
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if err := config.Save(args[0], cfg); err != nil {
			return err
		}
		fmt.Printf("saved %s\n", args[0])
		return nil
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
