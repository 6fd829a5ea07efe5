package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/san-kum/kppsim/internal/api"
	"github.com/san-kum/kppsim/internal/broadcast"
	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/metrics"
	"github.com/san-kum/kppsim/internal/storage"
)

func servePlant(cmd *cobra.Command, args []string) error {
	if watch && configFile == "" {
		return errors.New("--watch needs --config")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metrics.Standard()...),
		engine.WithRealTime(realTime),
	}
	if adaptive {
		opts = append(opts, engine.WithAdaptive(engine.NewAdaptiveTimeStep(cfg.Physics.TimeStep)))
	}
	e, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}

	hub := broadcast.NewHub(fps, logger)
	srv := api.New(api.Config{
		Bind:         bind,
		Port:         port,
		CommandRate:  rate.Limit(cmdRate),
		CommandBurst: cmdBurst,
	}, e, hub, logger)

	var rec *storage.Recorder
	if record {
		rec, err = storage.New(dataDir).Record(storage.RunMetadata{
			Name:        "serve",
			Preset:      preset,
			Dt:          cfg.Physics.TimeStep,
			Config:      cfg,
			Description: "served at " + srv.Addr(),
		}, every)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	snaps := make(chan engine.Snapshot, 64)
	toHub := make(chan engine.Snapshot, 4)
	toRec := make(chan engine.Snapshot, 256)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error { return hub.Pump(ctx, toHub) })
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error {
		defer close(snaps)
		return quiet(e.Run(ctx, snaps))
	})
	// Fan out: the hub takes what it can, the recorder gets everything
	// the engine did not drop.
	g.Go(func() error {
		defer close(toHub)
		defer close(toRec)
		for s := range snaps {
			select {
			case toHub <- s:
			default:
			}
			if rec == nil {
				continue
			}
			select {
			case toRec <- s:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	if rec != nil {
		g.Go(func() error { return rec.Run(ctx, toRec) })
	}
	if watch {
		g.Go(func() error { return quiet(config.Watch(ctx, configFile, logger, e.Reload)) })
	}

	fmt.Printf("serving plant on http://%s (ctrl-c to stop)\n", srv.Addr())
	err = g.Wait()

	if rec != nil {
		meta, cerr := rec.Close(e.Metrics(), e.Dropped())
		if cerr != nil && err == nil {
			err = cerr
		}
		fmt.Printf("run id: %s\n", meta.ID)
	}
	logger.Info("stopped", "dropped_snapshots", e.Dropped(), "dropped_frames", hub.Dropped())
	return err
}

// quiet treats cancellation as a clean stop.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
