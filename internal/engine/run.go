package engine

import (
	"context"
	"time"

	"github.com/san-kum/kppsim/internal/dynamo"
)

// Run steps until ctx is done or a step fails fatally. Each snapshot is
// offered to sink without blocking; snapshots a full sink cannot take are
// dropped and counted. sink may be nil.
func (e *Engine) Run(ctx context.Context, sink chan<- Snapshot) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		began := e.clock.Now()
		snap, err := e.Step()
		if err != nil {
			if dynamo.Fatal(err) {
				return err
			}
			e.logger.Warn("step failed", "error", err)
		}
		e.offer(sink, snap, err)

		if e.adaptive != nil && err == nil {
			if next := e.adaptive.Next(snap.Dt, snap.WallTime); next != snap.Dt {
				e.mu.Lock()
				err := e.phys.SetTimeStep(next)
				e.mu.Unlock()
				if err != nil {
					return err
				}
				e.logger.Debug("time step adjusted", "step", snap.Step, "dt", next)
			}
		}

		if e.realTime <= 0 {
			continue
		}
		wait := time.Duration(snap.Dt/e.realTime*float64(time.Second)) - e.clock.Now().Sub(began)
		if wait <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// offer hands a new snapshot to sink without blocking. A failed step
// produced nothing new, so its snapshot is not sent again.
func (e *Engine) offer(sink chan<- Snapshot, snap Snapshot, err error) {
	if sink == nil || err != nil {
		return
	}
	select {
	case sink <- snap:
	default:
		e.dropped.Add(1)
	}
}

// RunFor takes n steps, stopping early on error.
func (e *Engine) RunFor(n int) (Snapshot, error) {
	snap := e.Snapshot()
	for i := 0; i < n; i++ {
		var err error
		if snap, err = e.Step(); err != nil {
			return snap, err
		}
	}
	return snap, nil
}
