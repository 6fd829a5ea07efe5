package storage

import (
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/san-kum/kppsim/internal/engine"
)

var nan = math.NaN()

// Recorder appends snapshots to a run's snapshots.csv, one row per kept
// snapshot with engine.Fields as columns.
type Recorder struct {
	store *Store
	file  *os.File
	w     *csv.Writer
	every int

	mu     sync.Mutex
	meta   RunMetadata
	seen   int
	last   engine.Snapshot
	closed bool
	row    []string
}

// Record creates a new run and opens it for writing. Every n-th snapshot is
// kept; n < 1 keeps all.
func (s *Store) Record(meta RunMetadata, every int) (*Recorder, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	meta, err := s.Create(meta)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(s.runDir(meta.ID), snapshotsFile))
	if err != nil {
		return nil, err
	}
	if every < 1 {
		every = 1
	}
	r := &Recorder{store: s, file: f, w: csv.NewWriter(f), every: every, meta: meta}
	if err := r.w.Write(engine.FieldNames()); err != nil {
		f.Close()
		return nil, err
	}
	r.row = make([]string, len(engine.Fields))
	return r, nil
}

func (r *Recorder) ID() string { return r.meta.ID }

// Write records one snapshot.
func (r *Recorder) Write(s engine.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen++
	r.last = s
	if (r.seen-1)%r.every != 0 {
		return nil
	}
	for i, f := range engine.Fields {
		r.row[i] = strconv.FormatFloat(f.Get(&s), 'g', 10, 64)
	}
	if err := r.w.Write(r.row); err != nil {
		return err
	}
	r.meta.Recorded++
	if r.meta.Recorded%256 == 0 {
		r.w.Flush()
		return r.w.Error()
	}
	return nil
}

// Run consumes snapshots until in is closed or ctx is done.
func (r *Recorder) Run(ctx context.Context, in <-chan engine.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.Write(s); err != nil {
				return err
			}
		}
	}
}

// Close flushes the data and finalises the metadata. It is safe to call
// more than once; later calls return the stored metadata.
func (r *Recorder) Close(metrics map[string]float64, dropped uint64) (RunMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.meta, nil
	}
	r.closed = true

	r.w.Flush()
	werr := r.w.Error()
	cerr := r.file.Close()

	r.meta.Finished = time.Now().UTC()
	r.meta.Steps = r.last.Step
	r.meta.Dropped = dropped
	r.meta.Metrics = metrics
	if r.seen > 0 {
		r.meta.FinalState = r.last.State.String()
	}
	if err := r.store.WriteMetadata(r.meta); err != nil {
		return r.meta, err
	}
	if werr != nil {
		return r.meta, werr
	}
	return r.meta, cerr
}
