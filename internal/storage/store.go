// Package storage keeps recorded runs on disk. Each run is a directory named
// by its id holding metadata.json and snapshots.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/kppsim/internal/config"
)

const (
	metadataFile  = "metadata.json"
	snapshotsFile = "snapshots.csv"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Preset      string             `json:"preset,omitempty"`
	Started     time.Time          `json:"started"`
	Finished    time.Time          `json:"finished,omitempty"`
	Dt          float64            `json:"dt"`
	Steps       int                `json:"steps"`
	Recorded    int                `json:"recorded"`
	Dropped     uint64             `json:"dropped"`
	FinalState  string             `json:"final_state,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Config      config.Config      `json:"config"`
	Description string             `json:"description,omitempty"`
}

// Create makes a new run directory with a fresh id and writes its initial
// metadata.
func (s *Store) Create(meta RunMetadata) (RunMetadata, error) {
	meta.ID = uuid.NewString()
	if meta.Started.IsZero() {
		meta.Started = time.Now().UTC()
	}
	if err := os.MkdirAll(s.runDir(meta.ID), 0755); err != nil {
		return meta, err
	}
	return meta, s.WriteMetadata(meta)
}

func (s *Store) runDir(id string) string { return filepath.Join(s.baseDir, id) }

// WriteMetadata replaces the run's metadata.json.
func (s *Store) WriteMetadata(meta RunMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.runDir(meta.ID), metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.runDir(meta.ID), metadataFile))
}

// List returns all readable runs, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.Before(runs[j].Started) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	return &meta, nil
}

// Latest returns the most recently started run.
func (s *Store) Latest() (*RunMetadata, error) {
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return &runs[len(runs)-1], nil
}

// Series is a recorded run read back column-wise.
type Series struct {
	Columns []string
	Values  map[string][]float64
}

func (s *Series) Len() int {
	if len(s.Columns) == 0 {
		return 0
	}
	return len(s.Values[s.Columns[0]])
}

// Get returns the named column.
func (s *Series) Get(name string) ([]float64, error) {
	v, ok := s.Values[name]
	if !ok {
		return nil, fmt.Errorf("storage: no column %q", name)
	}
	return v, nil
}

// LoadSeries reads snapshots.csv back into columns. Unparseable cells read
// as NaN so rows stay aligned.
func (s *Store) LoadSeries(runID string) (*Series, error) {
	file, err := os.Open(filepath.Join(s.runDir(runID), snapshotsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()
	return readSeries(file)
}

func readSeries(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return &Series{Values: map[string][]float64{}}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &Series{Columns: header, Values: make(map[string][]float64, len(header))}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for i, name := range header {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				v = nan
			}
			out.Values[name] = append(out.Values[name], v)
		}
	}
}
