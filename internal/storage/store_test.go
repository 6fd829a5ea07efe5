package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/transient"
)

func snap(step int) engine.Snapshot {
	return engine.Snapshot{
		Step:  step,
		Time:  float64(step) * 0.01,
		Dt:    0.01,
		State: transient.SystemState{Kind: transient.Operational},
		Chain: engine.ChainView{Velocity: float64(step) / 10},
	}
}

func TestRecordAndLoad(t *testing.T) {
	st := New(t.TempDir())
	rec, err := st.Record(RunMetadata{Name: "test", Dt: 0.01, Config: config.Default()}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID())

	for i := 1; i <= 5; i++ {
		require.NoError(t, rec.Write(snap(i)))
	}
	meta, err := rec.Close(map[string]float64{"delivered_energy": 12.5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Recorded)
	assert.Equal(t, 5, meta.Steps)
	assert.Equal(t, uint64(3), meta.Dropped)
	assert.Equal(t, "operational", meta.FinalState)

	again, err := rec.Close(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, again.ID)

	loaded, err := st.Load(rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "test", loaded.Name)
	assert.Equal(t, 12.5, loaded.Metrics["delivered_energy"])
	assert.Equal(t, config.Default().Floaters.Count, loaded.Config.Floaters.Count)
	assert.False(t, loaded.Finished.IsZero())

	series, err := st.LoadSeries(rec.ID())
	require.NoError(t, err)
	assert.Equal(t, engine.FieldNames(), series.Columns)
	assert.Equal(t, 3, series.Len())
	v, err := series.Get("chain.velocity")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1, 0.3, 0.5}, v, 1e-12)
	_, err = series.Get("nope")
	assert.Error(t, err)
}

func TestLoadMissing(t *testing.T) {
	st := New(t.TempDir())
	_, err := st.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.LoadSeries("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Latest()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByStart(t *testing.T) {
	st := New(t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, name := range []string{"second", "first"} {
		meta, err := st.Create(RunMetadata{Name: name, Started: base.Add(time.Duration(1-i) * time.Hour)})
		require.NoError(t, err)
		ids = append(ids, meta.ID)
	}
	runs, err := st.List()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "first", runs[0].Name)
	assert.Equal(t, "second", runs[1].Name)

	latest, err := st.Latest()
	require.NoError(t, err)
	assert.Equal(t, ids[0], latest.ID)
}

func TestRecorderRun(t *testing.T) {
	st := New(t.TempDir())
	rec, err := st.Record(RunMetadata{Name: "chan"}, 1)
	require.NoError(t, err)

	in := make(chan engine.Snapshot, 4)
	for i := 1; i <= 4; i++ {
		in <- snap(i)
	}
	close(in)
	require.NoError(t, rec.Run(context.Background(), in))
	meta, err := rec.Close(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, meta.Recorded)
}

func TestExport(t *testing.T) {
	st := New(t.TempDir())
	rec, err := st.Record(RunMetadata{Name: "export"}, 1)
	require.NoError(t, err)
	require.NoError(t, rec.Write(snap(1)))
	require.NoError(t, rec.Write(snap(2)))
	_, err = rec.Close(nil, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, st.Export(&buf, rec.ID(), "time", "chain.velocity"))
	var out ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 2, out.Steps)
	assert.Len(t, out.Series, 2)
	assert.InDeltaSlice(t, []float64{0.01, 0.02}, out.Series["time"], 1e-12)

	assert.Error(t, st.Export(&buf, rec.ID(), "nope"))
}
