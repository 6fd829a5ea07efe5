package optim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/kppsim/internal/config"
	"github.com/san-kum/kppsim/internal/scenario"
)

func TestToUpdate(t *testing.T) {
	u, err := ToUpdate(map[string]float64{"target_power": 9000, "load_kp": 1e-4})
	require.NoError(t, err)
	require.NotNil(t, u.TargetPower)
	require.NotNil(t, u.LoadKp)
	assert.Equal(t, 9000.0, *u.TargetPower)
	assert.Nil(t, u.LoadKi)

	_, err = ToUpdate(map[string]float64{"warp_factor": 9})
	assert.Error(t, err)
}

func TestNewGridSearchRejects(t *testing.T) {
	_, err := NewGridSearch(nil, nil)
	assert.Error(t, err)
	_, err = NewGridSearch([]string{"target_power"}, [][]float64{{}})
	assert.Error(t, err)
	_, err = NewGridSearch([]string{"warp_factor"}, [][]float64{{1}})
	assert.Error(t, err)
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, Linspace(0, 1, 3))
	assert.Equal(t, []float64{2}, Linspace(2, 5, 1))
}

func TestCombinations(t *testing.T) {
	g, err := NewGridSearch([]string{"target_power", "load_kp"}, [][]float64{{1, 2, 3}, {4, 5}})
	require.NoError(t, err)
	combos := g.combinations()
	require.Len(t, combos, 6)
	assert.Equal(t, map[string]float64{"target_power": 1, "load_kp": 4}, combos[0])
	assert.Equal(t, map[string]float64{"target_power": 3, "load_kp": 5}, combos[5])
}

func TestSearch(t *testing.T) {
	sc := &scenario.Scenario{
		Name:     "tiny",
		Duration: 0.2,
		Actions:  []scenario.Action{{At: 0, Do: scenario.Start}},
	}
	g, err := NewGridSearch([]string{"time_step"}, [][]float64{{-1, 0.01, 0.02}})
	require.NoError(t, err)
	g.Goal = Minimize
	g.Workers = 2

	res, err := g.Search(context.Background(), config.Default(), sc, "delivered_energy")
	require.NoError(t, err)
	require.Len(t, res.Trials, 3)
	assert.NotEmpty(t, res.Trials[0].Err, "negative time step should be rejected")
	assert.Empty(t, res.Trials[1].Err)
	require.NotNil(t, res.Best)
	assert.Empty(t, res.Best.Err)
	assert.Len(t, res.Ranked(Minimize), 2)
}

func TestSearchUnknownMetric(t *testing.T) {
	sc := &scenario.Scenario{Name: "tiny", Duration: 0.05}
	g, err := NewGridSearch([]string{"target_power"}, [][]float64{{5000}})
	require.NoError(t, err)
	res, err := g.Search(context.Background(), config.Default(), sc, "nope")
	assert.Error(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Trials[0].Err, "unknown metric")
}
