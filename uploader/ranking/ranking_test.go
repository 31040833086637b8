package ranking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylight-bench/uploader/store"
	"github.com/skylight-bench/uploader/types"
)

// fixture seeds one model with a dense reference and sparse baselines.
type fixture struct {
	st       *store.MemoryStore
	metricOS string // overall_score dataset metric link
	metricLE string // average_local_error dataset metric link
	dense    string
	quest    string
	magicPig string
	llm      string
}

func insertOne(t *testing.T, st *store.MemoryStore, collection string, row store.Row) string {
	t.Helper()
	rows, err := st.Insert(context.Background(), collection, []store.Row{row})
	require.NoError(t, err)
	return rows[0].ID()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	f := &fixture{st: st}

	osID := insertOne(t, st, "metrics", store.Row{"name": "overall_score", "higher_is_better": true})
	leID := insertOne(t, st, "metrics", store.Row{"name": "average_local_error", "higher_is_better": false})
	f.metricOS = insertOne(t, st, "dataset_metrics", store.Row{"dataset_id": "d1", "metric_id": osID})
	f.metricLE = insertOne(t, st, "dataset_metrics", store.Row{"dataset_id": "d1", "metric_id": leID})

	f.dense = insertOne(t, st, "baselines", store.Row{"name": "dense"})
	f.quest = insertOne(t, st, "baselines", store.Row{"name": "quest"})
	f.magicPig = insertOne(t, st, "baselines", store.Row{"name": "magic-pig"})
	f.llm = insertOne(t, st, "llms", store.Row{"name": "llama"})
	return f
}

// addResult creates a configuration and one result value against the given
// dataset metric link.
func (f *fixture) addResult(t *testing.T, baselineID string, sparsity any, dmID string, value float64) {
	t.Helper()
	configID := insertOne(t, f.st, "configurations", store.Row{
		"baseline_id":       baselineID,
		"dataset_id":        "d1",
		"llm_id":            f.llm,
		"target_sparsity":   sparsity,
		"target_aux_memory": nil,
	})
	insertOne(t, f.st, "results", store.Row{
		"configuration_id":    configID,
		"dataset_metric_id":   dmID,
		"experimental_run_id": "r1",
		"value":               value,
	})
}

func TestSparsities(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.dense, 100.0, f.metricOS, 0.90)
	f.addResult(t, f.quest, 10.0, f.metricOS, 0.81)
	f.addResult(t, f.magicPig, nil, f.metricOS, 0.80)

	got, err := New(f.st).Sparsities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{10.0, 100.0}, got, "null sparsities are excluded, result is sorted")
}

func TestCombinedSingleTable(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.dense, 100.0, f.metricOS, 0.90)
	f.addResult(t, f.quest, 10.0, f.metricOS, 0.81)
	f.addResult(t, f.magicPig, 10.0, f.metricOS, 0.85)

	rows, sparsities, err := New(f.st).Combined(context.Background(), types.RankingOptions{
		Sparsities: []float64{10.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{10.0}, sparsities)
	require.Len(t, rows, 3)

	assert.Equal(t, "dense", rows[0].BaselineName)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, 1.0, rows[0].AvgRank)
	assert.InDelta(t, 0.0, rows[0].AvgValuesPerSparsity[10.0], 1e-9)

	assert.Equal(t, "magic-pig", rows[1].BaselineName)
	assert.InDelta(t, -5.5556, rows[1].AvgValuesPerSparsity[10.0], 1e-3)

	assert.Equal(t, "quest", rows[2].BaselineName)
	assert.Equal(t, 3, rows[2].Rank)
	assert.InDelta(t, -10.0, rows[2].AvgValuesPerSparsity[10.0], 1e-9)

	for _, row := range rows {
		assert.Equal(t, 1, row.NumTables)
		assert.Equal(t, "overall_score", row.MetricName)
	}
}

func TestCombinedAveragesAcrossTables(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.dense, 100.0, f.metricOS, 0.90)
	f.addResult(t, f.quest, 10.0, f.metricOS, 0.81)
	f.addResult(t, f.quest, 20.0, f.metricOS, 0.72)
	f.addResult(t, f.magicPig, 10.0, f.metricOS, 0.85)

	rows, _, err := New(f.st).Combined(context.Background(), types.RankingOptions{
		Sparsities: []float64{10.0, 20.0},
		Workers:    4,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byName := map[string]types.CombinedRow{}
	for _, row := range rows {
		byName[row.BaselineName] = row
	}

	dense := byName["dense"]
	assert.Equal(t, 1.0, dense.AvgRank, "dense ranks first in both tables")
	assert.Equal(t, 2, dense.NumTables)

	quest := byName["quest"]
	// Rank 3 at 10% (behind dense and magic-pig), rank 2 at 20%.
	assert.Equal(t, 2.5, quest.AvgRank)
	assert.Equal(t, 2, quest.NumTables)
	assert.InDelta(t, -10.0, quest.AvgValuesPerSparsity[10.0], 1e-9)
	assert.InDelta(t, -20.0, quest.AvgValuesPerSparsity[20.0], 1e-9)

	magicPig := byName["magic-pig"]
	assert.Equal(t, 1, magicPig.NumTables, "absent from the 20% table")
	_, has20 := magicPig.AvgValuesPerSparsity[20.0]
	assert.False(t, has20)
}

// database/sql backends scan NUMERIC columns into strings; rankings must
// read those the same as native floats.
func TestCombinedWithStringNumericValues(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.dense, 100.0, f.metricOS, 0.90)

	configID := insertOne(t, f.st, "configurations", store.Row{
		"baseline_id":       f.quest,
		"dataset_id":        "d1",
		"llm_id":            f.llm,
		"target_sparsity":   10.0,
		"target_aux_memory": nil,
	})
	insertOne(t, f.st, "results", store.Row{
		"configuration_id":    configID,
		"dataset_metric_id":   f.metricOS,
		"experimental_run_id": "r1",
		"value":               "0.81",
	})

	rows, _, err := New(f.st).Combined(context.Background(), types.RankingOptions{
		Sparsities: []float64{10.0},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "quest", rows[1].BaselineName)
	assert.InDelta(t, -10.0, rows[1].AvgValuesPerSparsity[10.0], 1e-9)
}

func TestFloatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float64", 0.81, 0.81, true},
		{"float32", float32(0.5), 0.5, true},
		{"int", 3, 3.0, true},
		{"int64", int64(25), 25.0, true},
		{"numeric string", "12.5", 12.5, true},
		{"non-numeric string", "dense", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := floatValue(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCombinedLowerIsBetterMetric(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.dense, 100.0, f.metricLE, 0.0)
	f.addResult(t, f.quest, 10.0, f.metricLE, 0.02)

	rows, _, err := New(f.st).Combined(context.Background(), types.RankingOptions{
		Metric:     "average_local_error",
		Sparsities: []float64{10.0},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "dense", rows[0].BaselineName, "lower error ranks first")
	// Dense error is zero, so values are shown as raw percentages.
	assert.InDelta(t, 2.0, rows[1].AvgValuesPerSparsity[10.0], 1e-9)
}

func TestCombinedModelFilter(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.dense, 100.0, f.metricOS, 0.90)
	f.addResult(t, f.quest, 10.0, f.metricOS, 0.81)

	_, _, err := New(f.st).Combined(context.Background(), types.RankingOptions{
		Models: []string{"no-such-model"},
	})
	assert.Error(t, err)

	rows, _, err := New(f.st).Combined(context.Background(), types.RankingOptions{
		Models:     []string{"llama"},
		Sparsities: []float64{10.0},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCombinedUnknownMetric(t *testing.T) {
	f := newFixture(t)
	_, _, err := New(f.st).Combined(context.Background(), types.RankingOptions{Metric: "nope"})
	assert.Error(t, err)
}

func TestModels(t *testing.T) {
	f := newFixture(t)
	models, err := New(f.st).Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama", models[0].Name)
	assert.NotEmpty(t, models[0].ID)
}
