package resolver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylight-bench/uploader/store"
)

func newResolver(t *testing.T) (*Resolver, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, NewCache()), st
}

func TestBenchmarkResolutionIsIdempotent(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()

	first, err := r.Benchmark(ctx, "ruler32k")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := r.Benchmark(ctx, "ruler32k")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, st.Count("benchmarks"))
}

func TestResolutionSurvivesColdCache(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	first, err := New(st, NewCache()).Metric(ctx, "overall_score")
	require.NoError(t, err)

	// A new resolver with an empty cache must find the existing row.
	second, err := New(st, NewCache()).Metric(ctx, "overall_score")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, st.Count("metrics"))
}

// racingStore simulates losing a creation race: the first insert succeeds
// against the backing store but reports a conflict, as happens when a
// concurrent writer commits between lookup and insert.
type racingStore struct {
	*store.MemoryStore
	raced bool
}

func (s *racingStore) Insert(ctx context.Context, collection string, rows []store.Row) ([]store.Row, error) {
	inserted, err := s.MemoryStore.Insert(ctx, collection, rows)
	if err != nil {
		return nil, err
	}
	if !s.raced {
		s.raced = true
		return nil, &store.ConflictError{Collection: collection, Err: context.Canceled}
	}
	return inserted, nil
}

func TestConflictRecoveryRequeries(t *testing.T) {
	st := &racingStore{MemoryStore: store.NewMemoryStore()}
	r := New(st, NewCache())
	ctx := context.Background()

	id, err := r.Baseline(ctx, "quest")
	require.NoError(t, err, "a lost race must be recovered, not surfaced")
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, st.Count("baselines"))
}

func TestLLMResolutionInfersAttributes(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()

	_, err := r.LLM(ctx, "meta-llama/Llama-3.2-3B-Instruct")
	require.NoError(t, err)

	rows, err := st.Select(ctx, "llms", nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Meta", rows[0]["provider"])
	assert.Equal(t, int64(3_000_000_000), rows[0]["parameter_count"])
	assert.Equal(t, int64(131072), rows[0]["context_length"])
}

func TestConfigurationIdentity(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()
	params := json.RawMessage(`{"page_size":16}`)

	sparsity := 10.0
	aux := int64(1024)

	first, err := r.Configuration(ctx, "b1", "d1", "l1", &sparsity, &aux, params)
	require.NoError(t, err)

	t.Run("same key resolves to same id regardless of params", func(t *testing.T) {
		other, err := r.Configuration(ctx, "b1", "d1", "l1", &sparsity, &aux, json.RawMessage(`{"page_size":32}`))
		require.NoError(t, err)
		assert.Equal(t, first, other)
		assert.Equal(t, 1, st.Count("configurations"))
	})

	t.Run("null sparsity is a distinct configuration", func(t *testing.T) {
		withNull, err := r.Configuration(ctx, "b1", "d1", "l1", nil, &aux, params)
		require.NoError(t, err)
		assert.NotEqual(t, first, withNull)
	})

	t.Run("zero sparsity is distinct from null", func(t *testing.T) {
		zero := 0.0
		withZero, err := r.Configuration(ctx, "b1", "d1", "l1", &zero, &aux, params)
		require.NoError(t, err)

		withNull, err := r.Configuration(ctx, "b1", "d1", "l1", nil, &aux, params)
		require.NoError(t, err)
		assert.NotEqual(t, withZero, withNull)
	})

	t.Run("null aux memory is a distinct configuration", func(t *testing.T) {
		withNullAux, err := r.Configuration(ctx, "b1", "d1", "l1", &sparsity, nil, params)
		require.NoError(t, err)
		assert.NotEqual(t, first, withNullAux)
	})
}

func TestConfigurationTouchedSet(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()

	sparsity := 5.0
	id1, err := r.Configuration(ctx, "b1", "d1", "l1", &sparsity, nil, json.RawMessage(`{}`))
	require.NoError(t, err)

	// Cache hit must also mark the configuration as touched.
	id1again, err := r.Configuration(ctx, "b1", "d1", "l1", &sparsity, nil, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, id1, id1again)

	id2, err := r.Configuration(ctx, "b2", "d1", "l1", &sparsity, nil, json.RawMessage(`{}`))
	require.NoError(t, err)

	touched := r.Cache().Touched()
	assert.ElementsMatch(t, []string{id1, id2}, touched)
}

func TestDatasetMetricLink(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()

	id, err := r.DatasetMetric(ctx, "d1", "m1", true)
	require.NoError(t, err)

	cached, ok := r.DatasetMetricID("d1", "m1")
	require.True(t, ok)
	assert.Equal(t, id, cached)

	_, ok = r.DatasetMetricID("d1", "m2")
	assert.False(t, ok)

	// Resolving again as non-primary must not flip the stored flag.
	again, err := r.DatasetMetric(ctx, "d1", "m1", false)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	rows, err := st.Select(ctx, "dataset_metrics", nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["is_primary"])
	assert.Equal(t, 1.0, rows[0]["weight"])
}

func TestCacheSizes(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()

	_, err := r.Benchmark(ctx, "ruler32k")
	require.NoError(t, err)
	_, err = r.Metric(ctx, "overall_score")
	require.NoError(t, err)
	_, err = r.Metric(ctx, "string_match")
	require.NoError(t, err)

	sizes := r.Cache().Sizes()
	assert.Equal(t, 1, sizes["benchmarks"])
	assert.Equal(t, 2, sizes["metrics"])
	assert.Equal(t, 0, sizes["configurations"])
}
