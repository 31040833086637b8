package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	t.Run("complete record", func(t *testing.T) {
		violations, err := v.Validate([]byte(`{
			"model_name": "meta-llama/Llama-3.2-3B-Instruct",
			"benchmark": "ruler32k",
			"dataset": "qa_1",
			"baseline": "quest",
			"config": {"sparse_attention_config": {"masker_configs": [{"page_size": 16}]}},
			"benchmark_metrics": {"string_match": 0.85},
			"average_density": 0.1,
			"aux_memory": 512
		}`))
		require.NoError(t, err)
		assert.Empty(t, violations)
	})

	t.Run("missing required fields", func(t *testing.T) {
		violations, err := v.Validate([]byte(`{"benchmark": "ruler32k"}`))
		require.NoError(t, err)
		assert.NotEmpty(t, violations)
	})

	t.Run("wrong metric value type", func(t *testing.T) {
		violations, err := v.Validate([]byte(`{
			"model_name": "m", "benchmark": "b", "dataset": "d", "baseline": "",
			"benchmark_metrics": {"string_match": "high"}
		}`))
		require.NoError(t, err)
		assert.NotEmpty(t, violations)
	})

	t.Run("empty model name", func(t *testing.T) {
		violations, err := v.Validate([]byte(`{
			"model_name": "", "benchmark": "b", "dataset": "d", "baseline": "",
			"benchmark_metrics": {"x": 1}
		}`))
		require.NoError(t, err)
		assert.NotEmpty(t, violations)
	})

	t.Run("nullable optionals", func(t *testing.T) {
		violations, err := v.Validate([]byte(`{
			"model_name": "m", "benchmark": "b", "dataset": "d", "baseline": "",
			"benchmark_metrics": {"x": 1},
			"average_local_error": null,
			"density_target": null
		}`))
		require.NoError(t, err)
		assert.Empty(t, violations)
	})
}
