package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"meta-llama/Llama-3.2-3B-Instruct", "Meta"},
		{"Qwen/Qwen2.5-7B-Instruct", "Qwen"},
		{"mistralai/Mistral-7B", "Mistral AI"},
		{"some-org/custom-model", "Some Org"},
		{"standalone-model", "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, Provider(tt.model))
		})
	}
}

func TestParameterCount(t *testing.T) {
	t.Run("integer billions", func(t *testing.T) {
		got := ParameterCount("Qwen/Qwen2.5-7B-Instruct")
		require.NotNil(t, got)
		assert.Equal(t, int64(7_000_000_000), *got)
	})

	t.Run("fractional billions", func(t *testing.T) {
		got := ParameterCount("org/model-1.5B")
		require.NotNil(t, got)
		assert.Equal(t, int64(1_500_000_000), *got)
	})

	t.Run("size token inside a version string", func(t *testing.T) {
		got := ParameterCount("meta-llama/Llama-3.2-3B-Instruct")
		require.NotNil(t, got)
		assert.Equal(t, int64(3_000_000_000), *got)
	})

	t.Run("no size token", func(t *testing.T) {
		assert.Nil(t, ParameterCount("meta-llama/Llama-Instruct"))
	})
}

func TestContextLength(t *testing.T) {
	assert.Equal(t, int64(32768), ContextLength("model-32k-instruct"))
	assert.Equal(t, int64(16384), ContextLength("model-16K"))
	assert.Equal(t, int64(131072), ContextLength("model"))
}

func TestMetricFor(t *testing.T) {
	t.Run("known metric", func(t *testing.T) {
		def := MetricFor("average_local_error")
		assert.Equal(t, "Average Local Error", def.DisplayName)
		assert.False(t, def.HigherIsBetter)
	})

	t.Run("unknown metric defaults to higher is better", func(t *testing.T) {
		def := MetricFor("exact_match_rate")
		assert.Equal(t, "Exact Match Rate", def.DisplayName)
		assert.True(t, def.HigherIsBetter)
	})
}

func TestDescriptions(t *testing.T) {
	assert.Contains(t, BenchmarkDescription("ruler32k"), "RULER")
	assert.Equal(t, "Benchmark: custom", BenchmarkDescription("custom"))
	assert.Contains(t, DatasetDescription("qa_1"), "Question Answering")
	assert.Contains(t, BaselineDescription("quest"), "QUEST")
	assert.Equal(t, "vAttention with Oracle Top-K", BaselineDescription("vattention+oracle-topk"))
	assert.Equal(t, "vAttention with Hash-based Attention", BaselineDescription("vattention+hash-attention"))
	assert.NotEmpty(t, BaselineDescription("unheard-of"))
}
