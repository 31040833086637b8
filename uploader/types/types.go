package types

import (
	"encoding/json"
	"strconv"
)

// Record is one line of the JSONL input file: a single experimental
// measurement of a baseline on a dataset with a given model.
type Record struct {
	ModelName        string             `json:"model_name"`
	Benchmark        string             `json:"benchmark"`
	Dataset          string             `json:"dataset"`
	Baseline         string             `json:"baseline"`
	Config           map[string]any     `json:"config"`
	BenchmarkMetrics map[string]float64 `json:"benchmark_metrics"`

	// Optional scalar measurements. Pointers distinguish absent from zero.
	AverageLocalError *float64 `json:"average_local_error,omitempty"`
	AverageDensity    *float64 `json:"average_density,omitempty"`
	OverallScore      *float64 `json:"overall_score,omitempty"`
	AuxMemory         *float64 `json:"aux_memory,omitempty"`
	DensityTarget     *float64 `json:"density_target,omitempty"`
}

// ConfigJSON returns the raw configuration tree as an opaque JSON blob for
// storage. It is informational only and never part of identity.
func (r *Record) ConfigJSON() json.RawMessage {
	if r.Config == nil {
		return json.RawMessage(`{}`)
	}
	b, err := json.Marshal(r.Config)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// ResultRow is one scalar value bound to (configuration, dataset metric,
// experimental run). The 3-tuple is the upsert key.
type ResultRow struct {
	ConfigurationID   string  `json:"configuration_id"`
	DatasetMetricID   string  `json:"dataset_metric_id"`
	ExperimentalRunID string  `json:"experimental_run_id"`
	Value             float64 `json:"value"`
}

// FailedRecord identifies a record that could not be processed, for the
// run-end summary.
type FailedRecord struct {
	Index    int    `json:"index"` // 1-based position in the input file
	Baseline string `json:"baseline"`
	Dataset  string `json:"dataset"`
	Model    string `json:"model"`
	Reason   string `json:"reason"`
}

// UploadSummary is the run-end report of an ingestion session.
type UploadSummary struct {
	RunID           string         `json:"run_id"`
	TotalInFile     int            `json:"total_in_file"`
	TotalProcessed  int            `json:"total_processed"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	SkippedLines    int            `json:"skipped_lines"`
	ExhaustedRows   int            `json:"exhausted_rows"` // result rows never written after retries
	FailedRecords   []FailedRecord `json:"failed_records,omitempty"`
	CacheSizes      map[string]int `json:"cache_sizes"`
	DryRun          bool           `json:"dry_run"`
}

// TableEntry is one baseline's standing in a single (model, sparsity)
// ranking table.
type TableEntry struct {
	Rank        int     `json:"rank"`
	Score       float64 `json:"score"`
	MetricValue float64 `json:"metric_value"` // gap relative to dense, in percent
}

// CombinedRow is one baseline's row in the combined leaderboard.
type CombinedRow struct {
	Rank                 int                 `json:"rank"`
	BaselineName         string              `json:"baseline_name"`
	AvgRank              float64             `json:"avg_rank"`
	AvgValuesPerSparsity map[float64]float64 `json:"-"`
	NumTables            int                 `json:"num_tables"`
	MetricName           string              `json:"metric_name"`
}

// MarshalJSON renders the per-sparsity averages under string keys, since
// JSON objects cannot carry float keys.
func (r CombinedRow) MarshalJSON() ([]byte, error) {
	type alias CombinedRow
	values := make(map[string]float64, len(r.AvgValuesPerSparsity))
	for sparsity, v := range r.AvgValuesPerSparsity {
		values[strconv.FormatFloat(sparsity, 'f', 1, 64)] = v
	}
	return json.Marshal(struct {
		alias
		AvgValuesPerSparsity map[string]float64 `json:"avg_values_per_sparsity"`
	}{alias(r), values})
}

// RecordFilter narrows which parsed records are processed.
type RecordFilter struct {
	Models    []string
	Baselines []string
	Offset    int
	Limit     int // <= 0 means no limit
}

// RankingOptions controls a combined-ranking computation.
type RankingOptions struct {
	Models     []string  // LLM names to include; empty means all
	Sparsities []float64 // target sparsities to include; empty means all
	Metric     string    // metric to rank by
	Workers    int       // worker pool size, <= 0 means 1
}
