package exporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylight-bench/uploader/types"
)

func sampleRows() []types.CombinedRow {
	return []types.CombinedRow{
		{
			Rank:         1,
			BaselineName: "dense",
			AvgRank:      1.0,
			AvgValuesPerSparsity: map[float64]float64{
				10.0: 0.0,
				20.0: 0.0,
			},
			NumTables:  4,
			MetricName: "overall_score",
		},
		{
			Rank:         2,
			BaselineName: "quest",
			AvgRank:      2.5,
			AvgValuesPerSparsity: map[float64]float64{
				10.0: -10.0,
			},
			NumTables:  2,
			MetricName: "overall_score",
		},
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleRows(), []float64{20.0, 10.0}, "overall_score"))
	out := buf.String()

	assert.Contains(t, out, "Combined Baseline Rankings - Metric: overall_score")
	assert.Contains(t, out, "dense (Full Attention)")
	assert.Contains(t, out, "Gap@10.0%")
	assert.Contains(t, out, "Gap@20.0%")
	assert.Contains(t, out, "+0.00%")
	assert.Contains(t, out, "-10.00%")
	assert.Contains(t, out, "N/A", "missing sparsity cell for quest")

	// Column order follows sorted sparsities regardless of input order.
	assert.Less(t, strings.Index(out, "Gap@10.0%"), strings.Index(out, "Gap@20.0%"))
}

func TestWriteTableErrorMetric(t *testing.T) {
	rows := sampleRows()
	rows[0].MetricName = "average_local_error"

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, rows, []float64{10.0}, "average_local_error"))
	out := buf.String()

	assert.Contains(t, out, "Err@10.0%")
	assert.NotContains(t, out, "+0.00%", "error metrics are unsigned")
}

func TestWriteTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, nil, nil, "overall_score"))
	assert.Contains(t, buf.String(), "No results to display")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRows()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(t, "dense", decoded[0]["baseline_name"])
	assert.Equal(t, float64(1), decoded[0]["rank"])

	values, ok := decoded[1]["avg_values_per_sparsity"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, -10.0, values["10.0"])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRows(), []float64{10.0, 20.0}, "overall_score"))
	out := buf.String()

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"rank", "baseline_name", "avg_rank", "gap_at_10.0pct", "gap_at_20.0pct", "num_tables"}, records[0])
	assert.Equal(t, []string{"1", "dense", "1.00", "0.00", "0.00", "4"}, records[1])
	assert.Equal(t, []string{"2", "quest", "2.50", "-10.00", "", "2"}, records[2])

	// RFC 4180 output: baseline names are quoted only when the value
	// requires it, so plain names appear bare.
	assert.Contains(t, out, "\n1,dense,1.00,")
}

func TestColumnPrefix(t *testing.T) {
	assert.Equal(t, "Gap@", columnPrefix("overall_score", false))
	assert.Equal(t, "gap_at", columnPrefix("overall_score", true))
	assert.Equal(t, "Err@", columnPrefix("average_local_error", false))
	assert.Equal(t, "error_at", columnPrefix("average_local_error", true))
	assert.Equal(t, "Val@", columnPrefix("string_match", false))
	assert.Equal(t, "value_at", columnPrefix("string_match", true))
}
