// Package exporter renders the combined leaderboard as a terminal table,
// JSON or CSV.
package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/skylight-bench/uploader/classifier"
	"github.com/skylight-bench/uploader/types"
)

// columnPrefix returns the per-sparsity column label prefix for a metric,
// in table form ("Gap@") or CSV form ("gap_at").
func columnPrefix(metricName string, csvForm bool) string {
	switch metricName {
	case "overall_score":
		if csvForm {
			return "gap_at"
		}
		return "Gap@"
	case "average_local_error":
		if csvForm {
			return "error_at"
		}
		return "Err@"
	default:
		if csvForm {
			return "value_at"
		}
		return "Val@"
	}
}

// WriteTable renders rows as a human-readable table with one value column
// per sparsity level.
func WriteTable(w io.Writer, rows []types.CombinedRow, sparsities []float64, metricName string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No results to display")
		return err
	}

	sorted := append([]float64(nil), sparsities...)
	sort.Float64s(sorted)

	prefix := columnPrefix(metricName, false)
	const metricColWidth = 14
	totalWidth := 6 + 40 + 15 + 12 + metricColWidth*len(sorted)

	rule := strings.Repeat("=", totalWidth)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Combined Baseline Rankings - Metric: %s\n", metricName)
	fmt.Fprintln(w, rule)

	header := fmt.Sprintf("%-6s %-40s %-15s", "Rank", "Baseline", "Average Rank")
	for _, s := range sorted {
		header += fmt.Sprintf(" %-*s", metricColWidth, fmt.Sprintf("%s%.1f%%", prefix, s))
	}
	header += fmt.Sprintf(" %-12s", "# Tables")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", totalWidth))

	for _, row := range rows {
		name := row.BaselineName
		if name == classifier.BaselineDense {
			name += " (Full Attention)"
		}
		line := fmt.Sprintf("%-6d %-40s %-15.2f", row.Rank, name, row.AvgRank)
		for _, s := range sorted {
			value, ok := row.AvgValuesPerSparsity[s]
			cell := "N/A"
			if ok {
				if metricName == "overall_score" {
					cell = fmt.Sprintf("%+.2f%%", value)
				} else {
					cell = fmt.Sprintf("%.2f%%", value)
				}
			}
			line += fmt.Sprintf(" %-*s", metricColWidth, cell)
		}
		line += fmt.Sprintf(" %-12d", row.NumTables)
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "\nTotal baselines: %d\n", len(rows))
	fmt.Fprintln(w, "Note: Lower average rank is better. Rank 1 = best overall performance.")
	return nil
}

// WriteJSON renders rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []types.CombinedRow) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

// WriteCSV renders rows as CSV with one value column per sparsity level.
// Missing values become empty cells.
func WriteCSV(w io.Writer, rows []types.CombinedRow, sparsities []float64, metricName string) error {
	sorted := append([]float64(nil), sparsities...)
	sort.Float64s(sorted)

	cw := csv.NewWriter(w)
	prefix := columnPrefix(metricName, true)

	header := []string{"rank", "baseline_name", "avg_rank"}
	for _, s := range sorted {
		header = append(header, fmt.Sprintf("%s_%.1fpct", prefix, s))
	}
	header = append(header, "num_tables")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			fmt.Sprintf("%d", row.Rank),
			row.BaselineName,
			fmt.Sprintf("%.2f", row.AvgRank),
		}
		for _, s := range sorted {
			if value, ok := row.AvgValuesPerSparsity[s]; ok {
				record = append(record, fmt.Sprintf("%.2f", value))
			} else {
				record = append(record, "")
			}
		}
		record = append(record, fmt.Sprintf("%d", row.NumTables))
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}
