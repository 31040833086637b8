// Package ranking computes the combined cross-table baseline leaderboard:
// one ranking table per (model, target sparsity) pair, aggregated into an
// average rank per baseline.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skylight-bench/uploader/classifier"
	"github.com/skylight-bench/uploader/store"
	"github.com/skylight-bench/uploader/types"
)

// Model is one ranked model, by store id and display name.
type Model struct {
	ID   string
	Name string
}

type metricInfo struct {
	id             string
	name           string
	higherIsBetter bool
}

// Engine computes leaderboard rankings from the record store.
type Engine struct {
	store store.Store
	log   logrus.FieldLogger
}

// New creates a ranking engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{
		store: st,
		log:   logrus.WithField("component", "ranking"),
	}
}

// Models lists every model in the store.
func (e *Engine) Models(ctx context.Context) ([]Model, error) {
	rows, err := e.store.Select(ctx, "llms", []string{"id", "name"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	models := make([]Model, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		models = append(models, Model{ID: row.ID(), Name: name})
	}
	return models, nil
}

// Sparsities lists every distinct non-null target sparsity, ascending.
func (e *Engine) Sparsities(ctx context.Context) ([]float64, error) {
	rows, err := e.store.Select(ctx, "configurations", []string{"target_sparsity"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list target sparsities: %w", err)
	}
	seen := map[float64]struct{}{}
	for _, row := range rows {
		if v, ok := floatValue(row["target_sparsity"]); ok {
			seen[v] = struct{}{}
		}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out, nil
}

func (e *Engine) metricInfo(ctx context.Context, name string) (metricInfo, error) {
	rows, err := e.store.Select(ctx, "metrics", []string{"id", "higher_is_better"}, []store.Filter{store.Eq("name", name)})
	if err != nil {
		return metricInfo{}, fmt.Errorf("failed to look up metric %q: %w", name, err)
	}
	if len(rows) == 0 {
		return metricInfo{}, fmt.Errorf("metric %q not found", name)
	}
	higher, _ := rows[0]["higher_is_better"].(bool)
	return metricInfo{id: rows[0].ID(), name: name, higherIsBetter: higher}, nil
}

func (e *Engine) baselines(ctx context.Context) (map[string]string, error) {
	rows, err := e.store.Select(ctx, "baselines", []string{"id", "name"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		out[row.ID()] = name
	}
	return out, nil
}

// configurationScore averages the metric values of one baseline's
// configurations for a model at a sparsity. Dense configurations are not
// sparsity-filtered because dense rows serve as the reference at every
// sparsity level.
func (e *Engine) baselineScore(ctx context.Context, baselineID, baselineName, llmID string, sparsity float64, metric metricInfo) (float64, bool, error) {
	filters := []store.Filter{
		store.Eq("baseline_id", baselineID),
		store.Eq("llm_id", llmID),
	}
	if baselineName != classifier.BaselineDense {
		filters = append(filters, store.Eq("target_sparsity", sparsity))
	}
	configs, err := e.store.Select(ctx, "configurations", []string{"id", "dataset_id"}, filters)
	if err != nil {
		return 0, false, err
	}

	var sum float64
	var n int
	for _, cfg := range configs {
		datasetID, _ := cfg["dataset_id"].(string)
		links, err := e.store.Select(ctx, "dataset_metrics", []string{"id"}, []store.Filter{
			store.Eq("dataset_id", datasetID),
			store.Eq("metric_id", metric.id),
		})
		if err != nil {
			return 0, false, err
		}
		if len(links) == 0 {
			continue
		}
		results, err := e.store.Select(ctx, "results", []string{"value"}, []store.Filter{
			store.Eq("configuration_id", cfg.ID()),
			store.Eq("dataset_metric_id", links[0].ID()),
		})
		if err != nil {
			return 0, false, err
		}
		if len(results) == 0 {
			continue
		}
		if v, ok := floatValue(results[0]["value"]); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// tableRanking ranks every baseline for one (model, sparsity) table.
// Baselines with no measured value are absent from the result. The metric
// value is the percentage gap relative to the dense score when one exists
// and is positive, otherwise the raw score scaled to a percentage.
func (e *Engine) tableRanking(ctx context.Context, llmID string, sparsity float64, metric metricInfo, baselines map[string]string) (map[string]types.TableEntry, error) {
	type scored struct {
		name  string
		score float64
	}
	var entries []scored
	for baselineID, baselineName := range baselines {
		score, ok, err := e.baselineScore(ctx, baselineID, baselineName, llmID, sparsity, metric)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, scored{name: baselineName, score: score})
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if metric.higherIsBetter {
			return entries[i].score > entries[j].score
		}
		return entries[i].score < entries[j].score
	})

	var denseScore *float64
	for _, en := range entries {
		if en.name == classifier.BaselineDense {
			s := en.score
			denseScore = &s
			break
		}
	}

	table := make(map[string]types.TableEntry, len(entries))
	for i, en := range entries {
		var metricValue float64
		if denseScore != nil && *denseScore > 0 {
			metricValue = (en.score - *denseScore) / *denseScore * 100
		} else {
			metricValue = en.score * 100
		}
		table[en.name] = types.TableEntry{
			Rank:        i + 1,
			Score:       en.score,
			MetricValue: metricValue,
		}
	}
	return table, nil
}

// Combined computes the combined leaderboard. Each baseline's rank is
// averaged across every (model, sparsity) table it appears in; its gap
// values are averaged only within the same sparsity level. Table failures
// are logged and contribute nothing rather than aborting the aggregation.
// Returns the ranked rows and the sparsity levels they cover.
func (e *Engine) Combined(ctx context.Context, opts types.RankingOptions) ([]types.CombinedRow, []float64, error) {
	if opts.Metric == "" {
		opts.Metric = "overall_score"
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	metric, err := e.metricInfo(ctx, opts.Metric)
	if err != nil {
		return nil, nil, err
	}
	baselines, err := e.baselines(ctx)
	if err != nil {
		return nil, nil, err
	}

	models, err := e.Models(ctx)
	if err != nil {
		return nil, nil, err
	}
	models = filterModels(models, opts.Models)
	if len(models) == 0 {
		return nil, nil, fmt.Errorf("no matching models found")
	}

	allSparsities, err := e.Sparsities(ctx)
	if err != nil {
		return nil, nil, err
	}
	sparsities := filterSparsities(allSparsities, opts.Sparsities)
	if len(sparsities) == 0 {
		return nil, nil, fmt.Errorf("no matching target sparsities found")
	}

	totalTables := len(models) * len(sparsities)
	e.log.WithFields(logrus.Fields{
		"models":     len(models),
		"sparsities": len(sparsities),
		"tables":     totalTables,
		"workers":    opts.Workers,
		"metric":     opts.Metric,
	}).Info("Computing combined rankings")

	var mu sync.Mutex
	ranks := map[string][]int{}
	valuesBySparsity := map[string]map[float64][]float64{}
	processed := 0
	tableCount := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, model := range models {
		for _, sparsity := range sparsities {
			model, sparsity := model, sparsity
			g.Go(func() error {
				table, err := e.tableRanking(gctx, model.ID, sparsity, metric, baselines)

				mu.Lock()
				defer mu.Unlock()
				processed++
				if err != nil {
					e.log.WithFields(logrus.Fields{
						"model":    model.Name,
						"sparsity": sparsity,
						"error":    err,
					}).Warn("Table computation failed")
					return nil
				}
				if len(table) == 0 {
					return nil
				}
				tableCount++
				tablesComputed.Inc()
				for name, entry := range table {
					ranks[name] = append(ranks[name], entry.Rank)
					if valuesBySparsity[name] == nil {
						valuesBySparsity[name] = map[float64][]float64{}
					}
					valuesBySparsity[name][sparsity] = append(valuesBySparsity[name][sparsity], entry.MetricValue)
				}
				if processed%10 == 0 || processed == totalTables {
					e.log.WithFields(logrus.Fields{"done": processed, "total": totalTables}).Info("Progress")
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	e.log.WithFields(logrus.Fields{"tables": tableCount, "baselines": len(ranks)}).Info("Aggregating ranks")

	rows := make([]types.CombinedRow, 0, len(ranks))
	for name, rs := range ranks {
		sum := 0
		for _, r := range rs {
			sum += r
		}
		avgValues := map[float64]float64{}
		for sparsity, values := range valuesBySparsity[name] {
			total := 0.0
			for _, v := range values {
				total += v
			}
			avgValues[sparsity] = total / float64(len(values))
		}
		rows = append(rows, types.CombinedRow{
			BaselineName:         name,
			AvgRank:              float64(sum) / float64(len(rs)),
			AvgValuesPerSparsity: avgValues,
			NumTables:            len(rs),
			MetricName:           opts.Metric,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].AvgRank < rows[j].AvgRank })
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, sparsities, nil
}

func filterModels(models []Model, names []string) []Model {
	if len(names) == 0 {
		return models
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []Model
	for _, m := range models {
		if _, ok := want[m.Name]; ok {
			out = append(out, m)
		}
	}
	return out
}

func filterSparsities(all, requested []float64) []float64 {
	if len(requested) == 0 {
		return all
	}
	want := make(map[float64]struct{}, len(requested))
	for _, s := range requested {
		want[s] = struct{}{}
	}
	var out []float64
	for _, s := range all {
		if _, ok := want[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// floatValue widens the numeric representations the store backends hand
// back. The Postgres backend delivers NUMERIC columns as strings.
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
