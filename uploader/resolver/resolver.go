// Package resolver implements find-or-create resolution of the reference
// entities (benchmarks, datasets, metrics, dataset-metric links, baselines,
// LLMs) and of configurations, backed by an explicit in-process cache.
//
// Resolution never creates a row twice for the same natural key: a lookup
// always precedes the insert, and an insert losing a uniqueness race is
// recovered by re-querying, never surfaced as a failure.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/classifier"
	"github.com/skylight-bench/uploader/store"
)

type datasetKey struct {
	benchmarkID string
	name        string
}

type datasetMetricKey struct {
	datasetID string
	metricID  string
}

// Sentinels standing in for NULL inside composite cache keys only. Store
// queries always use is-null filters, never these values.
var nilSparsityKey = math.Inf(-1)

const nilAuxMemoryKey int64 = math.MinInt64

type configurationKey struct {
	baselineID string
	datasetID  string
	llmID      string
	sparsity   float64
	auxMemory  int64
}

// Cache holds resolved natural-key→id mappings for one run. It is created
// at run start, injected into the resolver, and discarded at run end. All
// access is mutex-guarded because the ranking engine may query the store
// concurrently with cache owners.
type Cache struct {
	mu             sync.Mutex
	benchmarks     map[string]string
	datasets       map[datasetKey]string
	metrics        map[string]string
	baselines      map[string]string
	llms           map[string]string
	datasetMetrics map[datasetMetricKey]string
	configurations map[configurationKey]string
	touched        map[string]struct{}
}

// NewCache creates an empty resolution cache.
func NewCache() *Cache {
	return &Cache{
		benchmarks:     make(map[string]string),
		datasets:       make(map[datasetKey]string),
		metrics:        make(map[string]string),
		baselines:      make(map[string]string),
		llms:           make(map[string]string),
		datasetMetrics: make(map[datasetMetricKey]string),
		configurations: make(map[configurationKey]string),
		touched:        make(map[string]struct{}),
	}
}

// Sizes reports per-entity-kind cache sizes for the run summary.
func (c *Cache) Sizes() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int{
		"benchmarks":      len(c.benchmarks),
		"datasets":        len(c.datasets),
		"metrics":         len(c.metrics),
		"baselines":       len(c.baselines),
		"llms":            len(c.llms),
		"dataset_metrics": len(c.datasetMetrics),
		"configurations":  len(c.configurations),
	}
}

// Touched returns the ids of every configuration resolved during this run.
func (c *Cache) Touched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.touched))
	for id := range c.touched {
		out = append(out, id)
	}
	return out
}

// Resolver resolves natural keys to store ids through the cache.
type Resolver struct {
	store store.Store
	cache *Cache
	log   logrus.FieldLogger
}

// New creates a resolver over the given store and cache.
func New(st store.Store, cache *Cache) *Resolver {
	return &Resolver{
		store: st,
		cache: cache,
		log:   logrus.WithField("component", "resolver"),
	}
}

// Cache exposes the injected cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// findOne queries for a single row id. The boolean makes found-vs-not-found
// explicit instead of leaning on empty-slice checks at every call site.
func (r *Resolver) findOne(ctx context.Context, collection string, filters []store.Filter) (string, bool, error) {
	rows, err := r.store.Select(ctx, collection, []string{"id"}, filters)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].ID(), true, nil
}

// findOrCreate implements the lookup → insert → recover-on-conflict cycle
// shared by every entity kind. A conflict means a concurrent creator won
// the race; the re-query must then succeed.
func (r *Resolver) findOrCreate(ctx context.Context, collection string, filters []store.Filter, row store.Row) (string, error) {
	id, found, err := r.findOne(ctx, collection, filters)
	if err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", collection, err)
	}
	if found {
		return id, nil
	}

	inserted, err := r.store.Insert(ctx, collection, []store.Row{row})
	if err == nil {
		r.log.WithFields(logrus.Fields{"collection": collection, "id": inserted[0].ID()}).Debug("Created entity")
		return inserted[0].ID(), nil
	}
	if !store.IsConflict(err) {
		return "", fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	id, found, err = r.findOne(ctx, collection, filters)
	if err != nil {
		return "", fmt.Errorf("failed to re-query %s after conflict: %w", collection, err)
	}
	if !found {
		return "", fmt.Errorf("conflict on %s but re-query found nothing", collection)
	}
	return id, nil
}

// Benchmark resolves a benchmark by name, creating it on first sighting.
func (r *Resolver) Benchmark(ctx context.Context, name string) (string, error) {
	r.cache.mu.Lock()
	if id, ok := r.cache.benchmarks[name]; ok {
		r.cache.mu.Unlock()
		return id, nil
	}
	r.cache.mu.Unlock()

	row := store.Row{
		"name":        name,
		"description": classifier.BenchmarkDescription(name),
	}
	if url := classifier.BenchmarkPaperURL(name); url != "" {
		row["paper_url"] = url
	}

	id, err := r.findOrCreate(ctx, "benchmarks", []store.Filter{store.Eq("name", name)}, row)
	if err != nil {
		return "", err
	}

	r.cache.mu.Lock()
	r.cache.benchmarks[name] = id
	r.cache.mu.Unlock()
	return id, nil
}

// Dataset resolves a dataset by (benchmark, name).
func (r *Resolver) Dataset(ctx context.Context, benchmarkID, name string) (string, error) {
	key := datasetKey{benchmarkID: benchmarkID, name: name}
	r.cache.mu.Lock()
	if id, ok := r.cache.datasets[key]; ok {
		r.cache.mu.Unlock()
		return id, nil
	}
	r.cache.mu.Unlock()

	filters := []store.Filter{
		store.Eq("benchmark_id", benchmarkID),
		store.Eq("name", name),
	}
	row := store.Row{
		"benchmark_id": benchmarkID,
		"name":         name,
		"description":  classifier.DatasetDescription(name),
	}

	id, err := r.findOrCreate(ctx, "datasets", filters, row)
	if err != nil {
		return "", err
	}

	r.cache.mu.Lock()
	r.cache.datasets[key] = id
	r.cache.mu.Unlock()
	return id, nil
}

// Metric resolves a metric by name.
func (r *Resolver) Metric(ctx context.Context, name string) (string, error) {
	r.cache.mu.Lock()
	if id, ok := r.cache.metrics[name]; ok {
		r.cache.mu.Unlock()
		return id, nil
	}
	r.cache.mu.Unlock()

	def := classifier.MetricFor(name)
	row := store.Row{
		"name":             name,
		"display_name":     def.DisplayName,
		"description":      def.Description,
		"higher_is_better": def.HigherIsBetter,
	}
	if def.Unit != "" {
		row["unit"] = def.Unit
	}

	id, err := r.findOrCreate(ctx, "metrics", []store.Filter{store.Eq("name", name)}, row)
	if err != nil {
		return "", err
	}

	r.cache.mu.Lock()
	r.cache.metrics[name] = id
	r.cache.mu.Unlock()
	return id, nil
}

// DatasetMetric resolves the many-to-many link between a dataset and a
// metric. The link is created once and never updated; isPrimary only
// applies to the creating insert.
func (r *Resolver) DatasetMetric(ctx context.Context, datasetID, metricID string, isPrimary bool) (string, error) {
	key := datasetMetricKey{datasetID: datasetID, metricID: metricID}
	r.cache.mu.Lock()
	if id, ok := r.cache.datasetMetrics[key]; ok {
		r.cache.mu.Unlock()
		return id, nil
	}
	r.cache.mu.Unlock()

	filters := []store.Filter{
		store.Eq("dataset_id", datasetID),
		store.Eq("metric_id", metricID),
	}
	row := store.Row{
		"dataset_id": datasetID,
		"metric_id":  metricID,
		"weight":     1.0,
		"is_primary": isPrimary,
	}

	id, err := r.findOrCreate(ctx, "dataset_metrics", filters, row)
	if err != nil {
		return "", err
	}

	r.cache.mu.Lock()
	r.cache.datasetMetrics[key] = id
	r.cache.mu.Unlock()
	return id, nil
}

// Baseline resolves a canonical baseline by name.
func (r *Resolver) Baseline(ctx context.Context, name string) (string, error) {
	r.cache.mu.Lock()
	if id, ok := r.cache.baselines[name]; ok {
		r.cache.mu.Unlock()
		return id, nil
	}
	r.cache.mu.Unlock()

	row := store.Row{
		"name":        name,
		"description": classifier.BaselineDescription(name),
		"version":     "1.0",
	}

	id, err := r.findOrCreate(ctx, "baselines", []store.Filter{store.Eq("name", name)}, row)
	if err != nil {
		return "", err
	}

	r.cache.mu.Lock()
	r.cache.baselines[name] = id
	r.cache.mu.Unlock()
	return id, nil
}

// LLM resolves a model by name, inferring provider, parameter count and
// context length for the creating insert.
func (r *Resolver) LLM(ctx context.Context, name string) (string, error) {
	r.cache.mu.Lock()
	if id, ok := r.cache.llms[name]; ok {
		r.cache.mu.Unlock()
		return id, nil
	}
	r.cache.mu.Unlock()

	row := store.Row{
		"name":           name,
		"provider":       classifier.Provider(name),
		"context_length": classifier.ContextLength(name),
	}
	if pc := classifier.ParameterCount(name); pc != nil {
		row["parameter_count"] = *pc
	} else {
		row["parameter_count"] = nil
	}

	id, err := r.findOrCreate(ctx, "llms", []store.Filter{store.Eq("name", name)}, row)
	if err != nil {
		return "", err
	}

	r.cache.mu.Lock()
	r.cache.llms[name] = id
	r.cache.mu.Unlock()
	return id, nil
}

// Configuration resolves the unit of experimental comparison: the
// (baseline, dataset, llm, target sparsity, target aux memory) 5-tuple.
// NULL sparsity and NULL aux memory are distinct, matchable values; the
// store lookup uses is-null filters while the cache key substitutes private
// sentinels. The parameter bag attaches only on the creating insert and is
// never part of identity. Every resolution records the id in the touched
// set consumed by reconciliation.
func (r *Resolver) Configuration(ctx context.Context, baselineID, datasetID, llmID string, targetSparsity *float64, auxMemory *int64, params json.RawMessage) (string, error) {
	key := configurationKey{
		baselineID: baselineID,
		datasetID:  datasetID,
		llmID:      llmID,
		sparsity:   nilSparsityKey,
		auxMemory:  nilAuxMemoryKey,
	}
	if targetSparsity != nil {
		key.sparsity = *targetSparsity
	}
	if auxMemory != nil {
		key.auxMemory = *auxMemory
	}

	r.cache.mu.Lock()
	if id, ok := r.cache.configurations[key]; ok {
		r.cache.touched[id] = struct{}{}
		r.cache.mu.Unlock()
		return id, nil
	}
	r.cache.mu.Unlock()

	filters := []store.Filter{
		store.Eq("baseline_id", baselineID),
		store.Eq("dataset_id", datasetID),
		store.Eq("llm_id", llmID),
	}
	if targetSparsity != nil {
		filters = append(filters, store.Eq("target_sparsity", *targetSparsity))
	} else {
		filters = append(filters, store.IsNull("target_sparsity"))
	}
	if auxMemory != nil {
		filters = append(filters, store.Eq("target_aux_memory", *auxMemory))
	} else {
		filters = append(filters, store.IsNull("target_aux_memory"))
	}

	row := store.Row{
		"baseline_id":       baselineID,
		"dataset_id":        datasetID,
		"llm_id":            llmID,
		"additional_params": json.RawMessage(params),
	}
	if targetSparsity != nil {
		row["target_sparsity"] = *targetSparsity
	} else {
		row["target_sparsity"] = nil
	}
	if auxMemory != nil {
		row["target_aux_memory"] = *auxMemory
	} else {
		row["target_aux_memory"] = nil
	}

	id, err := r.findOrCreate(ctx, "configurations", filters, row)
	if err != nil {
		return "", err
	}

	r.cache.mu.Lock()
	r.cache.configurations[key] = id
	r.cache.touched[id] = struct{}{}
	r.cache.mu.Unlock()
	return id, nil
}

// DatasetMetricID returns the cached link id for (dataset, metric) without
// touching the store. Used after the entity pre-pass has warmed the cache.
func (r *Resolver) DatasetMetricID(datasetID, metricID string) (string, bool) {
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	id, ok := r.cache.datasetMetrics[datasetMetricKey{datasetID: datasetID, metricID: metricID}]
	return id, ok
}
