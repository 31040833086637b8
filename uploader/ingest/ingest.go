// Package ingest drives the ingestion of experiment-result records into
// the record store: parse, entity pre-pass, filtering, per-record
// resolution and batched result upserts with bounded retry.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/classifier"
	"github.com/skylight-bench/uploader/resolver"
	"github.com/skylight-bench/uploader/schema"
	"github.com/skylight-bench/uploader/store"
	"github.com/skylight-bench/uploader/types"
)

// maxFailedReported caps how many failed records the summary lists.
const maxFailedReported = 10

// Options configures an ingestion run.
type Options struct {
	BatchSize       int
	MaxBatchRetries int
	Force           bool // retry failed batches under fresh experimental runs
	DryRun          bool
	RunName         string
	Validator       *schema.Validator // optional record validation
}

// Uploader orchestrates one ingestion session.
type Uploader struct {
	store    store.Store
	resolver *resolver.Resolver
	opts     Options
	log      logrus.FieldLogger

	runID string
}

// New creates an uploader. Under DryRun the store is wrapped so every
// resolution path runs unchanged while writes are swallowed.
func New(st store.Store, cache *resolver.Cache, opts Options) *Uploader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxBatchRetries <= 0 {
		opts.MaxBatchRetries = 10
	}
	if opts.DryRun {
		st = store.NewReadOnly(st)
	}
	return &Uploader{
		store:    st,
		resolver: resolver.New(st, cache),
		opts:     opts,
		log:      logrus.WithField("component", "uploader"),
	}
}

// Resolver exposes the resolver (and through it the touched set) for
// reconciliation after the run.
func (u *Uploader) Resolver() *resolver.Resolver { return u.resolver }

// RunID returns the experimental run created for this session.
func (u *Uploader) RunID() string { return u.runID }

type indexedRecord struct {
	index  int // 1-based position in the input file
	record *types.Record
}

// parseFile reads newline-delimited JSON records. Lines that fail to parse
// (or fail schema validation when enabled) are logged and skipped, never
// fatal to the run.
func (u *Uploader) parseFile(path string) ([]indexedRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var records []indexedRecord
	skipped := 0
	lineNum := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if u.opts.Validator != nil {
			violations, err := u.opts.Validator.Validate(line)
			if err == nil && len(violations) > 0 {
				u.log.WithFields(logrus.Fields{"line": lineNum, "violations": violations}).Warn("Skipping invalid record")
				skipped++
				linesSkipped.Inc()
				continue
			}
		}

		var rec types.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			u.log.WithFields(logrus.Fields{"line": lineNum, "error": err}).Warn("Skipping malformed line")
			skipped++
			linesSkipped.Inc()
			continue
		}
		records = append(records, indexedRecord{index: lineNum, record: &rec})
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read input file: %w", err)
	}

	u.log.WithFields(logrus.Fields{"records": len(records), "skipped": skipped}).Info("Parsed input file")
	return records, skipped, nil
}

// createRun creates the experimental run grouping this session's results.
func (u *Uploader) createRun(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = "Upload " + time.Now().Format("2006-01-02 15:04:05")
	}
	rows, err := u.store.Insert(ctx, "experimental_runs", []store.Row{{
		"name":        name,
		"description": "Uploaded from JSONL data",
		"status":      "completed",
		"metadata":    json.RawMessage(`{"source":"skylight-uploader"}`),
	}})
	if err != nil {
		return "", fmt.Errorf("failed to create experimental run: %w", err)
	}
	runID := rows[0].ID()
	u.log.WithFields(logrus.Fields{"run_id": runID, "name": name}).Info("Created experimental run")
	return runID, nil
}

// auxiliaryMetrics lists the conditionally-present scalar fields and how
// their values map onto result rows.
func auxiliaryMetrics(rec *types.Record) map[string]float64 {
	out := map[string]float64{}
	if rec.AverageLocalError != nil {
		out["average_local_error"] = *rec.AverageLocalError
	}
	if rec.AverageDensity != nil {
		// Stored as a fraction in the record, as a percentage in the store.
		out["average_density"] = *rec.AverageDensity * 100
	}
	if rec.OverallScore != nil {
		out["overall_score"] = *rec.OverallScore
	}
	if rec.AuxMemory != nil {
		out["aux_memory"] = *rec.AuxMemory
	}
	return out
}

// prePass resolves every distinct reference entity before any record-level
// processing, so later steps never race to create the same row twice.
// Benchmarks, baselines, models and metrics first; datasets and
// dataset-metric links in a second scan since they depend on the first.
func (u *Uploader) prePass(ctx context.Context, records []indexedRecord) error {
	benchmarks := map[string]struct{}{}
	baselines := map[string]struct{}{}
	models := map[string]struct{}{}
	metrics := map[string]struct{}{}

	for _, ir := range records {
		rec := ir.record
		if rec.Benchmark == "" || rec.ModelName == "" {
			continue
		}
		benchmarks[rec.Benchmark] = struct{}{}
		baselines[classifier.Classify(rec)] = struct{}{}
		models[rec.ModelName] = struct{}{}
		for name := range rec.BenchmarkMetrics {
			metrics[name] = struct{}{}
		}
		for name := range auxiliaryMetrics(rec) {
			metrics[name] = struct{}{}
		}
	}

	u.log.WithFields(logrus.Fields{
		"benchmarks": len(benchmarks),
		"baselines":  len(baselines),
		"models":     len(models),
		"metrics":    len(metrics),
	}).Info("Resolving reference entities")

	for name := range benchmarks {
		if _, err := u.resolver.Benchmark(ctx, name); err != nil {
			return fmt.Errorf("failed to resolve benchmark %q: %w", name, err)
		}
	}
	for name := range baselines {
		if _, err := u.resolver.Baseline(ctx, name); err != nil {
			return fmt.Errorf("failed to resolve baseline %q: %w", name, err)
		}
	}
	for name := range models {
		if _, err := u.resolver.LLM(ctx, name); err != nil {
			return fmt.Errorf("failed to resolve model %q: %w", name, err)
		}
	}
	for name := range metrics {
		if _, err := u.resolver.Metric(ctx, name); err != nil {
			return fmt.Errorf("failed to resolve metric %q: %w", name, err)
		}
	}

	// Second scan: datasets and dataset-metric links.
	for _, ir := range records {
		rec := ir.record
		if rec.Benchmark == "" || rec.Dataset == "" {
			continue
		}
		benchmarkID, err := u.resolver.Benchmark(ctx, rec.Benchmark)
		if err != nil {
			continue
		}
		datasetID, err := u.resolver.Dataset(ctx, benchmarkID, rec.Dataset)
		if err != nil {
			u.log.WithFields(logrus.Fields{"dataset": rec.Dataset, "error": err}).Warn("Failed to resolve dataset during pre-pass")
			continue
		}
		for name := range rec.BenchmarkMetrics {
			if err := u.linkMetric(ctx, datasetID, name, true); err != nil {
				u.log.WithFields(logrus.Fields{"metric": name, "error": err}).Warn("Failed to link metric during pre-pass")
			}
		}
		for name := range auxiliaryMetrics(rec) {
			if err := u.linkMetric(ctx, datasetID, name, false); err != nil {
				u.log.WithFields(logrus.Fields{"metric": name, "error": err}).Warn("Failed to link metric during pre-pass")
			}
		}
	}
	return nil
}

func (u *Uploader) linkMetric(ctx context.Context, datasetID, metricName string, isPrimary bool) error {
	metricID, err := u.resolver.Metric(ctx, metricName)
	if err != nil {
		return err
	}
	_, err = u.resolver.DatasetMetric(ctx, datasetID, metricID, isPrimary)
	return err
}

// applyFilter narrows the record list by model/baseline inclusion and
// offset/limit, in that order.
func applyFilter(records []indexedRecord, filter types.RecordFilter) []indexedRecord {
	models := toSet(filter.Models)
	baselines := toSet(filter.Baselines)

	selected := records
	if len(models) > 0 || len(baselines) > 0 {
		selected = nil
		for _, ir := range records {
			if len(models) > 0 {
				if _, ok := models[ir.record.ModelName]; !ok {
					continue
				}
			}
			if len(baselines) > 0 {
				if _, ok := baselines[classifier.Classify(ir.record)]; !ok {
					continue
				}
			}
			selected = append(selected, ir)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(selected) {
			return nil
		}
		selected = selected[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(selected) {
		selected = selected[:filter.Limit]
	}
	return selected
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// processRecord resolves one record's configuration and builds its result
// rows. Any failure aborts only this record.
func (u *Uploader) processRecord(ctx context.Context, rec *types.Record) ([]types.ResultRow, error) {
	if rec.ModelName == "" || rec.Benchmark == "" || rec.Dataset == "" {
		return nil, fmt.Errorf("missing required field (model_name/benchmark/dataset)")
	}
	if len(rec.BenchmarkMetrics) == 0 {
		return nil, fmt.Errorf("no benchmark metrics")
	}

	baselineName := classifier.Classify(rec)

	benchmarkID, err := u.resolver.Benchmark(ctx, rec.Benchmark)
	if err != nil {
		return nil, err
	}
	datasetID, err := u.resolver.Dataset(ctx, benchmarkID, rec.Dataset)
	if err != nil {
		return nil, err
	}
	baselineID, err := u.resolver.Baseline(ctx, baselineName)
	if err != nil {
		return nil, err
	}
	llmID, err := u.resolver.LLM(ctx, rec.ModelName)
	if err != nil {
		return nil, err
	}

	configID, err := u.resolver.Configuration(ctx,
		baselineID, datasetID, llmID,
		classifier.TargetSparsity(rec),
		classifier.AuxMemory(rec, baselineName),
		rec.ConfigJSON(),
	)
	if err != nil {
		return nil, err
	}

	var rows []types.ResultRow
	for name, value := range rec.BenchmarkMetrics {
		dmID, err := u.resolveLink(ctx, datasetID, name, true)
		if err != nil {
			return nil, err
		}
		rows = append(rows, types.ResultRow{
			ConfigurationID:   configID,
			DatasetMetricID:   dmID,
			ExperimentalRunID: u.runID,
			Value:             value,
		})
	}
	for name, value := range auxiliaryMetrics(rec) {
		dmID, err := u.resolveLink(ctx, datasetID, name, false)
		if err != nil {
			return nil, err
		}
		rows = append(rows, types.ResultRow{
			ConfigurationID:   configID,
			DatasetMetricID:   dmID,
			ExperimentalRunID: u.runID,
			Value:             value,
		})
	}
	return rows, nil
}

func (u *Uploader) resolveLink(ctx context.Context, datasetID, metricName string, isPrimary bool) (string, error) {
	metricID, err := u.resolver.Metric(ctx, metricName)
	if err != nil {
		return "", err
	}
	if id, ok := u.resolver.DatasetMetricID(datasetID, metricID); ok {
		return id, nil
	}
	return u.resolver.DatasetMetric(ctx, datasetID, metricID, isPrimary)
}

// Run executes the full ingestion pipeline over the given input file.
// Per-record failures are counted, not fatal; the returned summary reports
// them alongside cache sizes.
func (u *Uploader) Run(ctx context.Context, path string, filter types.RecordFilter) (*types.UploadSummary, error) {
	records, skipped, err := u.parseFile(path)
	if err != nil {
		return nil, err
	}

	runID, err := u.createRun(ctx, u.opts.RunName)
	if err != nil {
		return nil, err
	}
	u.runID = runID

	if err := u.prePass(ctx, records); err != nil {
		return nil, err
	}

	selected := applyFilter(records, filter)
	u.log.WithFields(logrus.Fields{"selected": len(selected), "total": len(records)}).Info("Processing records")

	writer := newBatchWriter(u.store, u.opts.BatchSize, u.opts.MaxBatchRetries, u.log)

	summary := &types.UploadSummary{
		RunID:          runID,
		TotalInFile:    len(records),
		TotalProcessed: len(selected),
		SkippedLines:   skipped,
		DryRun:         u.opts.DryRun,
	}

	for i, ir := range selected {
		rec := ir.record
		rows, err := u.processRecord(ctx, rec)
		if err != nil {
			summary.Failed++
			recordsFailed.Inc()
			if len(summary.FailedRecords) < maxFailedReported {
				summary.FailedRecords = append(summary.FailedRecords, types.FailedRecord{
					Index:    ir.index,
					Baseline: classifier.Classify(rec),
					Dataset:  rec.Dataset,
					Model:    rec.ModelName,
					Reason:   err.Error(),
				})
			}
			u.log.WithFields(logrus.Fields{
				"record": ir.index,
				"error":  err,
			}).Warn("Record failed")
			continue
		}

		writer.add(ctx, rows)
		summary.Succeeded++
		recordsProcessed.Inc()

		if (i+1)%50 == 0 {
			u.log.WithFields(logrus.Fields{"done": i + 1, "total": len(selected)}).Info("Progress")
		}
	}

	writer.flush(ctx)

	if u.opts.Force {
		writer.retryHeld(ctx, func(retryCtx context.Context) (string, error) {
			return u.createRun(retryCtx, "")
		})
	}
	summary.ExhaustedRows = writer.exhaustedRows()
	summary.CacheSizes = u.resolver.Cache().Sizes()

	u.log.WithFields(logrus.Fields{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"exhausted": summary.ExhaustedRows,
	}).Info("Upload finished")
	return summary, nil
}
