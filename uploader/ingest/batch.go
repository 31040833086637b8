package ingest

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/store"
	"github.com/skylight-bench/uploader/types"
)

// resultConflictColumns identifies a result row: one value per
// configuration, dataset-metric link and run.
var resultConflictColumns = []string{"configuration_id", "dataset_metric_id", "experimental_run_id"}

// batchWriter accumulates result rows and upserts them in fixed-size
// batches. Failed batches are held aside rather than dropped, so force
// mode can replay them under fresh experimental runs.
type batchWriter struct {
	store      store.Store
	batchSize  int
	maxRetries int
	log        logrus.FieldLogger

	pending []types.ResultRow
	held    [][]types.ResultRow
	lost    int
}

func newBatchWriter(st store.Store, batchSize, maxRetries int, log logrus.FieldLogger) *batchWriter {
	return &batchWriter{
		store:      st,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		log:        log,
	}
}

func resultStoreRows(rows []types.ResultRow) []store.Row {
	out := make([]store.Row, len(rows))
	for i, r := range rows {
		out[i] = store.Row{
			"configuration_id":    r.ConfigurationID,
			"dataset_metric_id":   r.DatasetMetricID,
			"experimental_run_id": r.ExperimentalRunID,
			"value":               r.Value,
		}
	}
	return out
}

// add appends rows and flushes full batches.
func (w *batchWriter) add(ctx context.Context, rows []types.ResultRow) {
	w.pending = append(w.pending, rows...)
	for len(w.pending) >= w.batchSize {
		batch := w.pending[:w.batchSize]
		w.pending = w.pending[w.batchSize:]
		w.write(ctx, batch)
	}
}

// flush writes out any partial batch.
func (w *batchWriter) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	batch := w.pending
	w.pending = nil
	w.write(ctx, batch)
}

func (w *batchWriter) write(ctx context.Context, batch []types.ResultRow) {
	err := w.store.UpsertMany(ctx, "results", resultStoreRows(batch), resultConflictColumns)
	if err == nil {
		w.log.WithField("rows", len(batch)).Debug("Wrote result batch")
		return
	}
	w.log.WithFields(logrus.Fields{"rows": len(batch), "error": err}).Warn("Batch write failed, holding for retry")
	w.held = append(w.held, batch)
}

// retryHeld replays every held batch. Each attempt runs under a freshly
// created experimental run, since duplicate (configuration, metric, run)
// tuples are the usual cause of a failed upsert. Batches that survive the
// retry ceiling are counted as lost.
func (w *batchWriter) retryHeld(ctx context.Context, newRun func(context.Context) (string, error)) {
	held := w.held
	w.held = nil

	for _, batch := range held {
		written := false
		for attempt := 1; attempt <= w.maxRetries; attempt++ {
			runID, err := newRun(ctx)
			if err != nil {
				w.log.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Warn("Failed to create retry run")
				continue
			}
			for i := range batch {
				batch[i].ExperimentalRunID = runID
			}
			batchRetries.Inc()
			err = w.store.UpsertMany(ctx, "results", resultStoreRows(batch), resultConflictColumns)
			if err == nil {
				w.log.WithFields(logrus.Fields{"rows": len(batch), "attempt": attempt}).Info("Held batch written on retry")
				written = true
				break
			}
			w.log.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Warn("Retry failed")
		}
		if !written {
			w.log.WithField("rows", len(batch)).Error("Batch exhausted retry ceiling, rows lost")
			w.lost += len(batch)
		}
	}
}

// exhaustedRows reports rows abandoned after the retry ceiling, plus rows
// still held when force mode is off.
func (w *batchWriter) exhaustedRows() int {
	n := w.lost
	for _, batch := range w.held {
		n += len(batch)
	}
	return n
}
