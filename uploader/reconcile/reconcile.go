// Package reconcile removes store rows the current upload no longer
// accounts for: orphaned configurations, stale-run results and, on
// request, the entire dataset.
package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/skylight-bench/uploader/store"
)

// deleteBatchSize bounds the id lists sent in a single delete filter.
const deleteBatchSize = 50

// purgeOrder lists every collection child-before-parent so foreign keys
// never block a delete.
var purgeOrder = []string{
	"results",
	"configurations",
	"dataset_metrics",
	"datasets",
	"experimental_runs",
	"metrics",
	"baselines",
	"llms",
	"benchmarks",
}

// Reconciler reconciles store contents against an upload's touched set.
type Reconciler struct {
	store store.Store
	log   logrus.FieldLogger
}

// New creates a reconciler over the given store.
func New(st store.Store) *Reconciler {
	return &Reconciler{
		store: st,
		log:   logrus.WithField("component", "reconciler"),
	}
}

// scopedConfigurationIDs returns the ids of every configuration in scope.
// A non-empty provider narrows the scope to configurations of that
// provider's models.
func (r *Reconciler) scopedConfigurationIDs(ctx context.Context, provider string) ([]string, error) {
	var filters []store.Filter
	if provider != "" {
		llms, err := r.store.Select(ctx, "llms", []string{"id"}, []store.Filter{store.Eq("provider", provider)})
		if err != nil {
			return nil, fmt.Errorf("failed to list llms for provider %q: %w", provider, err)
		}
		if len(llms) == 0 {
			return nil, nil
		}
		llmIDs := make([]string, len(llms))
		for i, row := range llms {
			llmIDs[i] = row.ID()
		}
		filters = append(filters, store.InStrings("llm_id", llmIDs))
	}

	rows, err := r.store.Select(ctx, "configurations", []string{"id"}, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID()
	}
	return ids, nil
}

// DeleteOrphans removes every in-scope configuration the upload did not
// touch, together with its results. Results go first so foreign keys
// never block the configuration delete. Returns the number of
// configurations removed.
func (r *Reconciler) DeleteOrphans(ctx context.Context, touched []string, provider string) (int, error) {
	existing, err := r.scopedConfigurationIDs(ctx, provider)
	if err != nil {
		return 0, err
	}

	touchedSet := make(map[string]struct{}, len(touched))
	for _, id := range touched {
		touchedSet[id] = struct{}{}
	}

	var orphans []string
	for _, id := range existing {
		if _, ok := touchedSet[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		r.log.Info("No orphaned configurations")
		return 0, nil
	}

	r.log.WithFields(logrus.Fields{"orphans": len(orphans), "existing": len(existing)}).Info("Deleting orphaned configurations")

	for _, batch := range batches(orphans, deleteBatchSize) {
		if err := r.store.Delete(ctx, "results", []store.Filter{store.InStrings("configuration_id", batch)}); err != nil {
			return 0, fmt.Errorf("failed to delete orphaned results: %w", err)
		}
		if err := r.store.Delete(ctx, "configurations", []store.Filter{store.InStrings("id", batch)}); err != nil {
			return 0, fmt.Errorf("failed to delete orphaned configurations: %w", err)
		}
	}
	return len(orphans), nil
}

// KeepLatestRunOnly removes results of touched configurations that belong
// to any experimental run other than runID. Used after a full re-upload to
// drop superseded measurements.
func (r *Reconciler) KeepLatestRunOnly(ctx context.Context, touched []string, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	for _, batch := range batches(touched, deleteBatchSize) {
		filters := []store.Filter{
			store.InStrings("configuration_id", batch),
			store.Neq("experimental_run_id", runID),
		}
		if err := r.store.Delete(ctx, "results", filters); err != nil {
			return fmt.Errorf("failed to delete stale-run results: %w", err)
		}
	}
	r.log.WithField("run_id", runID).Info("Removed results from previous runs")
	return nil
}

// Purge deletes every row of every collection, children before parents.
// Returns per-collection delete counts.
func (r *Reconciler) Purge(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(purgeOrder))
	for _, collection := range purgeOrder {
		rows, err := r.store.Select(ctx, collection, []string{"id"}, nil)
		if err != nil {
			return counts, fmt.Errorf("failed to list %s for purge: %w", collection, err)
		}
		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.ID()
		}
		for _, batch := range batches(ids, deleteBatchSize) {
			if err := r.store.Delete(ctx, collection, []store.Filter{store.InStrings("id", batch)}); err != nil {
				return counts, fmt.Errorf("failed to purge %s: %w", collection, err)
			}
		}
		counts[collection] = len(ids)
		r.log.WithFields(logrus.Fields{"collection": collection, "deleted": len(ids)}).Info("Purged collection")
	}
	return counts, nil
}

// batches splits ids into slices of at most size elements.
func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
