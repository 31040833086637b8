package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReadOnly wraps a Store for dry runs: selects pass through, writes are
// swallowed. Inserts hand back synthetic ids so every resolution path runs
// unchanged without touching the store.
type ReadOnly struct {
	inner Store
	log   logrus.FieldLogger
}

// NewReadOnly creates a dry-run decorator around inner.
func NewReadOnly(inner Store) *ReadOnly {
	return &ReadOnly{
		inner: inner,
		log:   logrus.WithField("component", "dry-run-store"),
	}
}

// Select implements Store.
func (s *ReadOnly) Select(ctx context.Context, collection string, columns []string, filters []Filter) ([]Row, error) {
	return s.inner.Select(ctx, collection, columns, filters)
}

// Insert implements Store without writing; returned rows carry synthetic ids.
func (s *ReadOnly) Insert(ctx context.Context, collection string, rows []Row) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		withID := copyRow(row, nil)
		withID["id"] = "dry-run-" + uuid.NewString()
		out = append(out, withID)
	}
	s.log.WithFields(logrus.Fields{"collection": collection, "count": len(rows)}).Debug("Skipped insert")
	return out, nil
}

// Update implements Store as a no-op.
func (s *ReadOnly) Update(ctx context.Context, collection string, values Row, filters []Filter) error {
	s.log.WithField("collection", collection).Debug("Skipped update")
	return nil
}

// Delete implements Store as a no-op.
func (s *ReadOnly) Delete(ctx context.Context, collection string, filters []Filter) error {
	s.log.WithField("collection", collection).Debug("Skipped delete")
	return nil
}

// UpsertMany implements Store as a no-op.
func (s *ReadOnly) UpsertMany(ctx context.Context, collection string, rows []Row, conflictColumns []string) error {
	s.log.WithFields(logrus.Fields{"collection": collection, "count": len(rows)}).Debug("Skipped upsert")
	return nil
}
