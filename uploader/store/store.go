// Package store is the client side of the record store: a remote,
// collection-oriented API reached through equality-filtered selects,
// inserts, updates, deletes and natural-key upserts. The ingestion and
// ranking code depends only on the Store interface; the rest, postgres and
// memory backends implement it.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Row is a single record of a collection. Values are the JSON scalar types
// plus nil for SQL NULL.
type Row map[string]any

// ID returns the store-assigned identifier of a row.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Filter operators. The store never sees sentinel values for NULL; callers
// must use IsNull.
const (
	OpEq     = "eq"
	OpNeq    = "neq"
	OpIsNull = "is.null"
	OpIn     = "in"
)

// Filter is one equality-style predicate on a column.
type Filter struct {
	Column string
	Op     string
	Value  any // ignored for OpIsNull; []any for OpIn
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Neq matches rows whose column differs from value.
func Neq(column string, value any) Filter {
	return Filter{Column: column, Op: OpNeq, Value: value}
}

// IsNull matches rows whose column is NULL.
func IsNull(column string) Filter {
	return Filter{Column: column, Op: OpIsNull}
}

// In matches rows whose column equals any of the given values.
func In(column string, values []any) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// InStrings is a convenience wrapper for In over string ids.
func InStrings(column string, values []string) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return In(column, vs)
}

// Store is the collection API consumed by the pipeline. Implementations
// must return a ConflictError (unwrappable via IsConflict) when an insert
// violates a uniqueness constraint.
type Store interface {
	// Select returns the rows of collection matching all filters. An empty
	// columns slice selects every column.
	Select(ctx context.Context, collection string, columns []string, filters []Filter) ([]Row, error)

	// Insert writes rows and returns them with their assigned ids.
	Insert(ctx context.Context, collection string, rows []Row) ([]Row, error)

	// Update applies values to every row matching the filters.
	Update(ctx context.Context, collection string, values Row, filters []Filter) error

	// Delete removes every row matching the filters.
	Delete(ctx context.Context, collection string, filters []Filter) error

	// UpsertMany inserts rows, overwriting on the uniqueness constraint over
	// conflictColumns (insert-or-overwrite, last writer wins).
	UpsertMany(ctx context.Context, collection string, rows []Row, conflictColumns []string) error
}

// ConflictError reports a uniqueness-constraint violation. Callers recover
// from it by re-querying, never by failing the run.
type ConflictError struct {
	Collection string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("uniqueness conflict on %s: %v", e.Collection, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a uniqueness-constraint violation.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
