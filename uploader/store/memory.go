package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// memoryUniqueKeys mirrors the uniqueness constraints of the real schema so
// conflict recovery and upsert semantics behave identically in tests.
var memoryUniqueKeys = map[string][][]string{
	"benchmarks":        {{"name"}},
	"datasets":          {{"benchmark_id", "name"}},
	"metrics":           {{"name"}},
	"baselines":         {{"name"}},
	"llms":              {{"name"}},
	"dataset_metrics":   {{"dataset_id", "metric_id"}},
	"configurations":    {{"baseline_id", "dataset_id", "llm_id", "target_sparsity", "target_aux_memory"}},
	"results":           {{"configuration_id", "dataset_metric_id", "experimental_run_id"}},
	"experimental_runs": nil,
}

// MemoryStore is an in-process Store used by tests and local dry runs. It
// enforces the same natural-key constraints as the backing database,
// including NULL-as-distinct-matchable-value semantics.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string][]Row
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Row)}
}

// normalize widens numeric values so JSON-decoded and Go-native numbers
// compare equal.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func matches(row Row, f Filter) bool {
	v, present := row[f.Column]
	switch f.Op {
	case OpEq:
		return present && v != nil && normalize(v) == normalize(f.Value)
	case OpNeq:
		return present && v != nil && normalize(v) != normalize(f.Value)
	case OpIsNull:
		return !present || v == nil
	case OpIn:
		values, ok := f.Value.([]any)
		if !ok || !present || v == nil {
			return false
		}
		for _, candidate := range values {
			if normalize(v) == normalize(candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchesAll(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matches(row, f) {
			return false
		}
	}
	return true
}

func copyRow(row Row, columns []string) Row {
	out := make(Row, len(row))
	if len(columns) == 0 {
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}

// keyEquals reports whether two rows share the same value (NULLs included)
// on every key column.
func keyEquals(a, b Row, key []string) bool {
	for _, col := range key {
		av, bv := normalize(a[col]), normalize(b[col])
		if av != bv {
			return false
		}
	}
	return true
}

// findConflict returns the index of an existing row violating a unique key
// of the collection against candidate, or -1.
func (s *MemoryStore) findConflict(collection string, candidate Row) int {
	for _, key := range memoryUniqueKeys[collection] {
		for i, existing := range s.collections[collection] {
			if keyEquals(existing, candidate, key) {
				return i
			}
		}
	}
	return -1
}

// Select implements Store.
func (s *MemoryStore) Select(ctx context.Context, collection string, columns []string, filters []Filter) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	for _, row := range s.collections[collection] {
		if matchesAll(row, filters) {
			out = append(out, copyRow(row, columns))
		}
	}
	return out, nil
}

// Insert implements Store, assigning UUID ids.
func (s *MemoryStore) Insert(ctx context.Context, collection string, rows []Row) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]Row, 0, len(rows))
	for _, row := range rows {
		stored := copyRow(row, nil)
		if s.findConflict(collection, stored) >= 0 {
			return nil, &ConflictError{Collection: collection, Err: fmt.Errorf("duplicate key")}
		}
		stored["id"] = uuid.NewString()
		s.collections[collection] = append(s.collections[collection], stored)
		inserted = append(inserted, copyRow(stored, nil))
	}
	return inserted, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, collection string, values Row, filters []Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.collections[collection] {
		if matchesAll(row, filters) {
			for k, v := range values {
				row[k] = v
			}
		}
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, collection string, filters []Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.collections[collection][:0]
	for _, row := range s.collections[collection] {
		if !matchesAll(row, filters) {
			kept = append(kept, row)
		}
	}
	s.collections[collection] = kept
	return nil
}

// UpsertMany implements Store: insert-or-overwrite on the conflict columns.
func (s *MemoryStore) UpsertMany(ctx context.Context, collection string, rows []Row, conflictColumns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		stored := copyRow(row, nil)
		replaced := false
		for _, existing := range s.collections[collection] {
			if keyEquals(existing, stored, conflictColumns) {
				for k, v := range stored {
					existing[k] = v
				}
				replaced = true
				break
			}
		}
		if !replaced {
			stored["id"] = uuid.NewString()
			s.collections[collection] = append(s.collections[collection], stored)
		}
	}
	return nil
}

// Count returns the number of rows in a collection. Test helper.
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}
