package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements the collection API directly against PostgreSQL,
// for deployments that bypass the REST gateway.
type PostgresStore struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: logrus.WithField("component", "postgres-store"),
	}
}

// ConnectPostgres opens and pings a PostgreSQL connection.
func ConnectPostgres(connStr string, maxOpenConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db)
	s.log.Info("Connected to PostgreSQL database")
	return s, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// whereClause renders filters as a SQL predicate with args numbered from
// startArg.
func whereClause(filters []Filter, startArg int) (string, []any, error) {
	clauses := make([]string, 0, len(filters))
	args := []any{}
	argN := startArg
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", f.Column, argN))
			args = append(args, f.Value)
			argN++
		case OpNeq:
			clauses = append(clauses, fmt.Sprintf("%s <> $%d", f.Column, argN))
			args = append(args, f.Value)
			argN++
		case OpIsNull:
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", f.Column))
		case OpIn:
			values, ok := f.Value.([]any)
			if !ok {
				return "", nil, fmt.Errorf("in filter on %s requires a value list", f.Column)
			}
			strs := make([]string, len(values))
			for i, v := range values {
				strs[i] = fmt.Sprintf("%v", v)
			}
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", f.Column, argN))
			args = append(args, pq.Array(strs))
			argN++
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// Select implements Store.
func (s *PostgresStore) Select(ctx context.Context, collection string, columns []string, filters []Filter) ([]Row, error) {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ", ")
	}
	where, args, err := whereClause(filters, 1)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s%s", cols, collection, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", collection, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", collection, err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", collection, err)
		}
		row := make(Row, len(names))
		for i, name := range names {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func insertStatement(collection string, row Row) (string, []string) {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		collection, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	return query, columns
}

// Insert implements Store. Rows are inserted one at a time through a
// prepared statement so a conflict identifies the offending row.
func (s *PostgresStore) Insert(ctx context.Context, collection string, rows []Row) ([]Row, error) {
	inserted := make([]Row, 0, len(rows))
	for _, row := range rows {
		query, columns := insertStatement(collection, row)
		args := make([]any, len(columns))
		for i, col := range columns {
			args[i] = row[col]
		}

		var id string
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pgUniqueViolation {
				return nil, &ConflictError{Collection: collection, Err: err}
			}
			return nil, fmt.Errorf("failed to insert into %s: %w", collection, err)
		}

		withID := make(Row, len(row)+1)
		for k, v := range row {
			withID[k] = v
		}
		withID["id"] = id
		inserted = append(inserted, withID)
	}
	s.log.WithField("count", len(inserted)).Debug("Inserted rows")
	return inserted, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, collection string, values Row, filters []Filter) error {
	sets := make([]string, 0, len(values))
	args := []any{}
	for col, v := range values {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	where, whereArgs, err := whereClause(filters, len(args)+1)
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", collection, strings.Join(sets, ", "), where)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", collection, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, collection string, filters []Filter) error {
	where, args, err := whereClause(filters, 1)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", collection, where), args...)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	count, _ := result.RowsAffected()
	s.log.WithFields(logrus.Fields{"collection": collection, "deleted": count}).Debug("Deleted rows")
	return nil
}

// UpsertMany implements Store with INSERT ... ON CONFLICT DO UPDATE over
// the natural-key columns.
func (s *PostgresStore) UpsertMany(ctx context.Context, collection string, rows []Row, conflictColumns []string) error {
	if len(rows) == 0 {
		return nil
	}

	query, columns := upsertStatement(collection, rows[0], conflictColumns)
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert for %s: %w", collection, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(columns))
		for i, col := range columns {
			args[i] = row[col]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert into %s: %w", collection, err)
		}
	}
	s.log.WithFields(logrus.Fields{"collection": collection, "count": len(rows)}).Debug("Upserted rows")
	return nil
}

func upsertStatement(collection string, row Row, conflictColumns []string) (string, []string) {
	conflict := make(map[string]bool, len(conflictColumns))
	for _, c := range conflictColumns {
		conflict[c] = true
	}

	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	placeholders := make([]string, len(columns))
	updates := []string{}
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if !conflict[col] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		collection,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflictColumns, ", "),
		strings.Join(updates, ", "))
	return query, columns
}
