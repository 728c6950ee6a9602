package workflow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxExecutor adapts a pgx pool to the RelationalExecutor contract the
// db_write handler runs against.
type PgxExecutor struct {
	db *pgxpool.Pool
}

// NewPgxExecutor creates a PgxExecutor over the given pool.
func NewPgxExecutor(pool *pgxpool.Pool) *PgxExecutor {
	return &PgxExecutor{db: pool}
}

// Exec runs a statement and reports rows affected.
func (e *PgxExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query runs a query and returns rows as column-keyed maps.
func (e *PgxExecutor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
