package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

var allowedOperations = map[string]bool{
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	"SELECT": true,
}

// identPattern restricts table and column names used to build SQL text.
// Values always travel as bind parameters.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RelationalExecutor runs parameterized SQL. Exec returns rows affected;
// Query returns rows as column-keyed maps.
type RelationalExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// DBWriteHandler performs a declared INSERT/UPDATE/DELETE/SELECT against a
// target table, or a raw-query escape hatch. Column values and filters are
// template-rendered before parameterized execution.
//
// Config:
//
//	operation  INSERT/UPDATE/DELETE/SELECT (required unless raw_sql)
//	table      target table (required unless raw_sql)
//	values     column -> value map for INSERT/UPDATE (templated)
//	where      column -> value equality filter (templated)
//	columns    columns for SELECT (optional)
//	returning  columns to return for INSERT/UPDATE (optional)
//	raw_sql    raw query escape hatch (templated), with positional "params"
type DBWriteHandler struct {
	executor RelationalExecutor
}

func (h *DBWriteHandler) ValidateConfig(config map[string]any) error {
	if raw, ok := config["raw_sql"]; ok {
		if _, isString := raw.(string); !isString {
			return handlerErrf("db_write", "raw_sql must be a string")
		}
		return nil
	}

	op, ok := stringConfig(config, "operation")
	if !ok {
		return handlerErrf("db_write", "missing required config field %q (or use raw_sql)", "operation")
	}
	if !allowedOperations[strings.ToUpper(op)] {
		return handlerErrf("db_write", "invalid operation %q: allowed are INSERT, UPDATE, DELETE, SELECT", op)
	}

	table, ok := stringConfig(config, "table")
	if !ok {
		return handlerErrf("db_write", "missing required config field %q", "table")
	}
	if !identPattern.MatchString(table) {
		return handlerErrf("db_write", "invalid table name %q", table)
	}

	operation := strings.ToUpper(op)
	if operation == "INSERT" || operation == "UPDATE" {
		if len(mapConfig(config, "values")) == 0 {
			return handlerErrf("db_write", "%s requires a non-empty %q map", operation, "values")
		}
	}
	return nil
}

func (h *DBWriteHandler) Execute(ctx context.Context, config map[string]any, inputs Inputs) (map[string]any, error) {
	if err := h.ValidateConfig(config); err != nil {
		return nil, err
	}

	tmplCtx := inputs.Context()

	if _, ok := config["raw_sql"]; ok {
		return h.executeRaw(ctx, config, tmplCtx)
	}

	op, _ := stringConfig(config, "operation")
	operation := strings.ToUpper(op)
	table, _ := stringConfig(config, "table")

	values := RenderStringMap(mapConfig(config, "values"), tmplCtx)
	where := RenderStringMap(mapConfig(config, "where"), tmplCtx)

	slog.Info("executing db operation", "operation", operation, "table", table)

	switch operation {
	case "INSERT":
		return h.executeInsert(ctx, table, values, stringList(config["returning"]))
	case "UPDATE":
		return h.executeUpdate(ctx, table, values, where, stringList(config["returning"]))
	case "DELETE":
		return h.executeDelete(ctx, table, where)
	default: // SELECT
		return h.executeSelect(ctx, table, where, stringList(config["columns"]))
	}
}

func (h *DBWriteHandler) executeInsert(ctx context.Context, table string, values map[string]any, returning []string) (map[string]any, error) {
	columns, args, err := orderedColumns(values)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if len(returning) > 0 {
		cols, err := checkedIdents(returning)
		if err != nil {
			return nil, err
		}
		query += " RETURNING " + strings.Join(cols, ", ")
		rows, err := h.executor.Query(ctx, query, args...)
		if err != nil {
			return nil, handlerWrap("db_write", err, "INSERT failed: %v", err)
		}
		return map[string]any{
			"operation":     "INSERT",
			"table":         table,
			"rows_affected": len(rows),
			"returned":      rows,
		}, nil
	}

	affected, err := h.executor.Exec(ctx, query, args...)
	if err != nil {
		return nil, handlerWrap("db_write", err, "INSERT failed: %v", err)
	}
	return map[string]any{
		"operation":     "INSERT",
		"table":         table,
		"rows_affected": affected,
	}, nil
}

func (h *DBWriteHandler) executeUpdate(ctx context.Context, table string, values, where map[string]any, returning []string) (map[string]any, error) {
	setColumns, args, err := orderedColumns(values)
	if err != nil {
		return nil, err
	}

	assignments := make([]string, len(setColumns))
	for i, col := range setColumns {
		assignments[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(assignments, ", "))

	whereClause, whereArgs, err := buildWhere(where, len(args))
	if err != nil {
		return nil, err
	}
	query += whereClause
	args = append(args, whereArgs...)

	if len(returning) > 0 {
		cols, err := checkedIdents(returning)
		if err != nil {
			return nil, err
		}
		query += " RETURNING " + strings.Join(cols, ", ")
		rows, err := h.executor.Query(ctx, query, args...)
		if err != nil {
			return nil, handlerWrap("db_write", err, "UPDATE failed: %v", err)
		}
		return map[string]any{
			"operation":     "UPDATE",
			"table":         table,
			"rows_affected": len(rows),
			"returned":      rows,
		}, nil
	}

	affected, err := h.executor.Exec(ctx, query, args...)
	if err != nil {
		return nil, handlerWrap("db_write", err, "UPDATE failed: %v", err)
	}
	return map[string]any{
		"operation":     "UPDATE",
		"table":         table,
		"rows_affected": affected,
	}, nil
}

func (h *DBWriteHandler) executeDelete(ctx context.Context, table string, where map[string]any) (map[string]any, error) {
	query := "DELETE FROM " + table

	fullTable := len(where) == 0
	if fullTable {
		slog.Warn("DELETE without a filter removes every row", "table", table)
	}

	whereClause, args, err := buildWhere(where, 0)
	if err != nil {
		return nil, err
	}
	query += whereClause

	affected, err := h.executor.Exec(ctx, query, args...)
	if err != nil {
		return nil, handlerWrap("db_write", err, "DELETE failed: %v", err)
	}
	out := map[string]any{
		"operation":     "DELETE",
		"table":         table,
		"rows_affected": affected,
	}
	if fullTable {
		out["full_table"] = true
	}
	return out, nil
}

func (h *DBWriteHandler) executeSelect(ctx context.Context, table string, where map[string]any, columns []string) (map[string]any, error) {
	selected := "*"
	if len(columns) > 0 {
		cols, err := checkedIdents(columns)
		if err != nil {
			return nil, err
		}
		selected = strings.Join(cols, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", selected, table)

	whereClause, args, err := buildWhere(where, 0)
	if err != nil {
		return nil, err
	}
	query += whereClause

	rows, err := h.executor.Query(ctx, query, args...)
	if err != nil {
		return nil, handlerWrap("db_write", err, "SELECT failed: %v", err)
	}
	return map[string]any{
		"operation":     "SELECT",
		"table":         table,
		"rows_returned": len(rows),
		"data":          rows,
	}, nil
}

func (h *DBWriteHandler) executeRaw(ctx context.Context, config map[string]any, tmplCtx map[string]any) (map[string]any, error) {
	raw, _ := stringConfig(config, "raw_sql")
	query := RenderTemplate(raw, tmplCtx)

	var args []any
	if list, ok := config["params"].([]any); ok {
		for _, p := range list {
			if s, isString := p.(string); isString {
				args = append(args, RenderTemplate(s, tmplCtx))
			} else {
				args = append(args, p)
			}
		}
	}

	slog.Info("executing raw sql")

	trimmed := strings.ToUpper(strings.TrimSpace(query))
	if strings.HasPrefix(trimmed, "SELECT") || strings.Contains(trimmed, "RETURNING") {
		rows, err := h.executor.Query(ctx, query, args...)
		if err != nil {
			return nil, handlerWrap("db_write", err, "raw query failed: %v", err)
		}
		return map[string]any{
			"operation":     "RAW_SQL",
			"rows_returned": len(rows),
			"data":          rows,
		}, nil
	}

	affected, err := h.executor.Exec(ctx, query, args...)
	if err != nil {
		return nil, handlerWrap("db_write", err, "raw query failed: %v", err)
	}
	return map[string]any{
		"operation":     "RAW_SQL",
		"rows_affected": affected,
	}, nil
}

// orderedColumns validates column names and returns them with their values
// in a deterministic order.
func orderedColumns(values map[string]any) ([]string, []any, error) {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	checked, err := checkedIdents(columns)
	if err != nil {
		return nil, nil, err
	}
	args := make([]any, len(checked))
	for i, col := range checked {
		args[i] = values[col]
	}
	return checked, args, nil
}

// buildWhere renders an AND-joined equality clause with placeholders starting
// after offset. An empty filter yields an empty clause.
func buildWhere(where map[string]any, offset int) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	columns := make([]string, 0, len(where))
	for col := range where {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	checked, err := checkedIdents(columns)
	if err != nil {
		return "", nil, err
	}
	conditions := make([]string, len(checked))
	args := make([]any, len(checked))
	for i, col := range checked {
		conditions[i] = fmt.Sprintf("%s = $%d", col, offset+i+1)
		args[i] = where[col]
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

func checkedIdents(names []string) ([]string, error) {
	for _, name := range names {
		if !identPattern.MatchString(name) {
			return nil, handlerErrf("db_write", "invalid identifier %q", name)
		}
	}
	return names, nil
}

func stringList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, isString := item.(string); isString {
			out = append(out, s)
		}
	}
	return out
}
