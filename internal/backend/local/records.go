package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lromero/splitbill/internal/backend"
)

// Select returns the rows matching the query, resolving one-level embedded
// sub-selects against their target tables.
func (b *Backend) Select(ctx context.Context, q backend.SelectQuery) ([]backend.Row, error) {
	columns, embeds, err := backend.ParseColumns(q.Columns)
	if err != nil {
		return nil, &backend.StoreError{Op: "select", Table: q.Table, Err: err}
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(q.Table)
	where, args := buildWhere(q.Filters)
	sb.WriteString(where)
	if q.Order != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.Order.Column)
		if q.Order.Descending {
			sb.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	rows, err := b.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, &backend.StoreError{Op: "select", Table: q.Table, Err: err}
	}
	defer rows.Close()

	out, err := scanRows(rows, q.Table)
	if err != nil {
		return nil, &backend.StoreError{Op: "select", Table: q.Table, Err: err}
	}

	for _, row := range out {
		if err := b.attachEmbeds(ctx, row, embeds); err != nil {
			return nil, &backend.StoreError{Op: "select", Table: q.Table, Err: err}
		}
	}
	return projectRows(out, columns, embeds), nil
}

// projectRows restricts each row to the selected top-level columns plus the
// embed aliases. A "*" in the selection keeps everything, the hosted row
// endpoint's behavior.
func projectRows(rows []backend.Row, columns []string, embeds []backend.Embed) []backend.Row {
	keep := make(map[string]bool, len(columns)+len(embeds))
	for _, c := range columns {
		if c == "*" {
			return rows
		}
		keep[c] = true
	}
	for _, e := range embeds {
		keep[e.Alias] = true
	}
	for i, row := range rows {
		projected := make(backend.Row, len(keep))
		for k, v := range row {
			if keep[k] {
				projected[k] = v
			}
		}
		rows[i] = projected
	}
	return rows
}

// Insert creates one row, filling in the ID and timestamp defaults the hosted
// backend would assign server-side.
func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	row = withDefaults(table, row)
	columns, placeholders, args := buildInsert(row)

	res, err := b.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, placeholders),
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert %s: %w", table, backend.ErrConflict)
		}
		return nil, &backend.StoreError{Op: "insert", Table: table, Err: err}
	}
	if _, err := res.RowsAffected(); err != nil {
		return nil, &backend.StoreError{Op: "insert", Table: table, Err: err}
	}
	return b.fetchByID(ctx, table, row["id"].(string))
}

// Update applies patch to the matching rows and returns them as updated.
func (b *Backend) Update(ctx context.Context, table string, patch backend.Row, filters ...backend.Filter) ([]backend.Row, error) {
	if len(patch) == 0 {
		return nil, &backend.StoreError{Op: "update", Table: table, Err: fmt.Errorf("empty patch")}
	}

	cols := sortedKeys(patch)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, toArg(patch[c]))
	}
	where, whereArgs := buildWhere(filters)
	args = append(args, whereArgs...)

	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", table, strings.Join(sets, ", "), where),
		args...,
	)
	if err != nil {
		return nil, &backend.StoreError{Op: "update", Table: table, Err: err}
	}
	defer rows.Close()

	out, err := scanRows(rows, table)
	if err != nil {
		return nil, &backend.StoreError{Op: "update", Table: table, Err: err}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("update %s: %w", table, backend.ErrNotFound)
	}
	return out, nil
}

// Delete removes the matching rows; deleting nothing is a not-found.
func (b *Backend) Delete(ctx context.Context, table string, filters ...backend.Filter) error {
	where, args := buildWhere(filters)
	res, err := b.db.ExecContext(ctx, "DELETE FROM "+table+where, args...)
	if err != nil {
		return &backend.StoreError{Op: "delete", Table: table, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &backend.StoreError{Op: "delete", Table: table, Err: err}
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", table, backend.ErrNotFound)
	}
	return nil
}

// Upsert inserts guarded by the conflict columns: an existing row matching
// the target leaves the store untouched and yields ErrConflict.
func (b *Backend) Upsert(ctx context.Context, table string, row backend.Row, conflictColumns ...string) (backend.Row, error) {
	if len(conflictColumns) == 0 {
		return b.Insert(ctx, table, row)
	}
	row = withDefaults(table, row)
	columns, placeholders, args := buildInsert(row)

	res, err := b.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO NOTHING",
			table, columns, placeholders, strings.Join(conflictColumns, ", ")),
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// A different uniqueness constraint fired.
			return nil, fmt.Errorf("upsert %s: %w", table, backend.ErrConflict)
		}
		return nil, &backend.StoreError{Op: "upsert", Table: table, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, &backend.StoreError{Op: "upsert", Table: table, Err: err}
	}
	if n == 0 {
		return nil, fmt.Errorf("upsert %s: %w", table, backend.ErrConflict)
	}
	return b.fetchByID(ctx, table, row["id"].(string))
}

func (b *Backend) fetchByID(ctx context.Context, table, id string) (backend.Row, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT * FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return nil, &backend.StoreError{Op: "select", Table: table, Err: err}
	}
	defer rows.Close()

	out, err := scanRows(rows, table)
	if err != nil {
		return nil, &backend.StoreError{Op: "select", Table: table, Err: err}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("select %s: %w", table, backend.ErrNotFound)
	}
	return out[0], nil
}

// attachEmbeds resolves each embed's foreign key against its target table and
// attaches the referenced row (or nil) under the alias key.
func (b *Backend) attachEmbeds(ctx context.Context, row backend.Row, embeds []backend.Embed) error {
	for _, e := range embeds {
		target, ok := embedTargets[e.FKColumn]
		if !ok {
			return fmt.Errorf("unknown embed column %q", e.FKColumn)
		}
		fk, _ := row[e.FKColumn].(string)
		if fk == "" {
			row[e.Alias] = nil
			continue
		}
		ref, err := b.fetchByID(ctx, target, fk)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				row[e.Alias] = nil
				continue
			}
			return err
		}
		if len(e.Columns) > 0 {
			projected := backend.Row{}
			for _, c := range e.Columns {
				projected[c] = ref[c]
			}
			ref = projected
		}
		row[e.Alias] = ref
	}
	return nil
}

func buildWhere(filters []backend.Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		switch f.Op {
		case "neq":
			// NULL differs from any value, matching the documented
			// filter semantics.
			clauses = append(clauses, "("+f.Column+" <> ? OR "+f.Column+" IS NULL)")
		default:
			clauses = append(clauses, f.Column+" = ?")
		}
		args = append(args, f.Value)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildInsert(row backend.Row) (columns, placeholders string, args []any) {
	cols := sortedKeys(row)
	marks := make([]string, len(cols))
	args = make([]any, len(cols))
	for i, c := range cols {
		marks[i] = "?"
		args[i] = toArg(row[c])
	}
	return strings.Join(cols, ", "), strings.Join(marks, ", "), args
}

func sortedKeys(row backend.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toArg converts a row value into a driver argument.
func toArg(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// withDefaults copies the row and fills in the ID and timestamp columns the
// hosted backend assigns server-side.
func withDefaults(table string, row backend.Row) backend.Row {
	out := make(backend.Row, len(row)+3)
	for k, v := range row {
		out[k] = v
	}
	if id, _ := out["id"].(string); id == "" {
		out["id"] = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, c := range timeColumns[table] {
		if _, set := out[c]; !set {
			out[c] = now
		}
	}
	return out
}

// scanRows converts sql rows into generic backend rows, normalizing driver
// types (bytes to string, integer flags to bool).
func scanRows(rows *sql.Rows, table string) ([]backend.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []backend.Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(backend.Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(c, vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalize(column string, v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int64:
		if boolColumns[column] {
			return x != 0
		}
		return x
	default:
		return v
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
