package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lromero/splitbill/internal/backend"
)

// Select reads rows through the row endpoint. Embedded sub-selects in the
// Columns expression are passed through untouched; the server resolves them.
func (c *Client) Select(ctx context.Context, q backend.SelectQuery) ([]backend.Row, error) {
	params := url.Values{}
	cols := q.Columns
	if strings.TrimSpace(cols) == "" {
		cols = "*"
	}
	params.Set("select", cols)
	addFilters(params, q.Filters)
	if q.Order != nil {
		dir := "asc"
		if q.Order.Descending {
			dir = "desc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}

	var rows []backend.Row
	err := c.do(ctx, http.MethodGet, c.tableURL(q.Table, params), nil, nil, &rows, "select", q.Table)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert creates one row and returns the stored representation.
func (c *Client) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return nil, &backend.StoreError{Op: "insert", Table: table, Err: err}
	}

	headers := http.Header{}
	headers.Set("Prefer", "return=representation")

	var rows []backend.Row
	if err := c.do(ctx, http.MethodPost, c.tableURL(table, nil), headers, body, &rows, "insert", table); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.StoreError{Op: "insert", Table: table, Err: fmt.Errorf("empty representation")}
	}
	return rows[0], nil
}

// Update patches the matching rows and returns them; no match is not-found.
func (c *Client) Update(ctx context.Context, table string, patch backend.Row, filters ...backend.Filter) ([]backend.Row, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, &backend.StoreError{Op: "update", Table: table, Err: err}
	}

	params := url.Values{}
	addFilters(params, filters)
	headers := http.Header{}
	headers.Set("Prefer", "return=representation")

	var rows []backend.Row
	if err := c.do(ctx, http.MethodPatch, c.tableURL(table, params), headers, body, &rows, "update", table); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s: %w", table, backend.ErrNotFound)
	}
	return rows, nil
}

// Delete removes the matching rows; no match is not-found.
func (c *Client) Delete(ctx context.Context, table string, filters ...backend.Filter) error {
	params := url.Values{}
	addFilters(params, filters)
	headers := http.Header{}
	headers.Set("Prefer", "return=representation")

	var rows []backend.Row
	if err := c.do(ctx, http.MethodDelete, c.tableURL(table, params), headers, nil, &rows, "delete", table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("delete %s: %w", table, backend.ErrNotFound)
	}
	return nil
}

// Upsert inserts guarded by the conflict columns. The server is asked to
// ignore duplicates; an empty representation means the target matched an
// existing row, which surfaces as ErrConflict.
func (c *Client) Upsert(ctx context.Context, table string, row backend.Row, conflictColumns ...string) (backend.Row, error) {
	if len(conflictColumns) == 0 {
		return c.Insert(ctx, table, row)
	}
	body, err := json.Marshal(row)
	if err != nil {
		return nil, &backend.StoreError{Op: "upsert", Table: table, Err: err}
	}

	params := url.Values{}
	params.Set("on_conflict", strings.Join(conflictColumns, ","))
	headers := http.Header{}
	headers.Set("Prefer", "resolution=ignore-duplicates,return=representation")

	var rows []backend.Row
	if err := c.do(ctx, http.MethodPost, c.tableURL(table, params), headers, body, &rows, "upsert", table); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert %s: %w", table, backend.ErrConflict)
	}
	return rows[0], nil
}

func (c *Client) tableURL(table string, params url.Values) string {
	u := c.baseURL + "/rest/v1/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// addFilters renders filters as query operators. neq is widened with an OR
// branch so NULL columns count as differing, matching the documented filter
// semantics.
func addFilters(params url.Values, filters []backend.Filter) {
	for _, f := range filters {
		switch f.Op {
		case "neq":
			params.Add("or", "("+f.Column+".neq."+f.Value+","+f.Column+".is.null)")
		default:
			params.Add(f.Column, "eq."+f.Value)
		}
	}
}
