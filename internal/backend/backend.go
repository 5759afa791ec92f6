// Package backend defines the client's only external boundary: the hosted
// record store, blob store and session store.
//
// The interfaces mirror the hosted service's call shapes: table-style CRUD
// with filters and joined sub-selects, object storage with public URLs, and a
// token-issuing identity service with an auth-state callback. Two
// implementations exist: rest (the hosted HTTP API) and local (SQLite plus
// filesystem, for development and tests).
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Row is a generic record as returned by the record store. Values follow
// encoding/json conventions (string, float64, bool, nil, nested Row).
type Row = map[string]any

// Filter restricts a select, update or delete to matching rows.
type Filter struct {
	Column string
	Op     string // "eq" or "neq"
	Value  string
}

// Eq matches rows whose column equals value.
func Eq(column, value string) Filter { return Filter{Column: column, Op: "eq", Value: value} }

// Neq matches rows whose column differs from value (NULL counts as differing).
func Neq(column, value string) Filter { return Filter{Column: column, Op: "neq", Value: value} }

// Order sorts select results by a single column.
type Order struct {
	Column     string
	Descending bool
}

// SelectQuery describes a read against one table.
//
// Columns uses the hosted store's select syntax: "*" or a column list,
// optionally with one-level embedded sub-selects written as
// "alias:fk_column(col1,col2)". The embedded object appears in the result row
// under the alias key.
type SelectQuery struct {
	Table   string
	Columns string
	Filters []Filter
	Order   *Order
	Limit   int
}

// RecordStore is the table-style CRUD surface of the hosted backend.
type RecordStore interface {
	// Select returns the rows matching the query, possibly none.
	Select(ctx context.Context, q SelectQuery) ([]Row, error)

	// Insert creates one row and returns it as stored (with server-assigned
	// defaults filled in).
	Insert(ctx context.Context, table string, row Row) (Row, error)

	// Update applies patch to every row matching the filters and returns the
	// updated rows. Updating zero rows returns ErrNotFound.
	Update(ctx context.Context, table string, patch Row, filters ...Filter) ([]Row, error)

	// Delete removes every row matching the filters. Deleting zero rows
	// returns ErrNotFound.
	Delete(ctx context.Context, table string, filters ...Filter) error

	// Upsert inserts a row guarded by a uniqueness target: when an existing
	// row already matches the conflict columns, nothing is written and
	// ErrConflict is returned.
	Upsert(ctx context.Context, table string, row Row, conflictColumns ...string) (Row, error)
}

// BlobStore is the hosted object storage surface.
type BlobStore interface {
	// Upload stores data under bucket/path. Uploading to an existing path
	// returns ErrConflict.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error

	// PublicURL returns the publicly reachable URL for bucket/path. The URL
	// is derived, not checked: it is valid only if the object exists.
	PublicURL(bucket, path string) string

	// Remove deletes the given objects. Missing paths are not an error.
	Remove(ctx context.Context, bucket string, paths ...string) error
}

// AuthEvent identifies a session transition delivered to OnChange callbacks.
type AuthEvent string

const (
	SignedIn       AuthEvent = "SIGNED_IN"
	SignedOut      AuthEvent = "SIGNED_OUT"
	TokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// Session is an authenticated identity with its tokens.
type Session struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// SessionStore is the hosted identity service.
type SessionStore interface {
	// SignUp registers a new identity and returns its session.
	SignUp(ctx context.Context, email, password string) (*Session, error)

	// SignIn authenticates an existing identity.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// SignOut ends the current session.
	SignOut(ctx context.Context) error

	// Session returns the current session, or nil when signed out.
	Session() *Session

	// OnChange registers a callback for session transitions. The returned
	// func unregisters it.
	OnChange(fn func(event AuthEvent, s *Session)) (cancel func())
}

// Decode converts a row into a typed record through a JSON round-trip.
func Decode[T any](row Row) (T, error) {
	var out T
	raw, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("failed to encode row: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode row: %w", err)
	}
	return out, nil
}

// DecodeAll converts a row slice into typed records.
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode converts a typed record into a row through a JSON round-trip.
func Encode(v any) (Row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return row, nil
}
