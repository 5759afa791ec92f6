package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the targeted row or object no longer exists.
	ErrNotFound = errors.New("record not found")

	// ErrConflict signals a uniqueness or upsert-target violation, e.g. a
	// duplicate pending invitation or contact edge.
	ErrConflict = errors.New("record already exists")
)

// StoreError wraps a generic backend failure (network, permission, server)
// with the operation and table it occurred on.
type StoreError struct {
	Op     string
	Table  string
	Status int // HTTP status when known, 0 otherwise
	Err    error
}

func (e *StoreError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Table, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
