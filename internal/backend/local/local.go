// Package local provides a self-contained implementation of the backend
// interfaces backed by SQLite, the local filesystem and locally issued JWTs.
//
// It exists for development and tests: the services run against it exactly as
// they run against the hosted backend, including conflict and not-found
// semantics.
package local

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/lromero/splitbill/internal/backend"
)

// Ensure the interfaces are satisfied.
var (
	_ backend.RecordStore  = (*Backend)(nil)
	_ backend.BlobStore    = (*Backend)(nil)
	_ backend.SessionStore = (*Backend)(nil)
)

// Options configures a local backend.
type Options struct {
	// DataDir is the root directory for the database file and blob objects.
	DataDir string

	// TokenSecret signs locally issued access tokens.
	TokenSecret string

	// TokenDuration is the access-token lifetime. Defaults to 24h.
	TokenDuration time.Duration

	// PublicBaseURL prefixes blob public URLs. Defaults to "file://" +
	// the blobs directory.
	PublicBaseURL string
}

// Backend implements the record, blob and session stores on local resources.
type Backend struct {
	db       *sql.DB
	blobRoot string
	baseURL  string

	sessions *sessionState
}

// Open creates the data directory, opens the SQLite database and runs
// migrations.
func Open(opts Options) (*Backend, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if opts.TokenSecret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if opts.TokenDuration == 0 {
		opts.TokenDuration = 24 * time.Hour
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(opts.DataDir, "splitbill.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	blobRoot := filepath.Join(opts.DataDir, "blobs")
	if err := os.MkdirAll(blobRoot, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		baseURL = "file://" + blobRoot
	}

	return &Backend{
		db:       db,
		blobRoot: blobRoot,
		baseURL:  baseURL,
		sessions: newSessionState(db, []byte(opts.TokenSecret), opts.TokenDuration),
	}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}
