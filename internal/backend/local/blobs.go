package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lromero/splitbill/internal/backend"
)

// Upload writes the object under the blob root. An existing object at the
// same path is a conflict, matching the hosted store's no-overwrite default.
func (b *Backend) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	full, err := b.blobPath(bucket, path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err == nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, backend.ErrConflict)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &backend.StoreError{Op: "upload", Table: bucket, Err: err}
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return &backend.StoreError{Op: "upload", Table: bucket, Err: err}
	}
	return nil
}

// PublicURL derives the public URL for an object without checking existence.
func (b *Backend) PublicURL(bucket, path string) string {
	return b.baseURL + "/" + bucket + "/" + path
}

// Remove deletes the given objects; missing paths are ignored.
func (b *Backend) Remove(ctx context.Context, bucket string, paths ...string) error {
	for _, p := range paths {
		full, err := b.blobPath(bucket, p)
		if err != nil {
			return err
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return &backend.StoreError{Op: "remove", Table: bucket, Err: err}
		}
	}
	return nil
}

// blobPath resolves bucket/path under the blob root, rejecting traversal.
func (b *Backend) blobPath(bucket, path string) (string, error) {
	full := filepath.Join(b.blobRoot, bucket, filepath.FromSlash(path))
	if !strings.HasPrefix(full, b.blobRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return full, nil
}
