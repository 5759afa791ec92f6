package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/lromero/splitbill/internal/backend"
)

// Upload stores an object in the given bucket. The object endpoint rejects
// overwrites unless asked otherwise, so an existing path conflicts.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	u := c.baseURL + "/storage/v1/object/" + bucket + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return &backend.StoreError{Op: "upload", Table: bucket, Err: err}
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerToken())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Cache-Control", "max-age=3600")

	resp, err := c.http.Do(req)
	if err != nil {
		return &backend.StoreError{Op: "upload", Table: bucket, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(resp.Body)
		return mapStatus(resp.StatusCode, payload, "upload", bucket)
	}
	return nil
}

// PublicURL derives the public URL for an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + path
}

// Remove deletes objects from a bucket. The endpoint ignores missing paths.
func (c *Client) Remove(ctx context.Context, bucket string, paths ...string) error {
	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return &backend.StoreError{Op: "remove", Table: bucket, Err: err}
	}
	return c.do(ctx, http.MethodDelete, c.baseURL+"/storage/v1/object/"+bucket, nil, body, nil, "remove", bucket)
}
