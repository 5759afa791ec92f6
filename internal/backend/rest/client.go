// Package rest implements the backend interfaces against the hosted
// service's HTTP API: a PostgREST-style row endpoint, an object storage
// endpoint and a token-issuing auth endpoint.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lromero/splitbill/internal/backend"
)

// Ensure the interfaces are satisfied.
var (
	_ backend.RecordStore  = (*Client)(nil)
	_ backend.BlobStore    = (*Client)(nil)
	_ backend.SessionStore = (*Client)(nil)
)

// Client talks to one hosted project identified by its base URL and API key.
// The key authenticates anonymous requests; once signed in, the session's
// access token takes over as the bearer credential.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	auth *authState
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the project at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	c.auth = newAuthState(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close stops the background token refresher.
func (c *Client) Close() {
	c.auth.stopRefresh()
}

// do issues a request with the project headers and decodes the response body
// into out (unless out is nil). Non-2xx statuses map onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, url string, headers http.Header, body []byte, out any, op, table string) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &backend.StoreError{Op: op, Table: table, Err: err}
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &backend.StoreError{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &backend.StoreError{Op: op, Table: table, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapStatus(resp.StatusCode, payload, op, table)
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return &backend.StoreError{Op: op, Table: table, Err: fmt.Errorf("bad response body: %w", err)}
		}
	}
	return nil
}

// bearerToken returns the session access token, or the API key while
// signed out.
func (c *Client) bearerToken() string {
	if s := c.Session(); s != nil {
		return s.AccessToken
	}
	return c.apiKey
}

// serverError is the error shape the hosted service returns.
type serverError struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Code    string `json:"code"`
}

func (e *serverError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

func mapStatus(status int, body []byte, op, table string) error {
	var se serverError
	_ = json.Unmarshal(body, &se)
	msg := se.text()
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	// 406 is the row endpoint's answer to a single-object request that
	// matched no rows.
	case status == http.StatusNotFound || status == http.StatusNotAcceptable:
		return fmt.Errorf("%s %s: %s: %w", op, table, msg, backend.ErrNotFound)
	case status == http.StatusConflict || se.Code == "23505":
		return fmt.Errorf("%s %s: %s: %w", op, table, msg, backend.ErrConflict)
	default:
		return &backend.StoreError{Op: op, Table: table, Status: status, Err: fmt.Errorf("%s", msg)}
	}
}
