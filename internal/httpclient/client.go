// Package httpclient provides the JSON-over-HTTP client shared by the secret
// providers and the host client
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stacklok/gitops-agent/internal/versions"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed response size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorMessage caps how much of an error body ends up in HTTPError
	maxErrorMessage = 512
)

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithHTTPClient replaces the underlying *http.Client, e.g. with one from oauth2.NewClient.
// The client's Timeout is overwritten with the DefaultClient timeout when unset.
func WithHTTPClient(client *http.Client) Option {
	return func(c *DefaultClient) {
		c.client = client
	}
}

// WithBearerToken sends an Authorization: Bearer header on every request
func WithBearerToken(token string) Option {
	return func(c *DefaultClient) {
		c.bearerToken = token
	}
}

// DefaultClient performs JSON requests with a bounded response size
type DefaultClient struct {
	client      *http.Client
	bearerToken string
}

// NewDefaultClient creates a new client with the specified timeout.
// If timeout is 0, uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration, opts ...Option) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{client: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.client.Timeout == 0 {
		c.client.Timeout = timeout
	}
	return c
}

// Get performs an HTTP GET request and returns the response body
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// PostJSON encodes body as JSON, POSTs it and returns the response body.
// A nil body sends an empty request.
func (c *DefaultClient) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, url, body)
}

// Do performs a request. Any non-2xx status is returned as *HTTPError.
func (c *DefaultClient) Do(ctx context.Context, method, url string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", versions.UserAgent())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	// +1 to detect if limit exceeded
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := string(data)
		if len(message) > maxErrorMessage {
			message = message[:maxErrorMessage]
		}
		if message == "" {
			message = resp.Status
		}
		return nil, NewHTTPError(resp.StatusCode, redactQuery(req.URL.String()), message)
	}

	return data, nil
}
