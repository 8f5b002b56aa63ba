package httpclient_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gitops-agent/internal/httpclient"
	"github.com/stacklok/gitops-agent/internal/versions"
)

// newTestServer creates a new test server with keep-alives disabled.
// Closing a server with keep-alives enabled can affect other parallel tests
// sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestDefaultClient_Get(t *testing.T) {
	t.Parallel()

	var userAgent, accept, auth string
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"message":"success"}`))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(5*time.Second, httpclient.WithBearerToken("tok"))
	data, err := client.Get(context.Background(), server.URL)

	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"success"}`, string(data))
	assert.Equal(t, versions.UserAgent(), userAgent)
	assert.Equal(t, "application/json", accept)
	assert.Equal(t, "Bearer tok", auth)
}

func TestDefaultClient_PostJSON(t *testing.T) {
	t.Parallel()

	var body, contentType string
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(0)
	_, err := client.PostJSON(context.Background(), server.URL, map[string]string{"clientId": "id"})

	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"clientId":"id"}`, body)
}

func TestDefaultClient_HTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		body       string
		retryable  bool
		contains   string
	}{
		{name: "401", statusCode: http.StatusUnauthorized, body: "Unauthorized", contains: "HTTP 401"},
		{name: "404", statusCode: http.StatusNotFound, body: "", contains: "404 Not Found"},
		{name: "429", statusCode: http.StatusTooManyRequests, body: "slow down", retryable: true, contains: "slow down"},
		{name: "503", statusCode: http.StatusServiceUnavailable, body: "down", retryable: true, contains: "HTTP 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := httpclient.NewDefaultClient(0).Get(context.Background(), server.URL+"/v3/secrets?token=abc")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.NotContains(t, err.Error(), "token=abc")
			assert.Equal(t, tt.statusCode, httpclient.StatusCode(err))

			var httpErr *httpclient.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.retryable, httpErr.Retryable())
		})
	}
}

func TestDefaultClient_LargeErrorBodyIsTruncated(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	_, err := httpclient.NewDefaultClient(0).Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 1024)
}

func TestDefaultClient_NetworkErrors(t *testing.T) {
	t.Parallel()

	client := httpclient.NewDefaultClient(time.Second)

	_, err := client.Get(context.Background(), "://invalid-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create request")

	_, err = client.Get(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute request")
	assert.Zero(t, httpclient.StatusCode(err))
}

func TestDefaultClient_Timeout(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := httpclient.NewDefaultClient(20 * time.Millisecond).Get(context.Background(), server.URL)
	require.Error(t, err)
}
