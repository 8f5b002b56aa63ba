package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() retryOptions {
	return retryOptions{maxTries: 3, initialInterval: time.Millisecond}
}

func TestDopplerProvider_ListSecrets(t *testing.T) {
	t.Parallel()

	var auth, format, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		format = r.URL.Query().Get("format")
		path = r.URL.Path
		_, _ = w.Write([]byte(`{
			"DOPPLER_PROJECT": "home",
			"DOPPLER_CONFIG": "prd",
			"WIFI_PASSWORD": "hunter2",
			"LATITUDE": "52.1"
		}`))
	}))
	defer server.Close()

	p := NewDopplerProvider(server.URL+"/", "dp.st.token")
	assert.Equal(t, "doppler", p.Name())
	assert.Equal(t, "Doppler", p.DisplayName())

	got, err := p.ListSecrets(context.Background(), Scope{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Secret{
		{Name: "WIFI_PASSWORD", Value: "hunter2"},
		{Name: "LATITUDE", Value: "52.1"},
	}, got)
	assert.Equal(t, "Bearer dp.st.token", auth)
	assert.Equal(t, "json", format)
	assert.Equal(t, "/v3/configs/config/secrets/download", path)
}

func TestDopplerProvider_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantCalls int32
		contains  string
	}{
		{name: "invalid token", status: http.StatusUnauthorized, wantErr: ErrAuthentication, wantCalls: 1, contains: "invalid Doppler token"},
		{name: "no access", status: http.StatusForbidden, wantErr: ErrForbidden, wantCalls: 1},
		{name: "not found is not retried", status: http.StatusNotFound, wantCalls: 1, contains: "HTTP 404"},
		{name: "server error is retried", status: http.StatusBadGateway, wantCalls: 3, contains: "HTTP 502"},
		{name: "invalid json", status: http.StatusOK, body: "{not json", wantCalls: 1, contains: "invalid JSON"},
		{name: "not an object", status: http.StatusOK, body: `["a"]`, wantCalls: 1, contains: "expected an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewDopplerProvider(server.URL, "token")
			p.retry = fastRetry()

			_, err := p.ListSecrets(context.Background(), Scope{})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestDopplerProvider_RecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"A":"1"}`))
	}))
	defer server.Close()

	p := NewDopplerProvider(server.URL, "token")
	p.retry = fastRetry()

	got, err := p.ListSecrets(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, []Secret{{Name: "A", Value: "1"}}, got)
	assert.Equal(t, int32(2), calls.Load())
}
