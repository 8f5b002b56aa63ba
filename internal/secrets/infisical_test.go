package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type infisicalServer struct {
	logins    atomic.Int32
	lists     atomic.Int32
	loginCode int
	query     atomic.Value
}

func (s *infisicalServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/universal-auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.logins.Add(1)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if s.loginCode != 0 || body["clientSecret"] != "shh" {
			w.WriteHeader(max(s.loginCode, http.StatusUnauthorized))
			return
		}
		assert.Equal(t, "machine-id", body["clientId"])
		_, _ = w.Write([]byte(`{"accessToken":"at-1","expiresIn":7200,"tokenType":"Bearer"}`))
	})
	mux.HandleFunc("GET /api/v3/secrets/raw", func(w http.ResponseWriter, r *http.Request) {
		s.lists.Add(1)
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.query.Store(r.URL.Query())
		_, _ = w.Write([]byte(`{"secrets":[
			{"secretKey":"MQTT_PASSWORD","secretValue":"pw","environment":"prod"},
			{"secretKey":"LAT","secretValue":"52.1"}
		]}`))
	})
	return mux
}

func TestInfisicalProvider_ListSecrets(t *testing.T) {
	t.Parallel()

	srv := &infisicalServer{}
	server := httptest.NewServer(srv.handler(t))
	defer server.Close()

	p := NewInfisicalProvider(server.URL, "machine-id", "shh")
	assert.Equal(t, "infisical", p.Name())
	assert.Equal(t, "Infisical", p.DisplayName())

	scope := Scope{Project: "ws-1", Environment: "prod", Path: "/home"}
	for range 2 {
		got, err := p.ListSecrets(context.Background(), scope)
		require.NoError(t, err)
		assert.Equal(t, []Secret{
			{Name: "MQTT_PASSWORD", Value: "pw"},
			{Name: "LAT", Value: "52.1"},
		}, got)
	}

	// the access token is reused until it expires
	assert.Equal(t, int32(1), srv.logins.Load())
	assert.Equal(t, int32(2), srv.lists.Load())
}

func TestInfisicalProvider_QueryParameters(t *testing.T) {
	t.Parallel()

	srv := &infisicalServer{}
	server := httptest.NewServer(srv.handler(t))
	defer server.Close()

	p := NewInfisicalProvider(server.URL, "machine-id", "shh")
	_, err := p.ListSecrets(context.Background(), Scope{Project: "ws-1", Environment: "prod", Path: "/home"})
	require.NoError(t, err)

	q, ok := srv.query.Load().(url.Values)
	require.True(t, ok)
	assert.Equal(t, "ws-1", q.Get("workspaceId"))
	assert.Equal(t, "prod", q.Get("environment"))
	assert.Equal(t, "/home", q.Get("secretPath"))
}

func TestInfisicalProvider_LoginRejected(t *testing.T) {
	t.Parallel()

	srv := &infisicalServer{}
	server := httptest.NewServer(srv.handler(t))
	defer server.Close()

	p := NewInfisicalProvider(server.URL, "machine-id", "wrong")
	p.retry = fastRetry()

	_, err := p.ListSecrets(context.Background(), Scope{Project: "ws-1", Environment: "prod", Path: "/"})
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, int32(1), srv.logins.Load())
	assert.Zero(t, srv.lists.Load())
}
