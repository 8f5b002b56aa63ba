package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/gitops-agent/internal/config"
	"github.com/stacklok/gitops-agent/internal/git/gittest"
	hostmocks "github.com/stacklok/gitops-agent/internal/host/mocks"
)

const testWebhookSecret = "webhook-secret"

// newTestConfig returns a configuration for a fresh clone of a test upstream
// with all state files below a temporary directory
func newTestConfig(t *testing.T, extra string) (*config.Config, *gittest.Repo) {
	t.Helper()

	upstream := gittest.NewUpstream(t, gittest.Files{
		"configuration.yaml": "homeassistant: {}\n",
		"automations.yaml":   "[]\n",
	})
	local := gittest.Clone(t, upstream)
	state := t.TempDir()

	cfg, err := config.Parse(fmt.Appendf(nil, `
repository:
  path: %s
webhook:
  secret:
    value: %s
host:
  url: http://127.0.0.1:8123
  token:
    value: token
journal:
  path: %s
history:
  enabled: true
  path: %s
%s`, local.Dir, testWebhookSecret,
		filepath.Join(state, "journal.json"),
		filepath.Join(state, "history.db"),
		extra,
	))
	require.NoError(t, err)
	return cfg, upstream
}

func TestBaseConfigDefaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Equal(t, defaultWriteTimeout, built.writeTimeout)
	assert.Nil(t, built.middlewares)
}

func TestBaseConfigOptionError(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithAddress(":"))
	require.Error(t, err)
	require.Nil(t, built)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "valid address", address: ":9999", want: ":9999"},
		{name: "valid address with host", address: "127.0.0.1:9999", want: "127.0.0.1:9999"},
		{name: "valid address with localhost", address: "localhost:9999", want: "localhost:9999"},
		{name: "valid ipv6 address", address: "[::1]:9999", want: "[::1]:9999"},
		{name: "invalid empty address", address: "", wantErr: true},
		{name: "invalid empty port", address: ":", wantErr: true},
		{name: "invalid missing port", address: "localhost", wantErr: true},
		{name: "invalid port out of range", address: "localhost:999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &gitOpsAppConfig{}
			err := WithAddress(tt.address)(cfg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.address)
		})
	}
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()

	mw := func(next http.Handler) http.Handler { return next }
	cfg := &gitOpsAppConfig{}
	require.NoError(t, WithMiddlewares(mw, mw)(cfg))
	assert.Len(t, cfg.middlewares, 2)
}

func TestNewGitOpsApp_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewGitOpsApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestNewGitOpsApp(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cfg, _ := newTestConfig(t, "")

	app, err := NewGitOpsApp(context.Background(),
		WithConfig(cfg),
		WithAddress("127.0.0.1:0"),
		WithHost(hostmocks.NewMockHost(ctrl)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(0) })

	assert.Same(t, cfg, app.GetConfig())
	assert.Equal(t, "127.0.0.1:0", app.GetHTTPServer().Addr)
	assert.Equal(t, defaultWriteTimeout, app.GetHTTPServer().WriteTimeout)

	components := app.Components()
	require.NotNil(t, components.Coordinator)
	require.NotNil(t, components.Hub)
	require.NotNil(t, components.History)
	assert.Equal(t, cfg.Journal.Path, components.Journal.Path())
	assert.False(t, components.Coordinator.SecretsEnabled())
}

func TestNewGitOpsApp_JournalLocked(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cfg, _ := newTestConfig(t, "")

	first, err := NewGitOpsApp(context.Background(), WithConfig(cfg), WithHost(hostmocks.NewMockHost(ctrl)))
	require.NoError(t, err)

	_, err = NewGitOpsApp(context.Background(), WithConfig(cfg), WithHost(hostmocks.NewMockHost(ctrl)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another agent instance")

	// the lock is released on stop
	require.NoError(t, first.Stop(0))
	second, err := NewGitOpsApp(context.Background(), WithConfig(cfg), WithHost(hostmocks.NewMockHost(ctrl)))
	require.NoError(t, err)
	require.NoError(t, second.Stop(0))
}

func TestNewGitOpsApp_InvalidPatternsFile(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	patternsFile := filepath.Join(t.TempDir(), "patterns.hujson")
	require.NoError(t, os.WriteFile(patternsFile, []byte(`{"reload": {"automation": [42]}}`), 0o600))
	cfg, _ := newTestConfig(t, "patterns:\n  file: "+patternsFile+"\n")

	_, err := NewGitOpsApp(context.Background(), WithConfig(cfg), WithHost(hostmocks.NewMockHost(ctrl)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load reload patterns")

	// a failed build must not keep the journal locked
	app, err := NewGitOpsApp(context.Background(),
		WithConfig(func() *config.Config { c := *cfg; c.Patterns.File = ""; return &c }()),
		WithHost(hostmocks.NewMockHost(ctrl)),
	)
	require.NoError(t, err)
	require.NoError(t, app.Stop(0))
}
