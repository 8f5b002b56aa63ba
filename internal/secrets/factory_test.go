package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gitops-agent/internal/config"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      config.SecretsConfig
		wantName string
		wantErr  string
	}{
		{name: "empty disables", cfg: config.SecretsConfig{}},
		{name: "none disables", cfg: config.SecretsConfig{Provider: config.ProviderNone}},
		{
			name: "doppler",
			cfg: config.SecretsConfig{
				Provider: config.ProviderDoppler,
				Doppler:  &config.DopplerConfig{Token: config.SecretRef{Value: "dp.st.x"}},
			},
			wantName: "doppler",
		},
		{
			name: "infisical",
			cfg: config.SecretsConfig{
				Provider: config.ProviderInfisical,
				Infisical: &config.InfisicalConfig{
					ClientID:     "id",
					ClientSecret: config.SecretRef{Value: "secret"},
					ProjectID:    "p",
					Environment:  "prod",
				},
			},
			wantName: "infisical",
		},
		{
			name: "onepassword",
			cfg: config.SecretsConfig{
				Provider: config.ProviderOnePassword,
				OnePassword: &config.OnePasswordConfig{
					Token: config.SecretRef{Value: "ops_x"},
					Items: map[string]string{"a": "op://v/i/f"},
				},
			},
			wantName: "onepassword",
		},
		{name: "missing doppler section", cfg: config.SecretsConfig{Provider: config.ProviderDoppler}, wantErr: "doppler configuration is required"},
		{
			name: "unresolvable token",
			cfg: config.SecretsConfig{
				Provider: config.ProviderDoppler,
				Doppler:  &config.DopplerConfig{Token: config.SecretRef{File: "/nonexistent/token"}},
			},
			wantErr: "failed to resolve doppler token",
		},
		{name: "unknown provider", cfg: config.SecretsConfig{Provider: "vault"}, wantErr: `unknown secret provider "vault"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewProvider(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantName == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestScopeFromConfig(t *testing.T) {
	t.Parallel()

	scope := ScopeFromConfig(&config.SecretsConfig{
		Provider:  config.ProviderInfisical,
		Infisical: &config.InfisicalConfig{ProjectID: "p", Environment: "prod", Path: "/ha"},
	})
	assert.Equal(t, Scope{Project: "p", Environment: "prod", Path: "/ha"}, scope)

	assert.Equal(t, Scope{}, ScopeFromConfig(&config.SecretsConfig{Provider: config.ProviderDoppler}))
}
