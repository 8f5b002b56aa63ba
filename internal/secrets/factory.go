package secrets

import (
	"fmt"

	"github.com/stacklok/gitops-agent/internal/config"
)

// NewProvider builds the provider selected by cfg, resolving its credentials.
// It returns nil when secret provisioning is disabled.
func NewProvider(cfg *config.SecretsConfig) (Provider, error) {
	switch cfg.Provider {
	case "", config.ProviderNone:
		return nil, nil

	case config.ProviderInfisical:
		if cfg.Infisical == nil {
			return nil, fmt.Errorf("infisical configuration is required")
		}
		clientSecret, err := cfg.Infisical.ClientSecret.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve infisical client secret: %w", err)
		}
		return NewInfisicalProvider(cfg.Infisical.URL, cfg.Infisical.ClientID, clientSecret), nil

	case config.ProviderDoppler:
		if cfg.Doppler == nil {
			return nil, fmt.Errorf("doppler configuration is required")
		}
		token, err := cfg.Doppler.Token.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve doppler token: %w", err)
		}
		return NewDopplerProvider(cfg.Doppler.APIURL, token), nil

	case config.ProviderOnePassword:
		if cfg.OnePassword == nil {
			return nil, fmt.Errorf("onepassword configuration is required")
		}
		token, err := cfg.OnePassword.Token.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve 1password token: %w", err)
		}
		return NewOnePasswordProvider(token, cfg.OnePassword.Items), nil

	default:
		return nil, fmt.Errorf("unknown secret provider %q", cfg.Provider)
	}
}

// ScopeFromConfig returns the provider scope described by cfg
func ScopeFromConfig(cfg *config.SecretsConfig) Scope {
	if cfg.Provider == config.ProviderInfisical && cfg.Infisical != nil {
		return Scope{
			Project:     cfg.Infisical.ProjectID,
			Environment: cfg.Infisical.Environment,
			Path:        cfg.Infisical.Path,
		}
	}
	return Scope{}
}
