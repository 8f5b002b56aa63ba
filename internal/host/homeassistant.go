package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stacklok/gitops-agent/internal/config"
	"github.com/stacklok/gitops-agent/internal/httpclient"
)

const (
	// DefaultValidateTimeout bounds a configuration check
	DefaultValidateTimeout = 2 * time.Minute

	// DefaultReloadTimeout bounds each subsystem reload
	DefaultReloadTimeout = 30 * time.Second
)

var domainPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// HomeAssistantClient implements Host against the Home Assistant REST API
type HomeAssistantClient struct {
	baseURL         string
	client          *httpclient.DefaultClient
	validateTimeout time.Duration
	reloadTimeout   time.Duration
}

// Option configures a HomeAssistantClient
type Option func(*HomeAssistantClient)

// WithValidateTimeout overrides DefaultValidateTimeout
func WithValidateTimeout(d time.Duration) Option {
	return func(c *HomeAssistantClient) {
		if d > 0 {
			c.validateTimeout = d
		}
	}
}

// WithReloadTimeout overrides DefaultReloadTimeout
func WithReloadTimeout(d time.Duration) Option {
	return func(c *HomeAssistantClient) {
		if d > 0 {
			c.reloadTimeout = d
		}
	}
}

// NewHomeAssistantClient creates a client for the API at baseURL
func NewHomeAssistantClient(baseURL, token string, opts ...Option) *HomeAssistantClient {
	c := &HomeAssistantClient{
		baseURL:         strings.TrimRight(baseURL, "/"),
		validateTimeout: DefaultValidateTimeout,
		reloadTimeout:   DefaultReloadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	// per-call contexts carry the real budgets
	c.client = httpclient.NewDefaultClient(max(c.validateTimeout, c.reloadTimeout)+5*time.Second,
		httpclient.WithBearerToken(token))
	return c
}

// NewFromConfig resolves the token and creates a HomeAssistantClient
func NewFromConfig(cfg *config.HostConfig) (*HomeAssistantClient, error) {
	token, err := cfg.Token.Resolve()
	if err != nil {
		return nil, fmt.Errorf("host: failed to resolve token: %w", err)
	}
	return NewHomeAssistantClient(cfg.URL, token,
		WithValidateTimeout(cfg.GetValidateTimeout()),
		WithReloadTimeout(cfg.GetReloadTimeout()),
	), nil
}

// ValidateConfiguration implements Host
func (c *HomeAssistantClient) ValidateConfiguration(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.validateTimeout)
	defer cancel()

	data, err := c.client.PostJSON(ctx, c.baseURL+"/api/config/core/check_config", nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("configuration check timed out after %s", c.validateTimeout)
		}
		return fmt.Errorf("configuration check failed: %w", err)
	}

	result := gjson.GetBytes(data, "result").String()
	if result == "valid" {
		slog.Info("Configuration validation passed")
		return nil
	}

	message := strings.TrimSpace(gjson.GetBytes(data, "errors").String())
	if message == "" {
		message = fmt.Sprintf("unexpected result %q", result)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, message)
}

// ReloadSubsystem implements Host
func (c *HomeAssistantClient) ReloadSubsystem(ctx context.Context, name string) error {
	if !domainPattern.MatchString(name) {
		return fmt.Errorf("invalid subsystem name %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.reloadTimeout)
	defer cancel()

	slog.Info("Reloading domain", "domain", name)
	if _, err := c.client.PostJSON(ctx, fmt.Sprintf("%s/api/services/%s/reload", c.baseURL, name), nil); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrReloadTimeout, name, c.reloadTimeout)
		}
		return fmt.Errorf("failed to reload %s: %w", name, err)
	}
	return nil
}
