// Package config provides configuration loading and management for the gitops agent.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/gitops-agent/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for environment variables read through viper
	EnvPrefix = "GITOPS_AGENT"

	// ProviderInfisical selects the Infisical secret provider
	ProviderInfisical = "infisical"

	// ProviderDoppler selects the Doppler secret provider
	ProviderDoppler = "doppler"

	// ProviderOnePassword selects the 1Password secret provider
	ProviderOnePassword = "onepassword"

	// ProviderNone disables secret provisioning
	ProviderNone = "none"
)

const (
	defaultRemote              = "origin"
	defaultBranch              = "main"
	defaultPrimarySecretsFile  = "secrets.yaml"
	defaultUpdateCheckInterval = 5 * time.Minute
	defaultDriftCheckInterval  = 5 * time.Minute
	defaultValidateTimeout     = 2 * time.Minute
	defaultReloadTimeout       = 30 * time.Second
	defaultJournalPath         = "./data/journal.json"
	defaultHistoryPath         = "./data/history.db"
	defaultEventBufferSize     = 32
	defaultDopplerAPIURL       = "https://api.doppler.com"
	defaultInfisicalURL        = "https://app.infisical.com"
	defaultInfisicalPath       = "/"
	defaultIntegrationPath     = "custom_components/gitops/"
	defaultRedisChannel        = "gitops-agent.events"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Repository RepositoryConfig  `yaml:"repository"`
	Webhook    WebhookConfig     `yaml:"webhook"`
	Host       HostConfig        `yaml:"host"`
	Secrets    SecretsConfig     `yaml:"secrets"`
	Schedule   ScheduleConfig    `yaml:"schedule"`
	Journal    JournalConfig     `yaml:"journal"`
	History    HistoryConfig     `yaml:"history"`
	Events     EventsConfig      `yaml:"events"`
	Patterns   PatternsConfig    `yaml:"patterns"`
	Telemetry  *telemetry.Config `yaml:"telemetry,omitempty"`
}

// RepositoryConfig describes the local working copy and its upstream
type RepositoryConfig struct {
	// Path is the root of the working copy
	Path string `yaml:"path" validate:"required"`

	// Remote is the name of the tracked remote
	Remote string `yaml:"remote,omitempty"`

	// Branch is the tracked upstream branch
	Branch string `yaml:"branch,omitempty"`

	// Auth holds optional HTTP basic credentials for fetch and pull
	Auth *GitAuthConfig `yaml:"auth,omitempty"`

	// IntegrationPath is a subtree whose changes require the agent itself to be reloaded
	IntegrationPath string `yaml:"integrationPath,omitempty"`

	// WebURL is the browsable repository URL used to build compare links
	WebURL string `yaml:"webURL,omitempty" validate:"omitempty,url"`
}

// GitAuthConfig holds HTTP basic credentials
type GitAuthConfig struct {
	Username string    `yaml:"username" validate:"required"`
	Password SecretRef `yaml:"password"`
}

// WebhookConfig configures the authenticated deploy webhook
type WebhookConfig struct {
	Secret SecretRef `yaml:"secret"`
}

// HostConfig configures the host whose configuration is validated and reloaded
type HostConfig struct {
	// URL is the base URL of the host API
	URL string `yaml:"url" validate:"required,url"`

	// Token is the bearer token used against the host API
	Token SecretRef `yaml:"token"`

	// ValidateTimeout bounds the configuration check (e.g. "2m")
	ValidateTimeout string `yaml:"validateTimeout,omitempty"`

	// ReloadTimeout bounds each subsystem reload (e.g. "30s")
	ReloadTimeout string `yaml:"reloadTimeout,omitempty"`
}

// SecretsConfig selects and configures the secret provider
type SecretsConfig struct {
	Provider    string             `yaml:"provider" validate:"omitempty,oneof=infisical doppler onepassword none"`
	PrimaryFile string             `yaml:"primaryFile,omitempty"`
	Infisical   *InfisicalConfig   `yaml:"infisical,omitempty"`
	Doppler     *DopplerConfig     `yaml:"doppler,omitempty"`
	OnePassword *OnePasswordConfig `yaml:"onepassword,omitempty"`
}

// InfisicalConfig holds universal-auth credentials and the secret scope
type InfisicalConfig struct {
	URL          string    `yaml:"url,omitempty" validate:"omitempty,url"`
	ClientID     string    `yaml:"clientId" validate:"required"`
	ClientSecret SecretRef `yaml:"clientSecret"`
	ProjectID    string    `yaml:"projectId" validate:"required"`
	Environment  string    `yaml:"environment" validate:"required"`
	Path         string    `yaml:"path,omitempty"`
}

// DopplerConfig holds a Doppler service token
type DopplerConfig struct {
	APIURL string    `yaml:"apiUrl,omitempty" validate:"omitempty,url"`
	Token  SecretRef `yaml:"token"`
}

// OnePasswordConfig holds a service account token and the references to resolve
type OnePasswordConfig struct {
	Token SecretRef `yaml:"token"`

	// Items maps secret names to op:// references
	Items map[string]string `yaml:"items" validate:"required,min=1"`
}

// ScheduleConfig configures the background loops
type ScheduleConfig struct {
	UpdateCheckInterval string `yaml:"updateCheckInterval,omitempty"`
	DriftCheckInterval  string `yaml:"driftCheckInterval,omitempty"`

	// WatchFilesystem triggers drift checks on file changes in addition to the interval
	WatchFilesystem bool `yaml:"watchFilesystem,omitempty"`
}

// JournalConfig configures the crash-recovery journal
type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

// HistoryConfig configures the deployment history store
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// EventsConfig configures progress event fan-out
type EventsConfig struct {
	// BufferSize is the per-subscriber and per-stream channel size
	BufferSize int          `yaml:"bufferSize,omitempty" validate:"omitempty,min=1,max=4096"`
	Redis      *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig enables publishing events to a Redis channel
type RedisConfig struct {
	Addr     string    `yaml:"addr" validate:"required,hostname_port"`
	Channel  string    `yaml:"channel,omitempty"`
	Password SecretRef `yaml:"password,omitempty"`
	DB       int       `yaml:"db,omitempty" validate:"min=0"`
}

// PatternsConfig optionally points at a reload pattern override file
type PatternsConfig struct {
	File string `yaml:"file,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration document
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Repository.Remote == "" {
		c.Repository.Remote = defaultRemote
	}
	if c.Repository.Branch == "" {
		c.Repository.Branch = defaultBranch
	}
	if c.Repository.IntegrationPath == "" {
		c.Repository.IntegrationPath = defaultIntegrationPath
	}
	if c.Secrets.Provider == "" {
		c.Secrets.Provider = ProviderNone
	}
	if c.Secrets.PrimaryFile == "" {
		c.Secrets.PrimaryFile = defaultPrimarySecretsFile
	}
	if c.Secrets.Infisical != nil {
		if c.Secrets.Infisical.URL == "" {
			c.Secrets.Infisical.URL = defaultInfisicalURL
		}
		if c.Secrets.Infisical.Path == "" {
			c.Secrets.Infisical.Path = defaultInfisicalPath
		}
	}
	if c.Secrets.Doppler != nil && c.Secrets.Doppler.APIURL == "" {
		c.Secrets.Doppler.APIURL = defaultDopplerAPIURL
	}
	if c.Journal.Path == "" {
		c.Journal.Path = defaultJournalPath
	}
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = defaultEventBufferSize
	}
	if c.Events.Redis != nil && c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = defaultRedisChannel
	}
}

// validate runs struct tag validation and then the cross-field checks
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := newValidator().Struct(c); err != nil {
		return formatValidationError(err)
	}

	if !c.Webhook.Secret.IsSet() {
		return fmt.Errorf("webhook: secret is required")
	}

	if c.Repository.Auth != nil && !c.Repository.Auth.Password.IsSet() {
		return fmt.Errorf("repository.auth: password is required")
	}

	durations := []struct {
		prefix string
		value  string
	}{
		{"host.validateTimeout", c.Host.ValidateTimeout},
		{"host.reloadTimeout", c.Host.ReloadTimeout},
		{"schedule.updateCheckInterval", c.Schedule.UpdateCheckInterval},
		{"schedule.driftCheckInterval", c.Schedule.DriftCheckInterval},
	}
	for _, d := range durations {
		if err := validateDuration(d.value, d.prefix); err != nil {
			return err
		}
	}

	if err := c.Secrets.validate(); err != nil {
		return err
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func (s *SecretsConfig) validate() error {
	switch s.Provider {
	case ProviderInfisical:
		if s.Infisical == nil {
			return fmt.Errorf("secrets: infisical configuration is required for provider %q", s.Provider)
		}
		if !s.Infisical.ClientSecret.IsSet() {
			return fmt.Errorf("secrets.infisical: clientSecret is required")
		}
	case ProviderDoppler:
		if s.Doppler == nil || !s.Doppler.Token.IsSet() {
			return fmt.Errorf("secrets.doppler: token is required")
		}
	case ProviderOnePassword:
		if s.OnePassword == nil || !s.OnePassword.Token.IsSet() {
			return fmt.Errorf("secrets.onepassword: token is required")
		}
		for name, ref := range s.OnePassword.Items {
			if !strings.HasPrefix(ref, "op://") {
				return fmt.Errorf("secrets.onepassword.items[%s]: reference must start with op://", name)
			}
		}
	}

	if filepath.IsAbs(s.PrimaryFile) || !filepath.IsLocal(s.PrimaryFile) {
		return fmt.Errorf("secrets: primaryFile must be relative to the repository: %s", s.PrimaryFile)
	}
	return nil
}

func validateDuration(value, prefix string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", prefix, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: duration must be positive, got %s", prefix, value)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	// report yaml field names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Errorf("%s: failed %q validation (%s)", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Errorf("%s: failed %q validation", field, fe.Tag()))
		}
	}
	return errors.Join(msgs...)
}

// GetValidateTimeout returns the configuration check timeout
func (h *HostConfig) GetValidateTimeout() time.Duration {
	return parseDurationOr(h.ValidateTimeout, defaultValidateTimeout)
}

// GetReloadTimeout returns the per-subsystem reload timeout
func (h *HostConfig) GetReloadTimeout() time.Duration {
	return parseDurationOr(h.ReloadTimeout, defaultReloadTimeout)
}

// GetUpdateCheckInterval returns the periodic update check interval
func (s *ScheduleConfig) GetUpdateCheckInterval() time.Duration {
	return parseDurationOr(s.UpdateCheckInterval, defaultUpdateCheckInterval)
}

// GetDriftCheckInterval returns the periodic drift check interval
func (s *ScheduleConfig) GetDriftCheckInterval() time.Duration {
	return parseDurationOr(s.DriftCheckInterval, defaultDriftCheckInterval)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// CompareURL builds a link comparing two commits, or "" when no web URL is configured
func (r *RepositoryConfig) CompareURL(from, to string) string {
	if r.WebURL == "" || from == "" || to == "" {
		return ""
	}
	base, err := url.Parse(strings.TrimSuffix(r.WebURL, "/"))
	if err != nil {
		return ""
	}
	return base.JoinPath("compare", from+"..."+to).String()
}
