package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/gitops-agent/internal/api"
	v1 "github.com/stacklok/gitops-agent/internal/api/v1"
	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/config"
	"github.com/stacklok/gitops-agent/internal/deploy"
	"github.com/stacklok/gitops-agent/internal/drift"
	"github.com/stacklok/gitops-agent/internal/events"
	"github.com/stacklok/gitops-agent/internal/git"
	"github.com/stacklok/gitops-agent/internal/history"
	"github.com/stacklok/gitops-agent/internal/host"
	"github.com/stacklok/gitops-agent/internal/journal"
	"github.com/stacklok/gitops-agent/internal/patterns"
	"github.com/stacklok/gitops-agent/internal/secrets"
	"github.com/stacklok/gitops-agent/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 30 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// manifestFile is the integration manifest below repository.integrationPath
	manifestFile = "manifest.json"
)

// GitOpsAppOptions is a function that configures the app builder
type GitOpsAppOptions func(*gitOpsAppConfig) error

// gitOpsAppConfig collects the builder inputs. Component overrides exist
// for tests.
type gitOpsAppConfig struct {
	config *config.Config

	gitEngine git.Engine
	host      host.Host

	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...GitOpsAppOptions) (*gitOpsAppConfig, error) {
	cfg := &gitOpsAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewGitOpsApp wires the agent from configuration. The returned app holds the
// journal lock until Stop.
func NewGitOpsApp(ctx context.Context, opts ...GitOpsAppOptions) (*GitOpsApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var cleanups []func()
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			runCleanups(cleanups)
		}
	}()

	jrnl := journal.NewFileJournal(cfg.config.Journal.Path)
	if err := jrnl.Acquire(); err != nil {
		if errors.Is(err, journal.ErrLocked) {
			return nil, fmt.Errorf("another agent instance is using %s: %w", jrnl.Path(), err)
		}
		return nil, fmt.Errorf("failed to lock journal: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := jrnl.Release(); err != nil {
			slog.Warn("Failed to release journal lock", "error", err)
		}
	})

	hub, err := buildEventHub(ctx, cfg.config)
	if err != nil {
		return nil, fmt.Errorf("failed to build event hub: %w", err)
	}
	cleanups = append(cleanups, func() { _ = hub.Close() })

	var store history.Store
	if cfg.config.History.Enabled {
		sqliteStore, err := history.NewSQLiteStore(cfg.config.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open deployment history: %w", err)
		}
		store = sqliteStore
		cleanups = append(cleanups, func() { _ = sqliteStore.Close() })
		slog.Info("Deployment history enabled", "path", cfg.config.History.Path)
	}

	coord, err := buildCoordinator(cfg, jrnl, hub, store)
	if err != nil {
		return nil, fmt.Errorf("failed to build deployment coordinator: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, coord, hub)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &GitOpsApp{
		config: cfg.config,
		components: &AppComponents{
			Coordinator: coord,
			Hub:         hub,
			Journal:     jrnl,
			History:     store,
		},
		httpServer:      httpServer,
		ctx:             appCtx,
		cancelFunc:      cancel,
		cleanups:        cleanups,
		coordinatorDone: make(chan struct{}),
	}, nil
}

// runCleanups runs cleanups in reverse order of registration
func runCleanups(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not valid: %w", err)
		}
		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}
		if _, err := netip.ParseAddrPort(net.JoinHostPort(host, port)); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithMeterProvider enables deployment and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider enables deployment and HTTP spans
func WithTracerProvider(tp trace.TracerProvider) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves the Prometheus scrape handler at /metrics
func WithMetricsHandler(h http.Handler) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// WithGitEngine overrides the git engine built from configuration
func WithGitEngine(e git.Engine) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		cfg.gitEngine = e
		return nil
	}
}

// WithHost overrides the host client built from configuration
func WithHost(h host.Host) GitOpsAppOptions {
	return func(cfg *gitOpsAppConfig) error {
		cfg.host = h
		return nil
	}
}

func buildEventHub(ctx context.Context, cfg *config.Config) (*events.Hub, error) {
	var sinks []events.Sink
	if rc := cfg.Events.Redis; rc != nil {
		password, err := resolveOptional(rc.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve redis password: %w", err)
		}
		sink, err := events.NewRedisSink(ctx, rc.Addr, password, rc.DB, rc.Channel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
		slog.Info("Publishing events to Redis", "addr", rc.Addr, "channel", rc.Channel)
	}
	return events.NewHub(cfg.Events.BufferSize, sinks...), nil
}

// resolveOptional resolves ref, treating an unset reference as empty
func resolveOptional(ref config.SecretRef) (string, error) {
	if !ref.IsSet() {
		return "", nil
	}
	return ref.Resolve()
}

func buildGitEngine(cfg *config.RepositoryConfig) (git.Engine, error) {
	opts := []git.Option{
		git.WithRemote(cfg.Remote),
		git.WithBranch(cfg.Branch),
	}
	if cfg.Auth != nil {
		password, err := resolveOptional(cfg.Auth.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve git password: %w", err)
		}
		opts = append(opts, git.WithBasicAuth(cfg.Auth.Username, password))
	}
	return git.NewEngine(cfg.Path, opts...), nil
}

func buildSecretsEngine(cfg *config.Config) (*secrets.Engine, error) {
	provider, err := secrets.NewProvider(&cfg.Secrets)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		slog.Info("Secret provisioning disabled")
		return nil, nil
	}
	slog.Info("Secret provisioning enabled", "provider", provider.DisplayName())
	return secrets.NewEngine(provider, cfg.Repository.Path,
		secrets.WithScope(secrets.ScopeFromConfig(&cfg.Secrets)),
		secrets.WithPrimaryFile(cfg.Secrets.PrimaryFile),
	), nil
}

func buildCoordinator(
	b *gitOpsAppConfig,
	jrnl journal.Journal,
	hub *events.Hub,
	store history.Store,
) (*deploy.Coordinator, error) {
	slog.Info("Initializing deployment coordinator")
	cfg := b.config

	engine := b.gitEngine
	if engine == nil {
		var err error
		if engine, err = buildGitEngine(&cfg.Repository); err != nil {
			return nil, err
		}
	}

	hostClient := b.host
	if hostClient == nil {
		client, err := host.NewFromConfig(&cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to create host client: %w", err)
		}
		hostClient = client
	}

	table := patterns.Default()
	if cfg.Patterns.File != "" {
		loaded, err := patterns.LoadFile(cfg.Patterns.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load reload patterns: %w", err)
		}
		table = loaded
		slog.Info("Loaded reload patterns", "file", cfg.Patterns.File)
	}

	secretsEngine, err := buildSecretsEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret provider: %w", err)
	}

	var metrics *telemetry.DeployMetrics
	if b.meterProvider != nil {
		if metrics, err = telemetry.NewDeployMetrics(b.meterProvider); err != nil {
			return nil, fmt.Errorf("failed to create deployment metrics: %w", err)
		}
	}

	registry := conditions.NewRegistry(hub)

	driftOpts := []drift.Option{
		// generated files are rewritten on every sync; the primary file is user content
		drift.WithIgnore(secrets.GeneratedPattern),
		drift.WithMetrics(metrics),
	}
	if b.tracerProvider != nil {
		driftOpts = append(driftOpts, drift.WithTracer(b.tracerProvider.Tracer(deploy.TracerName)))
	}
	detector := drift.NewDetector(engine, registry, driftOpts...)

	coordOpts := []deploy.Option{
		deploy.WithUpdateCheckInterval(cfg.Schedule.GetUpdateCheckInterval()),
		deploy.WithDriftCheckInterval(cfg.Schedule.GetDriftCheckInterval()),
		deploy.WithCompareURL(cfg.Repository.CompareURL),
		deploy.WithMetrics(metrics),
		deploy.WithTracerProvider(b.tracerProvider),
	}
	if cfg.Schedule.WatchFilesystem {
		coordOpts = append(coordOpts, deploy.WithFilesystemWatch(cfg.Repository.Path))
	}
	if cfg.Repository.IntegrationPath != "" {
		coordOpts = append(coordOpts, deploy.WithIntegration(
			cfg.Repository.IntegrationPath,
			filepath.Join(cfg.Repository.Path, cfg.Repository.IntegrationPath, manifestFile),
		))
	}

	return deploy.New(deploy.Dependencies{
		Git:        engine,
		Host:       hostClient,
		Journal:    jrnl,
		Conditions: registry,
		Patterns:   table,
		Secrets:    secretsEngine,
		Events:     hub,
		History:    store,
		Drift:      detector,
	}, coordOpts...)
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	b *gitOpsAppConfig,
	coord *deploy.Coordinator,
	hub *events.Hub,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// no global timeout: deploy streams last as long as the deployment
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, b.middlewares...)
		slog.Info("HTTP metrics middleware enabled")
	}
	if b.tracerProvider != nil {
		b.middlewares = append([]func(http.Handler) http.Handler{
			telemetry.TracingMiddleware(b.tracerProvider),
		}, b.middlewares...)
	}

	secret, err := resolveOptional(b.config.Webhook.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webhook secret: %w", err)
	}
	if secret == "" {
		slog.Warn("No webhook secret configured, deploy webhooks will be rejected")
	}

	router := api.NewServer(coord,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
		api.WithRouteOptions(
			v1.WithWebhookSecret([]byte(secret)),
			v1.WithEventsHandler(events.NewWebsocketHandler(hub)),
			v1.WithRequestTimeout(b.requestTimeout),
			v1.WithStreamBuffer(b.config.Events.BufferSize),
		),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
