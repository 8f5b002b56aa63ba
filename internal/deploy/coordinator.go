package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/gitops-agent/internal/conditions"
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
	// DefaultUpdateCheckInterval is used when no interval is configured
	DefaultUpdateCheckInterval = 5 * time.Minute

	// DefaultDriftCheckInterval is used when no interval is configured
	DefaultDriftCheckInterval = 5 * time.Minute

	// TracerName is the instrumentation scope of deployment spans
	TracerName = "github.com/stacklok/gitops-agent/deploy"
)

// Dependencies are the collaborators a Coordinator drives.
// Git, Host, Journal and Conditions are required.
type Dependencies struct {
	Git        git.Engine
	Host       host.Host
	Journal    journal.Journal
	Conditions *conditions.Registry
	Patterns   *patterns.Table

	// Secrets is nil when no secret provider is configured
	Secrets *secrets.Engine

	// Events receives state_changed notifications; may be nil
	Events events.Publisher

	// History records finished attempts; may be nil
	History history.Store

	// Drift runs periodic working copy checks; may be nil
	Drift *drift.Detector
}

// Coordinator owns DeploymentState and GitState and serializes deployments
type Coordinator struct {
	deps Dependencies

	updateInterval  time.Duration
	driftInterval   time.Duration
	watchRoot       string
	integrationPath string
	manifestPath    string
	compareURL      func(from, to string) string

	metrics *telemetry.DeployMetrics
	tracer  trace.Tracer

	// guard admits one deployment at a time; a channel so waiting can be abandoned
	guard chan struct{}

	mu          sync.RWMutex
	deployment  DeploymentState
	gitState    GitState
	gitStateGen uint64
	integration integrationVersion

	checks singleflight.Group
	ready  atomic.Bool

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithUpdateCheckInterval sets how often the upstream is fetched
func WithUpdateCheckInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.updateInterval = d
		}
	}
}

// WithDriftCheckInterval sets how often the working copy is checked for drift
func WithDriftCheckInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.driftInterval = d
		}
	}
}

// WithFilesystemWatch triggers extra drift checks on changes below root
func WithFilesystemWatch(root string) Option {
	return func(c *Coordinator) {
		c.watchRoot = root
	}
}

// WithIntegration tracks the subtree at prefix and the version in manifestPath
func WithIntegration(prefix, manifestPath string) Option {
	return func(c *Coordinator) {
		c.integrationPath = prefix
		c.manifestPath = manifestPath
	}
}

// WithCompareURL sets the function building links between two commits
func WithCompareURL(fn func(from, to string) string) Option {
	return func(c *Coordinator) {
		c.compareURL = fn
	}
}

// WithMetrics sets the deployment metrics
func WithMetrics(m *telemetry.DeployMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracerProvider enables deployment spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(TracerName)
		}
	}
}

// New creates a coordinator. Call Start to run the background loops.
func New(deps Dependencies, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Git == nil:
		return nil, errors.New("deploy: git engine is required")
	case deps.Host == nil:
		return nil, errors.New("deploy: host is required")
	case deps.Journal == nil:
		return nil, errors.New("deploy: journal is required")
	case deps.Conditions == nil:
		return nil, errors.New("deploy: condition registry is required")
	}
	if deps.Patterns == nil {
		deps.Patterns = patterns.Default()
	}

	c := &Coordinator{
		deps:           deps,
		updateInterval: DefaultUpdateCheckInterval,
		driftInterval:  DefaultDriftCheckInterval,
		compareURL:     func(string, string) string { return "" },
		guard:          make(chan struct{}, 1),
		deployment:     DeploymentState{Status: StatusIdle},
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// the commit fields are known before Start so an early webhook journals them
	if err := c.initGitState(); err != nil {
		slog.Debug("HEAD not readable yet, deferring to Start", "error", err)
	}
	return c, nil
}

// Start opens the repository, reports an interrupted deployment, performs the
// initial secret sync and runs the update and drift loops. It blocks until
// ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	slog.Info("Starting deployment coordinator",
		"update_check_interval", c.updateInterval,
		"drift_check_interval", c.driftInterval,
	)

	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		close(c.done)
		slog.Info("Deployment coordinator stopped")
	}()

	if err := c.deps.Git.Open(); err != nil {
		c.deps.Conditions.Raise(ctx, conditions.GitConnectionFailed, conditions.SeverityError,
			map[string]string{"error": err.Error()})
		return fmt.Errorf("failed to open repository: %w", err)
	}

	c.recoverJournal(coordCtx)
	if err := c.initGitState(); err != nil {
		slog.Warn("Failed to read HEAD", "error", err)
	}
	c.trackIntegration()
	c.ready.Store(true)

	if c.deps.Secrets != nil {
		// failures raise a condition and must not stop the agent
		_, _ = c.SyncSecrets(coordCtx)
	}

	g, gctx := errgroup.WithContext(coordCtx)
	g.Go(func() error {
		c.runEvery(gctx, c.updateInterval, func(ctx context.Context) {
			_, _ = c.CheckForUpdates(ctx)
		})
		return nil
	})
	if c.deps.Drift != nil {
		g.Go(func() error {
			c.runEvery(gctx, c.driftInterval, c.checkDrift)
			return nil
		})
		if c.watchRoot != "" {
			watcher := drift.NewWatcher(c.watchRoot, drift.DefaultDebounce, c.checkDrift)
			g.Go(func() error {
				if err := watcher.Run(gctx); err != nil {
					// periodic checks still cover drift
					slog.Warn("Filesystem watch disabled", "error", err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// Stop cancels the background loops and waits for Start to return
func (c *Coordinator) Stop() error {
	c.mu.RLock()
	cancel := c.cancelFunc
	c.mu.RUnlock()

	if cancel != nil {
		slog.Info("Stopping deployment coordinator")
		cancel()
		<-c.done
	}
	return nil
}

// Ready reports whether Start has opened the repository
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// DeploymentState returns a copy of the current deployment state
func (c *Coordinator) DeploymentState() DeploymentState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deployment.clone()
}

// GitState returns a copy of the current git state
func (c *Coordinator) GitState() GitState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gitState.clone()
}

// Conditions returns the condition registry
func (c *Coordinator) Conditions() *conditions.Registry {
	return c.deps.Conditions
}

func (c *Coordinator) runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) checkDrift(ctx context.Context) {
	if _, err := c.deps.Drift.Check(ctx); err != nil {
		slog.Error("Drift check failed", "error", err)
	}
}

func (c *Coordinator) recoverJournal(ctx context.Context) {
	interrupted, err := c.deps.Journal.CheckOnStartup(ctx)
	if err != nil {
		slog.Error("Failed to read deployment journal", "error", err, "kind", KindJournalIOFailed)
		return
	}
	if interrupted == nil {
		return
	}
	c.deps.Conditions.Raise(ctx, conditions.DeploymentInterrupted, conditions.SeverityWarning, map[string]string{
		"timestamp":  interrupted.Timestamp.Format(time.RFC3339),
		"commit_sha": valueOr(interrupted.CommitSHA, "unknown"),
		"attempt_id": interrupted.AttemptID,
	})
}

// initGitState records HEAD as the deployed commit
func (c *Coordinator) initGitState() error {
	head, err := c.deps.Git.Head()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gitState.LocalSHA = head.SHA
	c.gitState.LocalMessage = head.Message
	c.deployment.CommitSHA = head.SHA
	c.deployment.CommitMessage = head.Message
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
