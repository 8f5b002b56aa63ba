package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/events"
	"github.com/stacklok/gitops-agent/internal/git"
	"github.com/stacklok/gitops-agent/internal/history"
	"github.com/stacklok/gitops-agent/internal/journal"
	"github.com/stacklok/gitops-agent/internal/otel"
	"github.com/stacklok/gitops-agent/internal/reload"
)

// journal error marker for a lock file, kept short for tooling that greps journals
const journalErrGitLock = "git_lock"

// restartAcknowledgeHint tells the operator how to clear the restart condition
const restartAcknowledgeHint = "restart the host, then DELETE /api/v1/conditions/" + string(conditions.RestartRequired)

// attempt carries the per-deployment context through the pipeline
type attempt struct {
	record  journal.Attempt
	trigger Trigger
	sink    Sink
	span    trace.Span
	changed []string
}

// Deploy runs one deployment attempt. A concurrent call waits until the
// running attempt finishes; waiting is abandoned when ctx is cancelled.
// Once admitted the attempt runs to a terminal state regardless of ctx.
//
// The returned state is the terminal DeploymentState. A failed attempt also
// returns an *Error.
func (c *Coordinator) Deploy(ctx context.Context, trigger Trigger, sink Sink) (DeploymentState, error) {
	select {
	case c.guard <- struct{}{}:
	case <-ctx.Done():
		return c.DeploymentState(), fmt.Errorf("deployment not started: %w", ctx.Err())
	}
	defer func() { <-c.guard }()

	ctx = context.WithoutCancel(ctx)
	start := time.Now().UTC()

	a := &attempt{
		trigger: trigger,
		sink:    sink,
		record: journal.Attempt{
			ID:        uuid.NewString(),
			StartedAt: start,
			Payload:   trigger.Payload,
		},
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "deploy.Deploy", trace.WithAttributes(
		otel.AttrAttemptID.String(a.record.ID),
		otel.AttrTrigger.String(trigger.Source),
	))
	defer span.End()
	a.span = span

	slog.Info("Deployment started", append([]any{
		"attempt_id", a.record.ID,
		"trigger", trigger.Source,
	}, summarizePayload(trigger.Payload)...)...)

	err := c.run(ctx, a)

	state := c.DeploymentState()
	c.metrics.RecordDeployment(ctx, string(state.Status), time.Since(start))
	c.recordHistory(ctx, a, state)
	return state, err
}

func (c *Coordinator) run(ctx context.Context, a *attempt) error {
	if c.DeploymentState().CommitSHA == "" {
		if err := c.initGitState(); err != nil {
			slog.Debug("HEAD not readable before deployment", "error", err)
		}
	}

	c.update(func(s *DeploymentState) {
		s.Status = StatusDeploying
		s.AttemptID = a.record.ID
		s.Trigger = a.trigger.Source
		s.Timestamp = a.record.StartedAt
		s.Error = ""
		s.ChangedFiles = []string{}
		s.ReloadDomains = []string{}
		s.RestartRequired = false
		a.record.CommitSHA = s.CommitSHA
		a.record.CommitMessage = s.CommitMessage
	})
	c.emit(ctx, a, Event{Status: EventStarted, Message: "Deployment started"})

	// the start entry precedes any repository access
	if err := c.deps.Journal.WriteStart(ctx, a.record); err != nil {
		slog.Error("Failed to write deployment journal", "error", err, "kind", KindJournalIOFailed)
	}

	if c.deps.Git.IndexLocked() {
		return c.lockDetected(ctx, a)
	}
	c.deps.Conditions.Clear(ctx, conditions.GitLockDetected)

	c.emit(ctx, a, Event{Status: EventPulling, Message: "Pulling latest changes from git"})
	if err := c.pull(ctx, a); err != nil {
		return err
	}

	if c.deps.Secrets != nil {
		count, err := c.SyncSecrets(ctx)
		if err != nil {
			c.emit(ctx, a, Event{Status: EventSecretsFailed, Error: err.Error()})
		} else {
			c.emit(ctx, a, Event{Status: EventSecretsSynced, SecretCount: &count,
				Message: fmt.Sprintf("Synced %d secrets from %s", count, c.deps.Secrets.Provider().DisplayName())})
		}
	}

	c.setStatus(StatusValidating)
	c.emit(ctx, a, Event{Status: EventValidating, Message: "Validating configuration"})
	if err := c.validate(ctx); err != nil {
		return c.fail(ctx, a, &Error{
			Kind:    KindValidationFailed,
			Message: fmt.Sprintf("Config validation failed: %v", err),
			Err:     err,
		}, "")
	}
	c.emit(ctx, a, Event{Status: EventValidated, Message: "Configuration is valid"})

	c.setStatus(StatusReloading)
	decision := reload.Classify(a.changed, c.deps.Patterns)
	domains := decision.Domains
	if domains == nil {
		domains = []string{}
	}
	c.update(func(s *DeploymentState) {
		s.ReloadDomains = domains
		s.RestartRequired = decision.RestartRequired
	})

	if decision.RestartRequired {
		return c.restartRequired(ctx, a, decision)
	}

	c.emit(ctx, a, Event{Status: EventReloading, Message: reloadingMessage(domains)})
	for _, domain := range domains {
		if err := c.reloadDomain(ctx, domain); err != nil {
			return c.fail(ctx, a, &Error{
				Kind:    KindReloadFailed,
				Message: fmt.Sprintf("Failed to reload %s: %v", domain, err),
				Err:     err,
			}, "")
		}
	}

	c.setStatus(StatusSuccess)
	c.emit(ctx, a, Event{
		Status:          EventSuccess,
		Message:         "Deployment completed successfully",
		ReloadedDomains: domains,
	})
	c.complete(ctx, a)
	slog.Info("Deployment completed successfully", "attempt_id", a.record.ID, "reloaded_domains", domains)
	return nil
}

func (c *Coordinator) lockDetected(ctx context.Context, a *attempt) error {
	c.deps.Conditions.Raise(ctx, conditions.GitLockDetected, conditions.SeverityError, map[string]string{
		"path": ".git/index.lock",
	})
	return c.fail(ctx, a, &Error{
		Kind:    KindGitLocked,
		Message: "Git lock file detected",
		Err:     git.ErrGitLocked,
	}, journalErrGitLock)
}

func (c *Coordinator) pull(ctx context.Context, a *attempt) error {
	ctx, span := otel.StartSpan(ctx, c.tracer, "deploy.pull")
	defer span.End()

	changed, err := c.deps.Git.Pull(ctx)
	if err != nil {
		otel.RecordError(span, err)
		switch {
		case errors.Is(err, git.ErrGitLocked):
			return c.lockDetected(ctx, a)
		case errors.Is(err, git.ErrRepositoryUnavailable):
			return c.fail(ctx, a, &Error{Kind: KindRepositoryUnavailable, Message: err.Error(), Err: err}, "")
		default:
			c.deps.Conditions.Raise(ctx, conditions.GitConnectionFailed, conditions.SeverityError,
				map[string]string{"error": err.Error()})
			return c.fail(ctx, a, &Error{Kind: KindPullFailed, Message: err.Error(), Err: err}, "")
		}
	}
	c.deps.Conditions.Clear(ctx, conditions.GitConnectionFailed)
	span.SetAttributes(otel.AttrChangedFiles.Int(len(changed)))

	head, err := c.deps.Git.Head()
	if err != nil {
		otel.RecordError(span, err)
		return c.fail(ctx, a, &Error{Kind: KindRepositoryUnavailable, Message: err.Error(), Err: err}, "")
	}

	a.changed = changed
	c.update(func(s *DeploymentState) {
		s.ChangedFiles = changed
		s.CommitSHA = head.SHA
		s.CommitMessage = head.Message
	})
	a.record.CommitSHA = head.SHA
	a.record.CommitMessage = head.Message
	a.span.SetAttributes(otel.AttrCommitSHA.String(head.SHA))

	slog.Info("Pulled latest changes", "commit", head.SHA, "changed_files", len(changed))
	c.emit(ctx, a, Event{
		Status:        EventPulled,
		CommitSHA:     head.SHA,
		CommitMessage: head.Message,
		ChangedFiles:  changed,
	})
	return nil
}

func (c *Coordinator) validate(ctx context.Context) error {
	ctx, span := otel.StartSpan(ctx, c.tracer, "deploy.validate")
	defer span.End()

	err := c.deps.Host.ValidateConfiguration(ctx)
	otel.RecordError(span, err)
	return err
}

func (c *Coordinator) reloadDomain(ctx context.Context, domain string) error {
	ctx, span := otel.StartSpan(ctx, c.tracer, "deploy.reload",
		trace.WithAttributes(otel.AttrSubsystem.String(domain)))
	defer span.End()

	err := c.deps.Host.ReloadSubsystem(ctx, domain)
	otel.RecordError(span, err)
	c.metrics.RecordReload(ctx, domain, err == nil)
	return err
}

func (c *Coordinator) restartRequired(ctx context.Context, a *attempt, decision reload.Decision) error {
	state := c.DeploymentState()
	slog.Warn("Restart required for changes to take effect", "files", decision.RestartMatches)

	c.deps.Conditions.Raise(ctx, conditions.RestartRequired, conditions.SeverityWarning, map[string]string{
		"commit":  state.CommitSHA,
		"message": state.CommitMessage,
		"files":   strings.Join(decision.RestartMatches, ", "),
		"clear":   restartAcknowledgeHint,
	})
	c.setStatus(StatusRestartRequired)
	c.emit(ctx, a, Event{
		Status:        EventRestartRequired,
		Message:       "Restart required for changes to take effect",
		CommitSHA:     state.CommitSHA,
		CommitMessage: state.CommitMessage,
	})
	c.complete(ctx, a)
	return nil
}

// complete finishes a successful or restart-required attempt
func (c *Coordinator) complete(ctx context.Context, a *attempt) {
	if err := c.deps.Journal.WriteOutcome(ctx, a.record, journal.StatusSuccess, ""); err != nil {
		slog.Error("Failed to write deployment journal", "error", err, "kind", KindJournalIOFailed)
	}
	c.reconcileGitState()
	c.checkIntegrationUpdate(ctx, a.changed)
}

func (c *Coordinator) fail(ctx context.Context, a *attempt, deployErr *Error, journalErr string) error {
	if journalErr == "" {
		journalErr = deployErr.Message
	}
	slog.Error("Deployment failed", "attempt_id", a.record.ID, "kind", deployErr.Kind, "error", deployErr.Message)
	otel.RecordError(a.span, deployErr)

	c.update(func(s *DeploymentState) {
		s.Status = StatusFailed
		s.Error = deployErr.Message
	})
	if err := c.deps.Journal.WriteOutcome(ctx, a.record, journal.StatusFailed, journalErr); err != nil {
		slog.Error("Failed to write deployment journal", "error", err, "kind", KindJournalIOFailed)
	}
	c.emit(ctx, a, Event{Status: EventFailed, Error: deployErr.Message})
	return deployErr
}

// reconcileGitState marks the upstream as deployed
func (c *Coordinator) reconcileGitState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gitState.LocalSHA = c.deployment.CommitSHA
	c.gitState.LocalMessage = c.deployment.CommitMessage
	c.gitState.RemoteSHA = c.deployment.CommitSHA
	c.gitState.RemoteMessage = c.deployment.CommitMessage
	c.gitState.CommitsBehind = 0
	c.gitState.CommitLog = []git.Commit{}
	c.gitStateGen++
}

func (c *Coordinator) update(fn func(*DeploymentState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.deployment)
}

func (c *Coordinator) setStatus(status Status) {
	c.update(func(s *DeploymentState) { s.Status = status })
}

// emit sends a progress event to the attempt's sink and publishes it as a
// state change
func (c *Coordinator) emit(ctx context.Context, a *attempt, ev Event) {
	ev.AttemptID = a.record.ID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if a.sink != nil {
		a.sink(ev)
	}
	if c.deps.Events != nil {
		c.deps.Events.Publish(ctx, events.Event{Type: events.TypeStateChanged, Timestamp: ev.Timestamp, Data: ev})
	}
}

func (c *Coordinator) recordHistory(ctx context.Context, a *attempt, state DeploymentState) {
	if c.deps.History == nil || !state.Status.Terminal() {
		return
	}
	rec := &history.Record{
		AttemptID:       a.record.ID,
		Trigger:         a.trigger.Source,
		Status:          string(state.Status),
		CommitSHA:       state.CommitSHA,
		CommitMessage:   state.CommitMessage,
		ChangedFiles:    state.ChangedFiles,
		ReloadedDomains: state.ReloadDomains,
		Error:           state.Error,
		StartedAt:       a.record.StartedAt,
		FinishedAt:      time.Now().UTC(),
	}
	if err := c.deps.History.Record(ctx, rec); err != nil {
		slog.Warn("Failed to record deployment history", "error", err)
	}
}

func reloadingMessage(domains []string) string {
	if len(domains) == 0 {
		return "No domains to reload"
	}
	return "Reloading domains: " + strings.Join(domains, ", ")
}

// summarizePayload picks a few well-known push webhook fields for logging
func summarizePayload(payload []byte) []any {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return nil
	}
	var attrs []any
	for key, path := range map[string]string{
		"ref":    "ref",
		"after":  "after",
		"pusher": "pusher.name",
	} {
		if v := gjson.GetBytes(payload, path); v.Exists() {
			attrs = append(attrs, key, v.String())
		}
	}
	return attrs
}
