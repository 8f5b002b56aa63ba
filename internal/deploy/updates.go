package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/events"
	"github.com/stacklok/gitops-agent/internal/git"
	"github.com/stacklok/gitops-agent/internal/otel"
)

// UpdateInfo presents GitState as an installable update
type UpdateInfo struct {
	UpdateAvailable bool     `json:"update_available"`
	State           GitState `json:"state"`
	ReleaseNotes    string   `json:"release_notes,omitempty"`
	CompareURL      string   `json:"compare_url,omitempty"`
}

// CheckForUpdates fetches the upstream and refreshes GitState. Concurrent
// callers share one fetch. A missing upstream leaves GitState unchanged and
// raises upstream_not_configured.
func (c *Coordinator) CheckForUpdates(ctx context.Context) (GitState, error) {
	v, err, _ := c.checks.Do("check", func() (any, error) {
		return c.checkForUpdates(ctx)
	})
	if err != nil {
		return c.GitState(), err
	}
	return v.(GitState), nil
}

func (c *Coordinator) checkForUpdates(ctx context.Context) (GitState, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "deploy.CheckForUpdates")
	defer span.End()

	c.mu.RLock()
	gen := c.gitStateGen
	c.mu.RUnlock()

	status, err := c.deps.Git.CheckForUpdates(ctx)
	if err != nil {
		otel.RecordError(span, err)
		if errors.Is(err, git.ErrNoUpstream) {
			slog.Warn("Upstream branch not configured, skipping update check", "error", err)
			c.deps.Conditions.Raise(ctx, conditions.UpstreamNotConfigured, conditions.SeverityWarning,
				map[string]string{"error": err.Error()})
			return c.GitState(), nil
		}
		slog.Error("Update check failed", "error", err)
		c.deps.Conditions.Raise(ctx, conditions.GitConnectionFailed, conditions.SeverityError,
			map[string]string{"error": err.Error()})
		return GitState{}, fmt.Errorf("update check failed: %w", err)
	}
	c.deps.Conditions.Clear(ctx, conditions.UpstreamNotConfigured)
	c.deps.Conditions.Clear(ctx, conditions.GitConnectionFailed)

	span.SetAttributes(otel.AttrCommitsBehind.Int(status.CommitsBehind))
	c.metrics.RecordCommitsBehind(ctx, status.CommitsBehind)

	c.mu.Lock()
	if c.gitStateGen != gen {
		// a deployment reconciled the state while we were fetching
		state := c.gitState.clone()
		c.mu.Unlock()
		return state, nil
	}
	c.gitState = GitState{
		LocalSHA:      status.Local.SHA,
		LocalMessage:  status.Local.Message,
		RemoteSHA:     status.Remote.SHA,
		RemoteMessage: status.Remote.Message,
		CommitsBehind: status.CommitsBehind,
		CommitLog:     status.Log,
		LastCheck:     status.CheckedAt,
	}
	if c.gitState.CommitLog == nil {
		c.gitState.CommitLog = []git.Commit{}
	}
	state := c.gitState.clone()
	c.mu.Unlock()

	if state.UpdateAvailable() {
		slog.Info("Update available", "local", state.LocalSHA, "remote", state.RemoteSHA, "commits_behind", state.CommitsBehind)
	} else {
		slog.Debug("Working copy is up to date", "commit", state.LocalSHA)
	}
	if c.deps.Events != nil {
		c.deps.Events.Publish(ctx, events.Event{Type: events.TypeUpdateChecked, Data: state})
	}
	return state, nil
}

// UpdateInfo returns GitState with release notes and a compare link
func (c *Coordinator) UpdateInfo() UpdateInfo {
	state := c.GitState()
	info := UpdateInfo{
		UpdateAvailable: state.UpdateAvailable(),
		State:           state,
		ReleaseNotes:    ReleaseNotes(state, c.DeploymentState()),
	}
	if info.UpdateAvailable {
		info.CompareURL = c.compareURL(state.LocalSHA, state.RemoteSHA)
	}
	return info
}

// InstallUpdate deploys the upstream tip
func (c *Coordinator) InstallUpdate(ctx context.Context, sink Sink) (DeploymentState, error) {
	return c.Deploy(ctx, Trigger{
		Source:  "update_install",
		Payload: []byte(`{"source":"update_install"}`),
	}, sink)
}

// ReleaseNotes renders the pending commits as markdown. It returns "" when
// there is no commit log.
func ReleaseNotes(state GitState, deployment DeploymentState) string {
	if len(state.CommitLog) == 0 {
		return ""
	}

	var b strings.Builder
	suffix := "s"
	if state.CommitsBehind == 1 {
		suffix = ""
	}
	fmt.Fprintf(&b, "### %d new commit%s\n", state.CommitsBehind, suffix)
	for _, commit := range state.CommitLog {
		fmt.Fprintf(&b, "\n- **`%s`** %s", commit.SHA, firstLine(commit.Message))
	}

	if deployment.Status != StatusIdle && deployment.Status != StatusSuccess {
		fmt.Fprintf(&b, "\n\n*Last deploy: %s*", deployment.Status)
		if deployment.Error != "" {
			fmt.Fprintf(&b, "\n*Error: %s*", deployment.Error)
		}
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
