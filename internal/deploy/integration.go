package deploy

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/git"
	"github.com/stacklok/gitops-agent/internal/versions"
)

// integrationVersion identifies the loaded revision of the tracked subtree
type integrationVersion struct {
	sha     string
	version string
}

// trackIntegration records the revision of the integration subtree that is
// currently loaded by the host
func (c *Coordinator) trackIntegration() {
	if c.integrationPath == "" {
		return
	}
	current, err := c.readIntegrationVersion()
	if err != nil {
		slog.Error("Failed to track integration version", "error", err)
		return
	}
	if current.sha == "" {
		slog.Debug("No commits touch the integration path", "path", c.integrationPath)
		return
	}

	c.mu.Lock()
	c.integration = current
	c.mu.Unlock()
	slog.Info("Tracking integration code", "sha", git.ShortSHA(current.sha), "version", current.version)
}

// checkIntegrationUpdate raises integration_needs_reload when a deployment
// changed the integration subtree
func (c *Coordinator) checkIntegrationUpdate(ctx context.Context, changed []string) {
	if c.integrationPath == "" || !touches(changed, c.integrationPath) {
		return
	}

	c.mu.RLock()
	loaded := c.integration
	c.mu.RUnlock()
	if loaded.sha == "" {
		return
	}

	current, err := c.readIntegrationVersion()
	if err != nil {
		slog.Error("Failed to check integration version", "error", err)
		return
	}
	if current.sha == "" || current.sha == loaded.sha {
		return
	}

	change := versions.Compare(loaded.version, current.version)
	slog.Warn("Integration updated, reload recommended",
		"from", git.ShortSHA(loaded.sha),
		"to", git.ShortSHA(current.sha),
		"change", change,
	)
	details := map[string]string{
		"old_sha": git.ShortSHA(loaded.sha),
		"new_sha": git.ShortSHA(current.sha),
		"change":  string(change),
	}
	if loaded.version != "" {
		details["old_version"] = loaded.version
	}
	if current.version != "" {
		details["new_version"] = current.version
	}
	c.deps.Conditions.Raise(ctx, conditions.IntegrationNeedsReload, conditions.SeverityWarning, details)
}

func (c *Coordinator) readIntegrationVersion() (integrationVersion, error) {
	sha, err := c.deps.Git.LastCommitForPath(c.integrationPath)
	if err != nil {
		return integrationVersion{}, err
	}
	return integrationVersion{sha: sha, version: manifestVersion(c.manifestPath)}, nil
}

// manifestVersion reads the "version" field of an integration manifest
func manifestVersion(path string) string {
	if path == "" {
		return ""
	}
	// #nosec G304 -- path is derived from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return gjson.GetBytes(data, "version").String()
}

func touches(files []string, prefix string) bool {
	for _, f := range files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}
