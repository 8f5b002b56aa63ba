// Package conditions tracks standing issues that need an operator's attention.
package conditions

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/stacklok/gitops-agent/internal/events"
)

// Kind identifies a standing condition. At most one condition of each kind exists.
type Kind string

const (
	GitLockDetected        Kind = "git_lock_detected"
	GitConnectionFailed    Kind = "git_connection_failed"
	SecretsProviderFailed  Kind = "secrets_provider_failed"
	// RestartRequired outlives later deployments. The agent cannot see the host
	// restart, so it stays until acknowledged.
	RestartRequired        Kind = "restart_required"
	DeploymentInterrupted  Kind = "deployment_interrupted"
	IntegrationNeedsReload Kind = "integration_needs_reload"
	DriftDetected          Kind = "drift_detected"
	UpstreamNotConfigured  Kind = "upstream_not_configured"
)

// Severity of a condition
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Condition is a raised standing issue
type Condition struct {
	Kind     Kind              `json:"kind"`
	Severity Severity          `json:"severity"`
	Context  map[string]string `json:"context,omitempty"`
	RaisedAt time.Time         `json:"raised_at"`
}

// Registry holds the current set of conditions
type Registry struct {
	publisher events.Publisher

	mu         sync.RWMutex
	conditions map[Kind]Condition
}

// NewRegistry creates a registry. publisher may be nil.
func NewRegistry(publisher events.Publisher) *Registry {
	return &Registry{
		publisher:  publisher,
		conditions: make(map[Kind]Condition),
	}
}

// Raise creates or replaces the condition of the given kind. Raising a
// condition that is already present with the same severity and context is
// a no-op.
func (r *Registry) Raise(ctx context.Context, kind Kind, severity Severity, details map[string]string) {
	r.mu.Lock()
	existing, ok := r.conditions[kind]
	if ok && existing.Severity == severity && maps.Equal(existing.Context, details) {
		r.mu.Unlock()
		return
	}
	cond := Condition{
		Kind:     kind,
		Severity: severity,
		Context:  maps.Clone(details),
		RaisedAt: time.Now().UTC(),
	}
	r.conditions[kind] = cond
	r.mu.Unlock()

	slog.Warn("Condition raised", "kind", kind, "severity", severity, "context", details)
	r.publish(ctx, events.TypeConditionRaised, cond)
}

// Clear removes the condition of the given kind, if present
func (r *Registry) Clear(ctx context.Context, kind Kind) {
	r.mu.Lock()
	cond, ok := r.conditions[kind]
	delete(r.conditions, kind)
	r.mu.Unlock()

	if !ok {
		return
	}
	slog.Info("Condition cleared", "kind", kind)
	r.publish(ctx, events.TypeConditionCleared, cond)
}

// Get returns the condition of the given kind
func (r *Registry) Get(kind Kind) (Condition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cond, ok := r.conditions[kind]
	if ok {
		cond.Context = maps.Clone(cond.Context)
	}
	return cond, ok
}

// List returns all raised conditions ordered by kind
func (r *Registry) List() []Condition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Condition, 0, len(r.conditions))
	for _, kind := range slices.Sorted(maps.Keys(r.conditions)) {
		cond := r.conditions[kind]
		cond.Context = maps.Clone(cond.Context)
		out = append(out, cond)
	}
	return out
}

func (r *Registry) publish(ctx context.Context, typ events.Type, cond Condition) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(ctx, events.Event{Type: typ, Data: cond})
}
