package deploy

import (
	"context"
	"errors"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/history"
)

// ErrNotReady is returned by CheckReadiness before Start opened the repository
var ErrNotReady = errors.New("repository not opened yet")

// ErrHistoryDisabled is returned by History when no store is configured
var ErrHistoryDisabled = errors.New("deployment history is disabled")

// CheckReadiness returns nil once the repository has been opened
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	if !c.Ready() {
		return ErrNotReady
	}
	return nil
}

// ListConditions returns the standing conditions sorted by kind
func (c *Coordinator) ListConditions() []conditions.Condition {
	return c.deps.Conditions.List()
}

// AcknowledgeCondition clears a standing condition. It reports whether the
// condition was present.
func (c *Coordinator) AcknowledgeCondition(ctx context.Context, kind conditions.Kind) bool {
	if _, ok := c.deps.Conditions.Get(kind); !ok {
		return false
	}
	c.deps.Conditions.Clear(ctx, kind)
	return true
}

// History returns the most recent finished attempts, newest first
func (c *Coordinator) History(ctx context.Context, limit int) ([]history.Record, error) {
	if c.deps.History == nil {
		return nil, ErrHistoryDisabled
	}
	return c.deps.History.List(ctx, limit)
}
