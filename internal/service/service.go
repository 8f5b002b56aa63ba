// Package service defines the operations the HTTP API needs from the
// deployment coordinator.
package service

import (
	"context"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/deploy"
	"github.com/stacklok/gitops-agent/internal/history"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go DeploymentService

// DeploymentService is implemented by *deploy.Coordinator
type DeploymentService interface {
	// CheckReadiness returns nil once the repository is open
	CheckReadiness(ctx context.Context) error

	// Deploy runs one deployment and reports progress to sink
	Deploy(ctx context.Context, trigger deploy.Trigger, sink deploy.Sink) (deploy.DeploymentState, error)

	// InstallUpdate deploys the upstream tip
	InstallUpdate(ctx context.Context, sink deploy.Sink) (deploy.DeploymentState, error)

	// SecretsEnabled reports whether a secret provider is configured
	SecretsEnabled() bool

	// SyncSecrets regenerates the provider secrets file
	SyncSecrets(ctx context.Context) (int, error)

	DeploymentState() deploy.DeploymentState
	GitState() deploy.GitState
	UpdateInfo() deploy.UpdateInfo

	// CheckForUpdates fetches the upstream and refreshes GitState
	CheckForUpdates(ctx context.Context) (deploy.GitState, error)

	ListConditions() []conditions.Condition
	AcknowledgeCondition(ctx context.Context, kind conditions.Kind) bool

	// History returns finished attempts, newest first
	History(ctx context.Context, limit int) ([]history.Record, error)
}

var _ DeploymentService = (*deploy.Coordinator)(nil)
