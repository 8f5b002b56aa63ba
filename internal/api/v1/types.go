package v1

import (
	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/deploy"
	"github.com/stacklok/gitops-agent/internal/history"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string `json:"status"`
}

// VersionResponse represents the version information response
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// CommitInfo identifies the deployed commit
type CommitInfo struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// StatusResponse is the status sensor payload
type StatusResponse struct {
	Deployment      deploy.DeploymentState `json:"deployment"`
	Commit          CommitInfo             `json:"commit"`
	UpdateAvailable bool                   `json:"update_available"`
	SecretsEnabled  bool                   `json:"secrets_enabled"`
	Conditions      int                    `json:"conditions"`
}

// ConditionsResponse lists the standing conditions
type ConditionsResponse struct {
	Conditions []conditions.Condition `json:"conditions"`
}

// DeploymentsResponse lists finished attempts, newest first
type DeploymentsResponse struct {
	Deployments []history.Record `json:"deployments"`
}

// MessageResponse acknowledges an accepted request
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// streamError is the final event of a stream whose deployment could not run
// to a terminal state
type streamError struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
