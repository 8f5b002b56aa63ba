package api

import v1 "github.com/stacklok/gitops-agent/internal/api/v1"

// Response types re-exported for clients of the agent API
type (
	HealthResponse    = v1.HealthResponse
	ReadinessResponse = v1.ReadinessResponse
	VersionResponse   = v1.VersionResponse
	StatusResponse    = v1.StatusResponse
)
