package app

import (
	"github.com/stacklok/gitops-agent/internal/deploy"
	"github.com/stacklok/gitops-agent/internal/events"
	"github.com/stacklok/gitops-agent/internal/history"
	"github.com/stacklok/gitops-agent/internal/journal"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator runs deployments and the background loops
	Coordinator *deploy.Coordinator

	// Hub fans out notifications to websocket clients and sinks
	Hub *events.Hub

	// Journal is held locked for the lifetime of the app
	Journal *journal.FileJournal

	// History is nil when deployment history is disabled
	History history.Store
}
