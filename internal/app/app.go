// Package app provides application lifecycle management for the gitops agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/gitops-agent/internal/config"
)

// GitOpsApp encapsulates all components needed to run the agent.
// It provides lifecycle management and graceful shutdown capabilities.
type GitOpsApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	ctx        context.Context
	cancelFunc context.CancelFunc
	cleanups   []func()
	stopOnce   sync.Once
	started    atomic.Bool

	// coordinatorDone is closed when the coordinator goroutine returns
	coordinatorDone chan struct{}
}

// Start starts the deployment coordinator in the background and then serves
// HTTP. It blocks until the HTTP server stops or encounters an error.
func (app *GitOpsApp) Start() error {
	app.started.Store(true)
	go func() {
		defer close(app.coordinatorDone)
		if err := app.components.Coordinator.Start(app.ctx); err != nil {
			// readiness stays false; the API still reports conditions
			slog.Error("Deployment coordinator failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application with the given timeout. It stops the
// coordinator, shuts down the HTTP server and releases the journal lock.
// Calling Stop more than once is a no-op.
func (app *GitOpsApp) Stop(timeout time.Duration) error {
	var err error
	app.stopOnce.Do(func() {
		err = app.stop(timeout)
	})
	return err
}

func (app *GitOpsApp) stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.Coordinator.Stop(); err != nil {
		slog.Error("Failed to stop deployment coordinator", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := app.httpServer.Shutdown(shutdownCtx)

	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	if app.started.Load() {
		<-app.coordinatorDone
	}
	runCleanups(app.cleanups)

	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *GitOpsApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *GitOpsApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired components
func (app *GitOpsApp) Components() *AppComponents {
	return app.components
}
