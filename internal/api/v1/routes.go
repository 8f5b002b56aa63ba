// Package v1 provides the REST handlers of the deployment agent.
package v1

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"github.com/stacklok/gitops-agent/internal/api/common"
	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/deploy"
	"github.com/stacklok/gitops-agent/internal/events"
	"github.com/stacklok/gitops-agent/internal/history"
	"github.com/stacklok/gitops-agent/internal/service"
	"github.com/stacklok/gitops-agent/internal/webhook"
)

const (
	// DefaultRequestTimeout bounds non-streaming requests
	DefaultRequestTimeout = 30 * time.Second

	// TriggerWebhook is the trigger source of webhook deployments
	TriggerWebhook = "webhook"

	maxWebhookBody = 5 << 20
)

// Routes holds the handlers of the /api/v1 router
type Routes struct {
	svc           service.DeploymentService
	secret        []byte
	eventsHandler http.Handler
	timeout       time.Duration
	streamBuffer  int
}

// Option configures the v1 routes
type Option func(*Routes)

// WithWebhookSecret sets the shared secret for deploy webhook signatures.
// Without a secret every deploy webhook is rejected.
func WithWebhookSecret(secret []byte) Option {
	return func(rr *Routes) {
		rr.secret = secret
	}
}

// WithEventsHandler serves h at /events
func WithEventsHandler(h http.Handler) Option {
	return func(rr *Routes) {
		rr.eventsHandler = h
	}
}

// WithRequestTimeout bounds non-streaming requests
func WithRequestTimeout(d time.Duration) Option {
	return func(rr *Routes) {
		if d > 0 {
			rr.timeout = d
		}
	}
}

// WithStreamBuffer sets how many progress events are buffered per stream
func WithStreamBuffer(n int) Option {
	return func(rr *Routes) {
		if n > 0 {
			rr.streamBuffer = n
		}
	}
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.DeploymentService, opts ...Option) *Routes {
	rr := &Routes{
		svc:          svc,
		timeout:      DefaultRequestTimeout,
		streamBuffer: events.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr
}

// Router creates the /api/v1 router
func Router(svc service.DeploymentService, opts ...Option) http.Handler {
	rr := NewRoutes(svc, opts...)
	r := chi.NewRouter()

	// streaming routes last as long as the deployment
	r.Post("/webhooks/deploy", rr.deployWebhook)
	r.Post("/updates/install", rr.installUpdate)
	if rr.eventsHandler != nil {
		r.Handle("/events", rr.eventsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(rr.timeout))

		r.Post("/webhooks/secrets", rr.secretsWebhook)
		r.Get("/status", rr.getStatus)
		r.Get("/updates", rr.getUpdates)
		r.Post("/updates/check", rr.checkUpdates)
		r.Get("/conditions", rr.listConditions)
		r.Delete("/conditions/{kind}", rr.acknowledgeCondition)
		r.Get("/deployments", rr.listDeployments)
	})

	return r
}

// deployWebhook handles POST /api/v1/webhooks/deploy. The signature is
// checked over the raw body before it is parsed.
func (rr *Routes) deployWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		common.WriteErrorResponse(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := webhook.Verify(body, r.Header.Get(webhook.SignatureHeader), rr.secret); err != nil {
		slog.Warn("Rejected deploy webhook", "error", err, "remote_addr", r.RemoteAddr)
		common.WriteErrorResponse(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	// the payload must be a JSON object
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		common.WriteErrorResponse(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	trigger := deploy.Trigger{Source: TriggerWebhook, Payload: body}
	rr.stream(w, r, func(ctx context.Context, sink deploy.Sink) (deploy.DeploymentState, error) {
		return rr.svc.Deploy(ctx, trigger, sink)
	})
}

// installUpdate handles POST /api/v1/updates/install
func (rr *Routes) installUpdate(w http.ResponseWriter, r *http.Request) {
	rr.stream(w, r, rr.svc.InstallUpdate)
}

// secretsWebhook handles POST /api/v1/webhooks/secrets. It answers before the
// sync runs; the outcome is reported through conditions.
func (rr *Routes) secretsWebhook(w http.ResponseWriter, r *http.Request) {
	if !rr.svc.SecretsEnabled() {
		common.WriteJSONResponse(w, MessageResponse{
			Status:  "accepted",
			Message: "No secrets provider configured",
		}, http.StatusAccepted)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := rr.svc.SyncSecrets(ctx); err != nil {
			slog.Warn("Secrets refresh failed", "error", err)
		}
	}()

	common.WriteJSONResponse(w, MessageResponse{
		Status:  "accepted",
		Message: "Secrets refresh triggered",
	}, http.StatusAccepted)
}

// getStatus handles GET /api/v1/status
func (rr *Routes) getStatus(w http.ResponseWriter, _ *http.Request) {
	state := rr.svc.DeploymentState()
	gitState := rr.svc.GitState()

	common.WriteJSONResponse(w, StatusResponse{
		Deployment: state,
		Commit: CommitInfo{
			SHA:     gitState.LocalSHA,
			Message: gitState.LocalMessage,
		},
		UpdateAvailable: gitState.UpdateAvailable(),
		SecretsEnabled:  rr.svc.SecretsEnabled(),
		Conditions:      len(rr.svc.ListConditions()),
	}, http.StatusOK)
}

// getUpdates handles GET /api/v1/updates
func (rr *Routes) getUpdates(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, rr.svc.UpdateInfo(), http.StatusOK)
}

// checkUpdates handles POST /api/v1/updates/check
func (rr *Routes) checkUpdates(w http.ResponseWriter, r *http.Request) {
	if _, err := rr.svc.CheckForUpdates(r.Context()); err != nil {
		slog.Error("Update check failed", "error", err)
		common.WriteErrorResponse(w, "Update check failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	common.WriteJSONResponse(w, rr.svc.UpdateInfo(), http.StatusOK)
}

// listConditions handles GET /api/v1/conditions
func (rr *Routes) listConditions(w http.ResponseWriter, _ *http.Request) {
	list := rr.svc.ListConditions()
	if list == nil {
		list = []conditions.Condition{}
	}
	common.WriteJSONResponse(w, ConditionsResponse{Conditions: list}, http.StatusOK)
}

// acknowledgeCondition handles DELETE /api/v1/conditions/{kind}
func (rr *Routes) acknowledgeCondition(w http.ResponseWriter, r *http.Request) {
	kind, err := common.PathParam(r, "kind")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !rr.svc.AcknowledgeCondition(r.Context(), conditions.Kind(kind)) {
		common.WriteErrorResponse(w, "Condition not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listDeployments handles GET /api/v1/deployments?limit=N
func (rr *Routes) listDeployments(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			common.WriteErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := rr.svc.History(r.Context(), limit)
	switch {
	case errors.Is(err, deploy.ErrHistoryDisabled):
		common.WriteErrorResponse(w, "Deployment history is disabled", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Failed to list deployments", "error", err)
		common.WriteErrorResponse(w, "Failed to list deployments", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	common.WriteJSONResponse(w, DeploymentsResponse{Deployments: records}, http.StatusOK)
}
