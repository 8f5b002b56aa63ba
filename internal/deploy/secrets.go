package deploy

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/events"
	"github.com/stacklok/gitops-agent/internal/otel"
)

// SecretsEnabled reports whether a secret provider is configured
func (c *Coordinator) SecretsEnabled() bool {
	return c.deps.Secrets != nil
}

// SyncSecrets regenerates the provider secrets file. Failures raise the
// secrets_provider_failed condition, success clears it. It does not take the
// deployment guard; the secrets engine serializes syncs itself.
func (c *Coordinator) SyncSecrets(ctx context.Context) (int, error) {
	engine := c.deps.Secrets
	if engine == nil {
		return 0, nil
	}
	provider := engine.Provider()

	ctx, span := otel.StartSpan(ctx, c.tracer, "secrets.sync",
		trace.WithAttributes(otel.AttrProvider.String(provider.Name())))
	defer span.End()

	count, err := engine.Sync(ctx)
	if err != nil {
		otel.RecordError(span, err)
		slog.Error("Secret sync failed", "provider", provider.Name(), "error", err, "kind", KindSecretProviderFailed)
		c.deps.Conditions.Raise(ctx, conditions.SecretsProviderFailed, conditions.SeverityError, map[string]string{
			"provider": provider.DisplayName(),
			"error":    err.Error(),
		})
		return 0, &Error{Kind: KindSecretProviderFailed, Message: err.Error(), Err: err}
	}

	span.SetAttributes(otel.AttrSecretCount.Int(count))
	c.deps.Conditions.Clear(ctx, conditions.SecretsProviderFailed)
	c.metrics.RecordSecretsSynced(ctx, provider.Name(), count)
	slog.Info("Secrets synced", "provider", provider.Name(), "count", count, "file", engine.GeneratedFile())

	if c.deps.Events != nil {
		c.deps.Events.Publish(ctx, events.Event{Type: events.TypeSecretsSynced, Data: map[string]any{
			"provider": provider.Name(),
			"count":    count,
		}})
	}
	return count, nil
}
