package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DeployMetricsMeterName is the name used for the deployment metrics meter
	DeployMetricsMeterName = "github.com/stacklok/gitops-agent/deploy"
)

// DeployMetrics holds the OpenTelemetry instruments for deployment metrics
type DeployMetrics struct {
	deployDuration metric.Float64Histogram
	deploysTotal   metric.Int64Counter
	reloadsTotal   metric.Int64Counter
	secretsSynced  metric.Int64Gauge
	commitsBehind  metric.Int64Gauge
	driftFiles     metric.Int64Gauge
}

// NewDeployMetrics creates the deployment instruments.
// If provider is nil, it returns nil and every Record method is a no-op.
func NewDeployMetrics(provider metric.MeterProvider) (*DeployMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(DeployMetricsMeterName)

	deployDuration, err := meter.Float64Histogram(
		"gitops_agent_deploy_duration_seconds",
		metric.WithDescription("Duration of deployment attempts in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	deploysTotal, err := meter.Int64Counter(
		"gitops_agent_deploys_total",
		metric.WithDescription("Number of deployment attempts by terminal status"),
		metric.WithUnit("{deployment}"),
	)
	if err != nil {
		return nil, err
	}

	reloadsTotal, err := meter.Int64Counter(
		"gitops_agent_reloads_total",
		metric.WithDescription("Number of subsystem reloads by subsystem and result"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, err
	}

	secretsSynced, err := meter.Int64Gauge(
		"gitops_agent_secrets_synced",
		metric.WithDescription("Number of secrets written by the last successful sync"),
		metric.WithUnit("{secret}"),
	)
	if err != nil {
		return nil, err
	}

	commitsBehind, err := meter.Int64Gauge(
		"gitops_agent_commits_behind",
		metric.WithDescription("Commits on the upstream branch not yet deployed"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, err
	}

	driftFiles, err := meter.Int64Gauge(
		"gitops_agent_drift_files",
		metric.WithDescription("Uncommitted or untracked files in the working copy"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	return &DeployMetrics{
		deployDuration: deployDuration,
		deploysTotal:   deploysTotal,
		reloadsTotal:   reloadsTotal,
		secretsSynced:  secretsSynced,
		commitsBehind:  commitsBehind,
		driftFiles:     driftFiles,
	}, nil
}

// RecordDeployment records a finished deployment attempt
func (m *DeployMetrics) RecordDeployment(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.deployDuration.Record(ctx, duration.Seconds(), attrs)
	m.deploysTotal.Add(ctx, 1, attrs)
}

// RecordReload records one subsystem reload call
func (m *DeployMetrics) RecordReload(ctx context.Context, subsystem string, success bool) {
	if m == nil {
		return
	}
	m.reloadsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subsystem", subsystem),
		attribute.Bool("success", success),
	))
}

// RecordSecretsSynced records the number of secrets written by a sync
func (m *DeployMetrics) RecordSecretsSynced(ctx context.Context, provider string, count int) {
	if m == nil {
		return
	}
	m.secretsSynced.Record(ctx, int64(count), metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordCommitsBehind records the result of an update check
func (m *DeployMetrics) RecordCommitsBehind(ctx context.Context, behind int) {
	if m == nil {
		return
	}
	m.commitsBehind.Record(ctx, int64(behind))
}

// RecordDrift records the number of drifted files found by a drift check
func (m *DeployMetrics) RecordDrift(ctx context.Context, files int) {
	if m == nil {
		return
	}
	m.driftFiles.Record(ctx, int64(files))
}
