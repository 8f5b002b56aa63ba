package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	for _, opts := range [][]Option{nil, {WithTelemetryConfig(&Config{Enabled: false})}} {
		tel, err := New(context.Background(), opts...)
		require.NoError(t, err)
		assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
		assert.IsType(t, noop.MeterProvider{}, tel.MeterProvider())
		assert.Nil(t, tel.MetricsHandler())
		require.NoError(t, tel.Shutdown(context.Background()))
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), WithTelemetryConfig(&Config{
		Enabled: true,
		Tracing: &TracingConfig{Enabled: true, Sampling: -1},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry configuration")
}

func TestNew_PrometheusExporter(t *testing.T) {
	t.Parallel()

	tel, err := New(context.Background(), WithTelemetryConfig(&Config{
		Enabled: true,
		Metrics: &MetricsConfig{Enabled: true, Exporters: []string{ExporterPrometheus}},
	}))
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	_, ok := tel.MeterProvider().(*sdkmetric.MeterProvider)
	require.True(t, ok)

	metrics, err := NewDeployMetrics(tel.MeterProvider())
	require.NoError(t, err)
	metrics.RecordCommitsBehind(context.Background(), 3)

	handler := tel.MetricsHandler()
	require.NotNil(t, handler)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gitops_agent_commits_behind")
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
