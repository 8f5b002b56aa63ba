// Package drift reports local changes in the working copy that are not in
// any commit. It never modifies the repository.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/gitops-agent/internal/conditions"
	"github.com/stacklok/gitops-agent/internal/git"
	"github.com/stacklok/gitops-agent/internal/otel"
	"github.com/stacklok/gitops-agent/internal/telemetry"
)

// Report is the result of a drift check
type Report struct {
	Drifted   bool      `json:"drifted"`
	Modified  []string  `json:"modified,omitempty"`
	Untracked []string  `json:"untracked,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Count returns the number of drifted files
func (r *Report) Count() int {
	return len(r.Modified) + len(r.Untracked)
}

// Detector compares the working copy with HEAD
type Detector struct {
	engine     git.Engine
	conditions *conditions.Registry
	metrics    *telemetry.DeployMetrics
	tracer     trace.Tracer
	ignore     []string

	mu   sync.Mutex
	last *Report
}

// Option configures a Detector
type Option func(*Detector)

// WithIgnore skips files matching any of the glob patterns, e.g. generated secret files
func WithIgnore(patterns ...string) Option {
	return func(d *Detector) {
		d.ignore = append(d.ignore, patterns...)
	}
}

// WithMetrics records the drifted file count
func WithMetrics(m *telemetry.DeployMetrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

// WithTracer wraps each check in a span
func WithTracer(t trace.Tracer) Option {
	return func(d *Detector) {
		d.tracer = t
	}
}

// NewDetector creates a drift detector
func NewDetector(engine git.Engine, registry *conditions.Registry, opts ...Option) *Detector {
	d := &Detector{engine: engine, conditions: registry}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check inspects the working copy and raises or clears the drift condition
func (d *Detector) Check(ctx context.Context) (*Report, error) {
	ctx, span := otel.StartSpan(ctx, d.tracer, "drift.check")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	status, err := d.engine.Status()
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("drift check failed: %w", err)
	}

	report := &Report{
		Modified:  d.filter(status.Modified),
		Untracked: d.filter(status.Untracked),
		CheckedAt: time.Now().UTC(),
	}
	report.Drifted = report.Count() > 0
	d.last = report

	d.metrics.RecordDrift(ctx, report.Count())

	if report.Drifted {
		slog.Warn("Working copy has drifted from HEAD",
			"modified", len(report.Modified),
			"untracked", len(report.Untracked),
		)
		d.conditions.Raise(ctx, conditions.DriftDetected, conditions.SeverityWarning, map[string]string{
			"modified":  strconv.Itoa(len(report.Modified)),
			"untracked": strconv.Itoa(len(report.Untracked)),
		})
	} else {
		d.conditions.Clear(ctx, conditions.DriftDetected)
	}
	return report, nil
}

// Last returns the most recent report, or nil before the first check
func (d *Detector) Last() *Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	cp := *d.last
	return &cp
}

func (d *Detector) filter(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !d.ignored(f) {
			out = append(out, f)
		}
	}
	return out
}

func (d *Detector) ignored(file string) bool {
	for _, pattern := range d.ignore {
		if ok, _ := path.Match(pattern, file); ok {
			return true
		}
	}
	return false
}
