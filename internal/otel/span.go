// Package otel holds small span helpers shared by the deployment pipeline.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys used on deployment spans
const (
	AttrAttemptID     = attribute.Key("deploy.attempt_id")
	AttrTrigger       = attribute.Key("deploy.trigger")
	AttrCommitSHA     = attribute.Key("git.commit_sha")
	AttrChangedFiles  = attribute.Key("git.changed_files")
	AttrCommitsBehind = attribute.Key("git.commits_behind")
	AttrSubsystem     = attribute.Key("reload.subsystem")
	AttrProvider      = attribute.Key("secrets.provider")
	AttrSecretCount   = attribute.Key("secrets.count")
)

// StartSpan starts a span on tracer. A nil tracer yields a no-op span so
// callers can always defer End.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. The status description
// stays generic; provider errors can carry tokens in URLs.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
