package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// DefaultTracerName names the tracer used when none is given
const DefaultTracerName = "skillrt"

// Span attribute keys shared by the invocation and sync spans
const (
	AttrSkillID     = attribute.Key("skill.id")
	AttrSkillKind   = attribute.Key("skill.kind")
	AttrTraceID     = attribute.Key("skill.trace_id")
	AttrExecutionID = attribute.Key("skill.execution_id")
	AttrSuccess     = attribute.Key("skill.success")
	AttrErrorKind   = attribute.Key("skill.error_kind")
	AttrRetries     = attribute.Key("skill.retries")
)

// Tracer returns a named tracer from the global provider
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = DefaultTracerName
	}
	return otel.GetTracerProvider().Tracer(name)
}

// StartInvocation opens the span covering one skill invocation
func StartInvocation(ctx context.Context, skillID, traceID, executionID string) (context.Context, trace.Span) {
	return Tracer("").Start(ctx, "skill.invoke", trace.WithAttributes(
		AttrSkillID.String(skillID),
		AttrTraceID.String(traceID),
		AttrExecutionID.String(executionID),
	))
}

// EndInvocation records the outcome of r on span. Failed results set an error
// status carrying the failure message.
func EndInvocation(span trace.Span, r *skilltypes.ExecutionResult) {
	if r == nil {
		span.SetStatus(codes.Error, "no result")
		return
	}
	span.SetAttributes(AttrSuccess.Bool(r.Success), AttrRetries.Int(r.Metrics.RetryCount))
	if r.Error != nil {
		span.SetAttributes(AttrErrorKind.String(string(r.Error.Kind)))
		span.SetStatus(codes.Error, r.Error.Message)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// WithSpan runs f inside a span named name, recording a returned error
func WithSpan(ctx context.Context, name string, f func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := Tracer("").Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	err := f(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
