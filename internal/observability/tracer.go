package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a span covering one dispatched group.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError marks the span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for dispatcher spans.
var (
	AttrCredentialIndex = attribute.Key("vkdispatch.credential_index")
	AttrGroupSize       = attribute.Key("vkdispatch.group_size")
	AttrMethodNames     = attribute.Key("vkdispatch.method_names")
	AttrCorrelationID   = attribute.Key("vkdispatch.correlation_id")
	AttrDurationMs      = attribute.Key("vkdispatch.duration_ms")
)
