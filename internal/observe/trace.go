package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/wordlens"

// LookupSpanName names the span that covers one lookup from prompt to
// terminal event, repairs included.
const LookupSpanName = "lookup.run"

// Attributes of the lookup span.
const (
	AttrRequestID = "lookup.request_id"
	AttrWord      = "lookup.word"
	AttrOutcome   = "lookup.outcome"
)

// StartSpan starts a span on the globally registered tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartLookup starts the span of request id for word.
func StartLookup(ctx context.Context, id uint64, word string) (context.Context, trace.Span) {
	return StartSpan(ctx, LookupSpanName, trace.WithAttributes(
		attribute.Int64(AttrRequestID, int64(id)),
		attribute.String(AttrWord, word),
	))
}

// EndLookup records the terminal outcome on span and ends it. A non-empty
// failure marks the span as errored.
func EndLookup(span trace.Span, outcome, failure string) {
	span.SetAttributes(attribute.String(AttrOutcome, outcome))
	if failure != "" {
		span.SetStatus(codes.Error, failure)
	}
	span.End()
}

// CorrelationID is the trace ID of the span in ctx, or "" without one. HTTP
// responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is the default logger with trace_id and span_id added when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
