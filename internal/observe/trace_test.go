package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs a synchronous in-memory tracer provider as the global
// one for the duration of the test. Tests using it must not run in parallel.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func spanAttrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestLookupSpan_Outcomes(t *testing.T) {
	tests := []struct {
		outcome    string
		failure    string
		wantStatus codes.Code
	}{
		{"finished", "", codes.Unset},
		{"cancelled", "", codes.Unset},
		{"failed", "compat: status 502: bad gateway", codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			exp := useRecorder(t)

			ctx, span := StartLookup(context.Background(), 7, "bank")
			if CorrelationID(ctx) == "" {
				t.Fatal("lookup context carries no trace ID")
			}
			EndLookup(span, tt.outcome, tt.failure)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			got := spans[0]
			if got.Name != LookupSpanName {
				t.Errorf("span name = %q, want %q", got.Name, LookupSpanName)
			}
			attrs := spanAttrs(got)
			if v := attrs[AttrRequestID]; v.AsInt64() != 7 {
				t.Errorf("%s = %v, want 7", AttrRequestID, v.Emit())
			}
			if v := attrs[AttrWord]; v.AsString() != "bank" {
				t.Errorf("%s = %q, want bank", AttrWord, v.AsString())
			}
			if v := attrs[AttrOutcome]; v.AsString() != tt.outcome {
				t.Errorf("%s = %q, want %q", AttrOutcome, v.AsString(), tt.outcome)
			}
			if got.Status.Code != tt.wantStatus || got.Status.Description != tt.failure {
				t.Errorf("status = %+v, want %v %q", got.Status, tt.wantStatus, tt.failure)
			}
		})
	}
}

func TestLookupSpan_NestsUnderRequestSpan(t *testing.T) {
	exp := useRecorder(t)

	ctx, parent := StartSpan(context.Background(), "HTTP POST /lookup")
	lctx, span := StartLookup(ctx, 1, "river")
	if CorrelationID(lctx) != CorrelationID(ctx) {
		t.Error("lookup span started a new trace instead of joining the request's")
	}
	EndLookup(span, "finished", "")
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("lookup span is not a child of the request span")
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}
}

func TestLogger_TraceFields(t *testing.T) {
	useRecorder(t)
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("lookup started")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("record without a span carries trace_id: %s", buf.String())
	}
	buf.Reset()

	ctx, span := StartLookup(context.Background(), 3, "cat")
	defer span.End()
	Logger(ctx).Info("lookup finished", "request_id", 3)
	line := buf.String()
	for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id=", "request_id=3"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}
