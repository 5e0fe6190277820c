package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if tracer.Enabled() {
		t.Error("tracer without endpoint reports enabled")
	}
	if tracer.config.ServiceName != "tero" {
		t.Errorf("ServiceName = %q", tracer.config.ServiceName)
	}
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
}

func TestWithSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	boom := errors.New("boom")
	var traceID string
	err := WithSpan(context.Background(), tp.Tracer("test"), "oauth.exchange", func(ctx context.Context) error {
		traceID = GetTraceID(ctx)
		return boom
	}, attribute.String("tool.id", "mcp-jira"))
	if !errors.Is(err, boom) {
		t.Fatalf("WithSpan() error = %v", err)
	}
	if traceID == "" {
		t.Error("trace id not propagated")
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "oauth.exchange" || spans[0].Status().Code != codes.Error {
		t.Errorf("span = %s %v", spans[0].Name(), spans[0].Status())
	}
}

func TestRecordErrorNil(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	_, span := tp.Tracer("test").Start(context.Background(), "ok")
	RecordError(span, nil)
	span.End()
	if got := sr.Ended()[0].Status().Code; got != codes.Unset {
		t.Errorf("status = %v, want unset", got)
	}
}

func TestGetTraceIDOutsideSpan(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() = %q", got)
	}
}

func TestLogsCarryTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	logger := newTestLogger(t, &buf)
	ctx, span := tp.Tracer("test").Start(context.Background(), "answer")
	logger.InfoContext(ctx, "inside span")
	span.End()

	entry := decode(t, &buf)
	if got := entry["trace_id"]; got != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", got, span.SpanContext().TraceID())
	}
}
