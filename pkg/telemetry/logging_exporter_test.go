package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSpanLogExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter := newSpanLogExporter(zerolog.New(&buf))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)

	ctx := context.Background()
	_, span := provider.Tracer("test").Start(ctx, "check-access")
	span.SetAttributes(attribute.String("user_id", "u-1"))
	span.End()
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	if out == "" {
		t.Fatal("expected a log entry")
	}
	for _, want := range []string{"check-access", "trace_id", "user_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
