package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// spanLogExporter mirrors finished spans into the service log so traces stay
// visible when no OTLP collector is running.
type spanLogExporter struct {
	logger zerolog.Logger
}

func newSpanLogExporter(logger zerolog.Logger) sdktrace.SpanExporter {
	return &spanLogExporter{logger: logger}
}

func (e *spanLogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		entry := e.logger.Info().
			Str("span_name", span.Name()).
			Str("span_kind", span.SpanKind().String()).
			Dur("duration", span.EndTime().Sub(span.StartTime()))
		if sc.HasTraceID() {
			entry = entry.Str("trace_id", sc.TraceID().String())
		}
		if sc.HasSpanID() {
			entry = entry.Str("span_id", sc.SpanID().String())
		}
		if parent := span.Parent(); parent.HasSpanID() {
			entry = entry.Str("parent_span_id", parent.SpanID().String())
		}
		for _, attr := range span.Attributes() {
			entry = entry.Str(string(attr.Key), attr.Value.Emit())
		}
		entry.Msg("Span completed")
	}
	return nil
}

func (e *spanLogExporter) Shutdown(context.Context) error { return nil }

var _ sdktrace.SpanExporter = (*spanLogExporter)(nil)

func defaultSpanLogger() zerolog.Logger {
	return log.With().Str("component", "tracing").Logger()
}
