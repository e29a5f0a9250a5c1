package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IngestOperation builds the span attributes for one connector fetch.
func IngestOperation(connector, canonicalID string, created bool, chunks int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tariffcore.connector", connector),
		attribute.String("tariffcore.document.canonical_id", canonicalID),
		attribute.Bool("tariffcore.document.created", created),
		attribute.Int("tariffcore.document.chunks", chunks),
	}
}

// CalculationOperation builds the span attributes for one duty calculation.
func CalculationOperation(hts, country string, entries int, totalCents int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tariffcore.hts", hts),
		attribute.String("tariffcore.country", country),
		attribute.Int("tariffcore.entries", entries),
		attribute.Int64("tariffcore.total_duty_cents", totalCents),
	}
}

// VerificationOperation builds the span attributes for one scope
// verification.
func VerificationOperation(program, hts, source string, verified bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tariffcore.program", program),
		attribute.String("tariffcore.hts", hts),
		attribute.String("tariffcore.rag_source", source),
		attribute.Bool("tariffcore.verified", verified),
	}
}

// SpanFromContext returns the active span, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent attaches an event to the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the active span as errored or OK.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return
	}
	span.SetStatus(codes.Ok, "")
}
