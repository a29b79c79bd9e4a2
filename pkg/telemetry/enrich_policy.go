package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordFilterDecision annotates span with the endpoint filter outcome.
func RecordFilterDecision(span trace.Span, allowed bool, err error) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Bool("relay.filter.allowed", allowed))
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("relay.filter.error", true))
	}
	if !allowed {
		span.AddEvent("relay.filtered")
	}
}

// RecordDispatchOutcome attaches the aggregate result of a dispatch to span.
func RecordDispatchOutcome(span trace.Span, attempted, failed int) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.Int("relay.destinations.attempted", attempted),
		attribute.Int("relay.destinations.failed", failed),
	)
	if failed > 0 {
		span.AddEvent("relay.delivery.failures", trace.WithAttributes(attribute.Int("count", failed)))
	}
	if attempted > 0 && failed == attempted {
		span.SetStatus(codes.Error, "all destinations failed")
	}
}
