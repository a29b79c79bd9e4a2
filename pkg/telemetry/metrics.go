package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DeliveryOutcome classifies one destination delivery.
type DeliveryOutcome string

const (
	DeliverySuccess        DeliveryOutcome = "success"
	DeliveryFailed         DeliveryOutcome = "failed"
	DeliveryTimeout        DeliveryOutcome = "timeout"
	DeliveryNotImplemented DeliveryOutcome = "not_implemented"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	deliveryCounter       metric.Int64Counter
	deliveryRetryCounter  metric.Int64Counter
	deliveryLatency       metric.Float64Histogram
	renderFallbackCounter metric.Int64Counter
	filteredCounter       metric.Int64Counter
)

// DeliveryMetrics captures the fields needed to record one destination delivery.
type DeliveryMetrics struct {
	Endpoint string
	Variant  string
	Outcome  DeliveryOutcome
	Duration time.Duration
	// Retries counts attempts after the first.
	Retries int
}

// RecordDelivery emits counters and histograms that describe a delivery.
func RecordDelivery(ctx context.Context, m DeliveryMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("relay.endpoint", m.Endpoint),
		attribute.String("relay.variant", m.Variant),
		attribute.String("relay.outcome", string(m.Outcome)),
	)

	deliveryCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		deliveryLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.Retries > 0 {
		deliveryRetryCounter.Add(ctx, int64(m.Retries), attrs)
	}
}

// RecordRenderFallback counts renders where a configured template failed.
func RecordRenderFallback(ctx context.Context, endpoint, tier string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	renderFallbackCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("relay.endpoint", endpoint),
		attribute.String("relay.render.tier", tier),
	))
}

// RecordFiltered counts alerts dropped by an endpoint filter.
func RecordFiltered(ctx context.Context, endpoint string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	filteredCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("relay.endpoint", endpoint)))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(InstrumentationName)

		deliveryCounter, metricsInitErr = meter.Int64Counter(
			"relay.delivery.total",
			metric.WithDescription("Destination deliveries partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		deliveryRetryCounter, metricsInitErr = meter.Int64Counter(
			"relay.delivery.retries_total",
			metric.WithDescription("Retry attempts performed for destination deliveries"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		deliveryLatency, metricsInitErr = meter.Float64Histogram(
			"relay.delivery.duration_ms",
			metric.WithDescription("Observed delivery latency including retries"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		renderFallbackCounter, metricsInitErr = meter.Int64Counter(
			"relay.render.fallback_total",
			metric.WithDescription("Renders served by the embedded or minimal template"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		filteredCounter, metricsInitErr = meter.Int64Counter(
			"relay.filter.dropped_total",
			metric.WithDescription("Alerts dropped by endpoint filters"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
