package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-relay/pkg/telemetry"
)

// deliveryLogger writes structured delivery events with trace correlation.
type deliveryLogger struct {
	logger *slog.Logger
}

func newDeliveryLogger(logger *slog.Logger) deliveryLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return deliveryLogger{logger: logger}
}

// LogDelivery logs the result of one destination delivery.
func (dl deliveryLogger) LogDelivery(ctx context.Context, endpoint, url string, attempts int, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("endpoint", endpoint),
		slog.String("url", telemetry.URLPreview(url)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", duration),
	}
	attrs = appendTrace(ctx, attrs)

	if err == nil {
		dl.logger.LogAttrs(ctx, slog.LevelDebug, "Alert delivered", attrs...)
		return
	}
	attrs = append(attrs, slog.String("error", err.Error()))
	dl.logger.LogAttrs(ctx, slog.LevelError, "Alert delivery failed", attrs...)
}

// LogSkipped logs a dispatch that sent nothing.
func (dl deliveryLogger) LogSkipped(ctx context.Context, endpoint, reason string) {
	attrs := appendTrace(ctx, []slog.Attr{
		slog.String("endpoint", endpoint),
		slog.String("reason", reason),
	})
	dl.logger.LogAttrs(ctx, slog.LevelInfo, "Alert not forwarded", attrs...)
}

// LogRenderFallback logs a render served by a fallback tier.
func (dl deliveryLogger) LogRenderFallback(ctx context.Context, endpoint, tier string) {
	attrs := appendTrace(ctx, []slog.Attr{
		slog.String("endpoint", endpoint),
		slog.String("tier", tier),
	})
	dl.logger.LogAttrs(ctx, slog.LevelWarn, "Card rendered from fallback template", attrs...)
}

func appendTrace(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return attrs
	}
	return append(attrs,
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
