// Package dispatch fans a rendered alert out to every destination URL of a
// named endpoint.
//
// Each Dispatch call resolves the endpoint from the current configuration
// snapshot, renders the message once and sends it to all URLs with at most
// Runtime.Concurrency requests in flight. The bound applies per call, not
// across concurrent dispatches. A failed destination never aborts its
// siblings; failures are collected as "<endpoint>(<url>): <error>" strings in
// URL order.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-relay/internal/governance"
	"github.com/polisai/polis-relay/pkg/domain"
	"github.com/polisai/polis-relay/pkg/feishu"
	"github.com/polisai/polis-relay/pkg/metadata"
	"github.com/polisai/polis-relay/pkg/render"
	"github.com/polisai/polis-relay/pkg/telemetry"
)

// maxBackoff caps the delay between retries of one destination.
const maxBackoff = 5 * time.Second

// maxErrorBody bounds how much of a non-2xx response is quoted in a failure.
const maxErrorBody = 4 << 10

// HTTPDoer sends HTTP requests. *http.Client implements it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configure an Engine.
type Options struct {
	Config   domain.ConfigSource
	Renderer *render.Renderer
	// Client defaults to an http.Client with an otelhttp transport.
	Client HTTPDoer
	Logger *slog.Logger
	// Metadata is passed to every extraction; HashColors, ColorMapping and
	// CardTheme are overwritten from configuration.
	Metadata metadata.Options
}

// Outcome is the result of one dispatch.
type Outcome struct {
	Endpoint string
	// Failures holds one "<endpoint>(<url>): <error>" entry per failed URL.
	Failures []string
	// Attempted is the number of destination URLs processed.
	Attempted int
	Disabled  bool
	Filtered  bool
}

// OK reports whether no destination failed.
func (o Outcome) OK() bool { return len(o.Failures) == 0 }

// AllFailed reports whether every attempted destination failed.
func (o Outcome) AllFailed() bool {
	return o.Attempted > 0 && len(o.Failures) == o.Attempted
}

// Engine routes alerts to endpoints. It is safe for concurrent use.
type Engine struct {
	config   domain.ConfigSource
	renderer *render.Renderer
	client   HTTPDoer
	log      deliveryLogger
	meta     metadata.Options
	tracer   trace.Tracer
}

// NewEngine builds an Engine.
func NewEngine(opts Options) *Engine {
	client := opts.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.New(render.Options{Logger: opts.Logger})
	}
	return &Engine{
		config:   opts.Config,
		renderer: renderer,
		client:   client,
		log:      newDeliveryLogger(opts.Logger),
		meta:     opts.Metadata,
		tracer:   otel.Tracer(telemetry.InstrumentationName),
	}
}

// Dispatch delivers alert to every URL of the endpoint called name.
//
// The returned error is non-nil only when nothing could be attempted: the
// endpoint does not exist (domain.ErrEndpointNotFound) or has no URLs
// (domain.ErrNoDestinations). Delivery failures are reported in the Outcome.
func (e *Engine) Dispatch(ctx context.Context, name string, alert domain.Alert) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "relay.dispatch", trace.WithAttributes(attribute.String("relay.endpoint", name)))
	defer span.End()

	out := Outcome{Endpoint: name}
	cfg := e.config.Get()
	ep, ok := cfg.Endpoint(name)
	if !ok {
		return out, fmt.Errorf("%w: %s", domain.ErrEndpointNotFound, name)
	}
	if !ep.Enabled {
		out.Disabled = true
		e.log.LogSkipped(ctx, name, "disabled")
		return out, nil
	}
	if len(ep.URLs) == 0 {
		return out, fmt.Errorf("%w: %s", domain.ErrNoDestinations, name)
	}
	if ep.Forward == nil {
		return out, fmt.Errorf("%w: %s has no forward_config", domain.ErrConfigInvalid, name)
	}
	span.SetAttributes(
		attribute.String("relay.variant", string(ep.Forward.Kind())),
		attribute.Int("relay.destinations", len(ep.URLs)),
	)

	opts := e.meta
	opts.HashColors = cfg.HashColors
	if robot, isRobot := ep.Forward.(domain.FeishuRobot); isRobot {
		opts.ColorMapping = robot.ColorMapping
		opts.CardTheme = robot.CardTheme
	}
	rc := metadata.Extract(alert, opts)

	if ep.Filter != nil {
		allowed, err := ep.Filter.Allow(ctx, rc)
		telemetry.RecordFilterDecision(span, allowed, err)
		if err != nil {
			e.log.logger.WarnContext(ctx, "endpoint filter failed", "endpoint", name, "error", err)
		}
		if !allowed {
			out.Filtered = true
			telemetry.RecordFiltered(ctx, name)
			e.log.LogSkipped(ctx, name, "filtered")
			return out, nil
		}
	}

	switch v := ep.Forward.(type) {
	case domain.FeishuRobot:
		body, err := json.Marshal(e.feishuMessage(ctx, cfg, ep, v, alert, rc))
		if err != nil {
			return out, fmt.Errorf("%w: encode message: %v", domain.ErrRenderFailed, err)
		}
		out.Failures = e.fanOut(ctx, ep, body)
	case domain.WecomWebhook, domain.DingtalkWebhook:
		out.Failures = e.notImplemented(ctx, ep)
	default:
		return out, fmt.Errorf("unsupported forwarding variant %T", v)
	}
	out.Attempted = len(ep.URLs)

	telemetry.RecordDispatchOutcome(span, out.Attempted, len(out.Failures))
	return out, nil
}

func (e *Engine) feishuMessage(ctx context.Context, cfg *domain.RoutingConfig, ep domain.Endpoint, v domain.FeishuRobot, alert domain.Alert, rc metadata.RenderContext) feishu.Message {
	switch v.Format {
	case domain.FormatText:
		return feishu.NewTextMessage(alert)
	case domain.FormatPost:
		return feishu.NewPostMessage(alert)
	}

	res := e.renderer.Render(cfg.TemplateDir, rc)
	if res.FellBack() {
		telemetry.RecordRenderFallback(ctx, ep.Name, string(res.Tier))
		e.log.LogRenderFallback(ctx, ep.Name, string(res.Tier))
	}
	return res.Message
}

// fanOut sends body to every URL, returning failures in URL order.
func (e *Engine) fanOut(ctx context.Context, ep domain.Endpoint, body []byte) []string {
	results := make([]error, len(ep.URLs))

	limit := min(max(ep.Runtime.Concurrency, 1), len(ep.URLs))
	if limit == 1 {
		for i, url := range ep.URLs {
			results[i] = e.deliver(ctx, ep, url, body)
		}
	} else {
		sem := make(chan struct{}, limit)
		var wg sync.WaitGroup
		for i, url := range ep.URLs {
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				results[i] = e.deliver(ctx, ep, url, body)
			}()
		}
		wg.Wait()
	}

	var failures []string
	for i, err := range results {
		if err != nil {
			failures = append(failures, failure(ep.Name, ep.URLs[i], err))
		}
	}
	return failures
}

func (e *Engine) notImplemented(ctx context.Context, ep domain.Endpoint) []string {
	failures := make([]string, 0, len(ep.URLs))
	for _, url := range ep.URLs {
		err := fmt.Errorf("%w: %s", domain.ErrNotImplemented, ep.Forward.Kind())
		telemetry.RecordDelivery(ctx, telemetry.DeliveryMetrics{
			Endpoint: ep.Name,
			Variant:  string(ep.Forward.Kind()),
			Outcome:  telemetry.DeliveryNotImplemented,
		})
		e.log.LogDelivery(ctx, ep.Name, url, 0, 0, err)
		failures = append(failures, failure(ep.Name, url, err))
	}
	return failures
}

// deliver POSTs body to url, retrying transient failures.
func (e *Engine) deliver(ctx context.Context, ep domain.Endpoint, url string, body []byte) error {
	ctx, span := e.tracer.Start(ctx, "relay.deliver", trace.WithAttributes(
		attribute.String("relay.endpoint", ep.Name),
		attribute.String("relay.url", telemetry.URLPreview(url)),
	))
	defer span.End()

	policy := governance.NewRetryPolicy(governance.RetryConfig{
		MaxRetries:        ep.Runtime.Retry,
		InitialBackoff:    ep.Runtime.RetryBackoff,
		MaxBackoff:        maxBackoff,
		BackoffMultiplier: 2,
		Jitter:            true,
	})

	timeout := ep.Runtime.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}

	start := time.Now()
	res, err := policy.ExecuteWithRetry(ctx, func(ctx context.Context, _ int) (int, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return e.post(attemptCtx, url, body)
	})
	duration := time.Since(start)

	outcome := telemetry.DeliverySuccess
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = telemetry.DeliveryTimeout
	case err != nil:
		outcome = telemetry.DeliveryFailed
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Int("relay.attempts", res.Attempts), attribute.Int("http.response.status_code", res.StatusCode))

	telemetry.RecordDelivery(ctx, telemetry.DeliveryMetrics{
		Endpoint: ep.Name,
		Variant:  string(ep.Forward.Kind()),
		Outcome:  outcome,
		Duration: duration,
		Retries:  max(res.Attempts-1, 0),
	})
	e.log.LogDelivery(ctx, ep.Name, url, res.Attempts, duration, err)
	if err != nil {
		return &deliveryError{err: err}
	}
	return nil
}

// deliveryError marks err as domain.ErrDeliveryFailed. The message is unchanged.
type deliveryError struct{ err error }

func (e *deliveryError) Error() string   { return e.err.Error() }
func (e *deliveryError) Unwrap() []error { return []error{domain.ErrDeliveryFailed, e.err} }

// botResponse is the body Feishu returns, with HTTP 200, for most bot errors.
type botResponse struct {
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Engine) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, governance.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("HTTP %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	var bot botResponse
	if json.Unmarshal(respBody, &bot) == nil && bot.Code != nil && *bot.Code != 0 {
		return resp.StatusCode, governance.Permanent(fmt.Errorf("feishu error %d: %s", *bot.Code, bot.Msg))
	}
	return resp.StatusCode, nil
}

func failure(endpoint, url string, err error) string {
	return fmt.Sprintf("%s(%s): %v", endpoint, url, err)
}
