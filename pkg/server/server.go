// Package server exposes the relay over HTTP: the alert ingress route, the
// administrative config routes, liveness and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-relay/pkg/config"
	"github.com/polisai/polis-relay/pkg/dispatch"
	"github.com/polisai/polis-relay/pkg/domain"
)

// Route patterns served by Handler.
const (
	RouteIngress    = "POST /i/{endpoint}"
	RouteReload     = "POST /internal/config/reload"
	RouteConfigView = "GET /internal/config"
	RouteHealth     = "GET /healthz"
	RouteMetrics    = "GET /metrics"
	RouteRoot       = "GET /{$}"
)

// DefaultDispatchTimeout bounds one ingress dispatch, retries included.
const DefaultDispatchTimeout = 60 * time.Second

const (
	defaultMaxBody = 1 << 20
	operationName  = "polis.relay"
	// unknownEndpoint labels alerts for names absent from the config, keeping
	// metric cardinality bounded.
	unknownEndpoint   = "unknown"
	reloadFailureCode = "RELOAD_FAILED"
)

// ConfigStore is the configuration handle the admin routes operate on.
// *config.Store implements it.
type ConfigStore interface {
	domain.ConfigSource
	Metadata() domain.ConfigMetadata
	ForceReload(ctx context.Context) (config.ReloadResult, error)
}

// Dispatcher relays one alert to a named endpoint. *dispatch.Engine
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, alert domain.Alert) (dispatch.Outcome, error)
}

// Options configure a Server.
type Options struct {
	Store      ConfigStore
	Dispatcher Dispatcher
	Logger     *slog.Logger
	// Metrics defaults to a fresh registry.
	Metrics *Metrics
	// MaxBodyBytes bounds inbound alert bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
	// DispatchTimeout bounds how long an ingress request waits for delivery.
	// Destinations still pending at the deadline are reported as failures.
	// Defaults to DefaultDispatchTimeout.
	DispatchTimeout time.Duration
}

// Server routes HTTP requests to the relay components.
type Server struct {
	store      ConfigStore
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *Metrics
	maxBody    int64
	timeout    time.Duration
}

// New builds a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Server{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		logger:     logger,
		metrics:    metrics,
		maxBody:    maxBody,
		timeout:    timeout,
	}
}

// Metrics returns the server's Prometheus metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the instrumented HTTP handler for every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(RouteIngress, s.handleIngress)
	mux.HandleFunc(RouteReload, s.handleReload)
	mux.HandleFunc(RouteConfigView, s.handleConfigView)
	mux.HandleFunc(RouteHealth, handleHealth)
	mux.HandleFunc(RouteRoot, handleRoot)
	mux.Handle(RouteMetrics, s.metrics.Handler())

	return otelhttp.NewHandler(s.metrics.Middleware(mux), operationName)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
