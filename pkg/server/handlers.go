package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/polisai/polis-relay/pkg/dispatch"
	"github.com/polisai/polis-relay/pkg/domain"
	"github.com/polisai/polis-relay/pkg/telemetry"
)

// Response status values of the ingress route.
const (
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusError          = "error"
)

// WebhookResponse is the JSON envelope returned by the ingress route.
type WebhookResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("endpoint")
	ctx := r.Context()

	var alert domain.Alert
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(&alert); err != nil {
		s.respond(w, name, http.StatusBadRequest, WebhookResponse{
			Status:  StatusError,
			Message: fmt.Sprintf("invalid alert payload: %v", err),
		})
		return
	}
	s.logger.InfoContext(ctx, "Received alert", "endpoint", name, "alias", alert.Alias)

	dispatchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.dispatcher.Dispatch(dispatchCtx, name, alert)
	if err != nil {
		status := http.StatusInternalServerError
		if domain.Kind(err) == domain.KindNotFound {
			status = http.StatusNotFound
		}
		s.logger.WarnContext(ctx, "Alert rejected", "endpoint", name, "kind", domain.Kind(err), "error", err)
		s.respond(w, name, status, WebhookResponse{Status: StatusError, Message: err.Error()})
		return
	}

	s.respond(w, name, statusFor(out), responseFor(out))
}

func statusFor(out dispatch.Outcome) int {
	if out.AllFailed() {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func responseFor(out dispatch.Outcome) WebhookResponse {
	switch {
	case out.Disabled:
		return WebhookResponse{Status: StatusSuccess, Message: fmt.Sprintf("Endpoint %s is disabled, alert dropped", out.Endpoint)}
	case out.Filtered:
		return WebhookResponse{Status: StatusSuccess, Message: "Alert dropped by endpoint filter"}
	case out.OK():
		return WebhookResponse{Status: StatusSuccess, Message: "Webhook forwarded successfully"}
	case out.AllFailed():
		return WebhookResponse{Status: StatusError, Message: "All webhooks failed", Errors: out.Failures}
	default:
		return WebhookResponse{Status: StatusPartialSuccess, Message: "Some webhooks failed", Errors: out.Failures}
	}
}

func (s *Server) respond(w http.ResponseWriter, endpoint string, status int, resp WebhookResponse) {
	if _, known := s.store.Get().Endpoint(endpoint); !known {
		endpoint = unknownEndpoint
	}
	s.metrics.RecordAlert(endpoint, resp.Status)
	writeJSON(w, status, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.logger.InfoContext(ctx, "Received configuration reload request")

	res, err := s.store.ForceReload(ctx)
	if err != nil {
		s.metrics.RecordConfigReload("error")
		s.logger.ErrorContext(ctx, "Failed to reload configuration", "error", err)
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Code: reloadFailureCode, Message: err.Error()})
		return
	}

	if res.Changed {
		s.metrics.RecordConfigReload("success")
		s.logger.InfoContext(ctx, "Configuration reloaded",
			"path", res.Metadata.Path,
			"fingerprint", res.Metadata.Fingerprint,
			"endpoints", len(res.Config.Endpoints),
		)
	} else {
		s.metrics.RecordConfigReload("unchanged")
		s.logger.DebugContext(ctx, "Configuration unchanged", "path", res.Metadata.Path)
	}
	w.WriteHeader(http.StatusOK)
}

// ConfigView is the sanitized configuration returned by GET /internal/config.
type ConfigView struct {
	Status          string        `json:"status"`
	ServerHost      string        `json:"server_host"`
	ServerPort      int           `json:"server_port"`
	TemplateDir     string        `json:"template_dir,omitempty"`
	HashColors      bool          `json:"hash_colors"`
	WebhookCount    int           `json:"webhook_count"`
	EnabledWebhooks int           `json:"enabled_webhooks"`
	ConfigFile      string        `json:"config_file,omitempty"`
	Fingerprint     string        `json:"fingerprint,omitempty"`
	LoadedAt        time.Time     `json:"loaded_at,omitzero"`
	Webhooks        []WebhookView `json:"webhooks"`
}

// WebhookView describes one endpoint without exposing its bot tokens.
type WebhookView struct {
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	Type        string   `json:"type"`
	URLPreview  []string `json:"url_preview"`
	Concurrency int      `json:"n_par"`
	Timeout     string   `json:"timeout"`
	Retry       int      `json:"retry"`
	HasSecret   bool     `json:"has_secret"`
	HasFilter   bool     `json:"has_filter"`
}

func (s *Server) handleConfigView(w http.ResponseWriter, _ *http.Request) {
	cfg := s.store.Get()
	if cfg == nil {
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Code: "CONFIG_UNAVAILABLE", Message: "no configuration loaded"})
		return
	}
	writeJSON(w, http.StatusOK, newConfigView(cfg, s.store.Metadata()))
}

func newConfigView(cfg *domain.RoutingConfig, meta domain.ConfigMetadata) ConfigView {
	view := ConfigView{
		Status:          StatusSuccess,
		ServerHost:      cfg.ServerHost,
		ServerPort:      cfg.ServerPort,
		TemplateDir:     cfg.TemplateDir,
		HashColors:      cfg.HashColors,
		WebhookCount:    len(cfg.Endpoints),
		EnabledWebhooks: cfg.EnabledCount(),
		ConfigFile:      meta.Path,
		Fingerprint:     meta.Fingerprint,
		LoadedAt:        meta.LoadedAt,
		Webhooks:        make([]WebhookView, 0, len(cfg.Endpoints)),
	}
	for _, ep := range cfg.Endpoints {
		wv := WebhookView{
			Name:        ep.Name,
			Enabled:     ep.Enabled,
			URLPreview:  make([]string, 0, len(ep.URLs)),
			Concurrency: ep.Runtime.Concurrency,
			Timeout:     ep.Runtime.Timeout.String(),
			Retry:       ep.Runtime.Retry,
			HasFilter:   ep.Filter != nil,
		}
		for _, u := range ep.URLs {
			wv.URLPreview = append(wv.URLPreview, telemetry.URLPreview(u))
		}
		switch v := ep.Forward.(type) {
		case domain.FeishuRobot:
			wv.Type = string(v.Kind())
		case domain.WecomWebhook:
			wv.Type = string(v.Kind())
			wv.HasSecret = v.CorpSecret != ""
		case domain.DingtalkWebhook:
			wv.Type = string(v.Kind())
			wv.HasSecret = v.Secret != ""
		}
		view.Webhooks = append(view.Webhooks, wv)
	}
	return view
}
