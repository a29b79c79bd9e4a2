package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/polisai/polis-relay/pkg/domain"
	"github.com/polisai/polis-relay/pkg/policy"
)

// ToDomain validates f and converts it to a routing snapshot. Rego filters
// are compiled here.
func (f *File) ToDomain(ctx context.Context) (*domain.RoutingConfig, error) {
	host := strings.TrimSpace(f.ServerHost)
	if host == "" {
		host = domain.DefaultServerHost
	}
	port := domain.DefaultServerPort
	if f.ServerPort != nil {
		port = *f.ServerPort
	}
	if port < 1 || port > 65535 {
		return nil, invalid("server_port %d out of range", port)
	}
	hashColors := true
	if f.HashColors != nil {
		hashColors = *f.HashColors
	}

	seen := make(map[string]struct{}, len(f.Webhooks))
	endpoints := make([]domain.Endpoint, 0, len(f.Webhooks))
	for i, spec := range f.Webhooks {
		ep, err := spec.ToDomain(ctx)
		if err != nil {
			return nil, fmt.Errorf("webhooks[%d]: %w", i, err)
		}
		if _, dup := seen[ep.Name]; dup {
			return nil, invalid("duplicate webhook name %q", ep.Name)
		}
		seen[ep.Name] = struct{}{}
		endpoints = append(endpoints, ep)
	}

	return domain.NewRoutingConfig(host, port, strings.TrimSpace(f.TemplateDir), hashColors, endpoints), nil
}

// ToDomain converts one webhook entry.
func (s WebhookSpec) ToDomain(ctx context.Context) (domain.Endpoint, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return domain.Endpoint{}, invalid("webhook name is required")
	}

	forward, err := s.Forward.ToDomain()
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("webhook %s: %w", name, err)
	}
	runtime, err := s.Runtime.ToDomain()
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("webhook %s: %w", name, err)
	}

	ep := domain.Endpoint{
		Name:    name,
		URLs:    compactURLs(s.URL),
		Enabled: s.Enabled == nil || *s.Enabled,
		Forward: forward,
		Runtime: runtime,
	}

	if strings.TrimSpace(s.Filter) != "" {
		mode, err := policy.ParseMode(s.FilterPosture)
		if err != nil {
			return domain.Endpoint{}, fmt.Errorf("webhook %s: %w: %v", name, domain.ErrConfigInvalid, err)
		}
		filter, err := policy.NewFilter(ctx, s.Filter, mode)
		if err != nil {
			return domain.Endpoint{}, fmt.Errorf("webhook %s: %w: %v", name, domain.ErrConfigInvalid, err)
		}
		ep.Filter = filter
	}
	return ep, nil
}

// ToDomain resolves the forwarding variant named by Type.
func (s ForwardSpec) ToDomain() (domain.ForwardingVariant, error) {
	switch domain.ForwardKind(strings.TrimSpace(s.Type)) {
	case domain.ForwardFeishuRobot:
		format := domain.MessageFormat(strings.ToLower(strings.TrimSpace(s.Format)))
		switch format {
		case "":
			format = domain.FormatCard
		case domain.FormatCard, domain.FormatText, domain.FormatPost:
		default:
			return nil, invalid("unknown feishu format %q", s.Format)
		}
		return domain.FeishuRobot{
			CardTheme:    strings.TrimSpace(s.CardTheme),
			ColorMapping: s.ColorMapping,
			Format:       format,
		}, nil
	case domain.ForwardWecomWebhook:
		return domain.WecomWebhook{
			CorpID:     s.CorpID,
			CorpSecret: s.CorpSecret,
			AgentID:    s.AgentID,
			ToUser:     s.ToUser,
		}, nil
	case domain.ForwardDingtalkWebhook:
		return domain.DingtalkWebhook{
			AccessToken: s.AccessToken,
			Secret:      s.Secret,
			AtMobiles:   s.AtMobiles,
		}, nil
	case "":
		return nil, invalid("forward_config.type is required")
	default:
		return nil, invalid("unknown forward_config.type %q", s.Type)
	}
}

// ToDomain applies defaults to unset runtime fields.
func (s RuntimeSpec) ToDomain() (domain.RuntimeConfig, error) {
	rc := domain.DefaultRuntimeConfig()
	if s.NPar != nil {
		rc.Concurrency = *s.NPar
		if rc.Concurrency < 1 {
			rc.Concurrency = 1
		}
	}
	if s.Timeout != nil {
		if *s.Timeout < 0 {
			return rc, invalid("timeout must not be negative")
		}
		if *s.Timeout > 0 {
			rc.Timeout = time.Duration(*s.Timeout) * time.Second
		}
	}
	if s.Retry != nil {
		if *s.Retry < 0 {
			return rc, invalid("retry must not be negative")
		}
		rc.Retry = *s.Retry
	}
	if s.RetryBackoff != "" {
		d, err := time.ParseDuration(s.RetryBackoff)
		if err != nil {
			return rc, invalid("retry_backoff: %v", err)
		}
		if d < 0 {
			return rc, invalid("retry_backoff must not be negative")
		}
		rc.RetryBackoff = d
	}
	return rc, nil
}

func compactURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// IsInvalid reports whether err came from validation rather than I/O or parsing.
func IsInvalid(err error) bool {
	return errors.Is(err, domain.ErrConfigInvalid)
}
