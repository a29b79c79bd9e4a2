package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/polisai/polis-relay/pkg/domain"
)

// Environment variables consulted after a file is parsed.
const (
	EnvPort        = "PORT"
	EnvHost        = "HOST"
	EnvTemplateDir = "TEMPLATE_DIR"
	EnvHashColors  = "RELAY_HASH_COLORS"
	EnvWebhookURL  = "FEISHU_WEBHOOK_URL"

	// EnvWebhookName is the endpoint upserted from EnvWebhookURL.
	EnvWebhookName = "env_webhook"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) string

// ApplyEnvOverrides applies environment overrides to f. Applying it more than
// once yields the same document: the webhook from FEISHU_WEBHOOK_URL replaces
// any entry with the same name instead of being appended again.
func ApplyEnvOverrides(f *File, getenv LookupFunc) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if val := strings.TrimSpace(getenv(EnvPort)); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			f.ServerPort = &port
		}
	}
	if val := strings.TrimSpace(getenv(EnvHost)); val != "" {
		f.ServerHost = val
	}
	if val := strings.TrimSpace(getenv(EnvTemplateDir)); val != "" {
		f.TemplateDir = val
	}
	if val := strings.TrimSpace(getenv(EnvHashColors)); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			f.HashColors = &enabled
		}
	}

	if val := strings.TrimSpace(getenv(EnvWebhookURL)); val != "" {
		upsertWebhook(f, WebhookSpec{
			Name:    EnvWebhookName,
			URL:     []string{val},
			Forward: ForwardSpec{Type: string(domain.ForwardFeishuRobot)},
		})
	}
}

func upsertWebhook(f *File, spec WebhookSpec) {
	for i := range f.Webhooks {
		if strings.TrimSpace(f.Webhooks[i].Name) == spec.Name {
			f.Webhooks[i] = spec
			return
		}
	}
	f.Webhooks = append(f.Webhooks, spec)
}
