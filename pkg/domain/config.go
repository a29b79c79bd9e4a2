package domain

import (
	"context"
	"time"
)

// Default values applied to endpoints that omit runtime settings.
const (
	DefaultConcurrency  = 1
	DefaultTimeout      = 30 * time.Second
	DefaultRetry        = 3
	DefaultRetryBackoff = 200 * time.Millisecond

	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 7876
)

// RoutingConfig is an immutable snapshot of the relay configuration. A new
// value is built on every load; fields are never mutated once published.
type RoutingConfig struct {
	ServerHost  string
	ServerPort  int
	TemplateDir string
	// HashColors selects hash-derived tag colors. When false, fixed pairs are used.
	HashColors bool
	Endpoints  []Endpoint

	index map[string]int
}

// NewRoutingConfig builds a RoutingConfig and its name index. Later duplicates
// of a name shadow nothing: the first occurrence wins, validation is expected
// to have rejected duplicates already.
func NewRoutingConfig(host string, port int, templateDir string, hashColors bool, endpoints []Endpoint) *RoutingConfig {
	cfg := &RoutingConfig{
		ServerHost:  host,
		ServerPort:  port,
		TemplateDir: templateDir,
		HashColors:  hashColors,
		Endpoints:   endpoints,
		index:       make(map[string]int, len(endpoints)),
	}
	for i, ep := range endpoints {
		if _, exists := cfg.index[ep.Name]; !exists {
			cfg.index[ep.Name] = i
		}
	}
	return cfg
}

// Endpoint returns the endpoint registered under name.
func (c *RoutingConfig) Endpoint(name string) (Endpoint, bool) {
	if c == nil {
		return Endpoint{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return Endpoint{}, false
	}
	return c.Endpoints[i], true
}

// EnabledCount reports how many endpoints are enabled.
func (c *RoutingConfig) EnabledCount() int {
	n := 0
	for _, ep := range c.Endpoints {
		if ep.Enabled {
			n++
		}
	}
	return n
}

// Endpoint is a named routing target.
type Endpoint struct {
	Name    string
	URLs    []string
	Enabled bool
	Forward ForwardingVariant
	Runtime RuntimeConfig
	// Filter is optional; nil means every alert is delivered.
	Filter AlertFilter
}

// RuntimeConfig carries per-endpoint delivery policy.
type RuntimeConfig struct {
	// Concurrency is the maximum number of in-flight sends for one dispatch.
	// Values <= 1 select sequential delivery.
	Concurrency int
	Timeout     time.Duration
	// Retry is the number of additional attempts after the first send.
	Retry        int
	RetryBackoff time.Duration
}

// DefaultRuntimeConfig returns the runtime policy used when none is configured.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Concurrency:  DefaultConcurrency,
		Timeout:      DefaultTimeout,
		Retry:        DefaultRetry,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// ForwardKind names a destination platform.
type ForwardKind string

const (
	ForwardFeishuRobot     ForwardKind = "feishu_robot_msg"
	ForwardWecomWebhook    ForwardKind = "wecom_webhook"
	ForwardDingtalkWebhook ForwardKind = "dingtalk_webhook"
)

// ForwardingVariant is the closed set of destination formats. Only types in
// this package can implement it.
type ForwardingVariant interface {
	Kind() ForwardKind
	isForwardingVariant()
}

// MessageFormat selects the Feishu message envelope produced for an endpoint.
type MessageFormat string

const (
	FormatCard MessageFormat = "card"
	FormatText MessageFormat = "text"
	FormatPost MessageFormat = "post"
)

// FeishuRobot delivers to a Feishu custom bot webhook.
type FeishuRobot struct {
	// CardTheme is the card header template color. Empty selects "red".
	CardTheme string
	// ColorMapping pins a tag value (project, environment or host) to a named
	// palette color instead of the hash-derived one.
	ColorMapping map[string]string
	Format       MessageFormat
}

// WecomWebhook is accepted in configuration but not yet delivered.
type WecomWebhook struct {
	CorpID     string
	CorpSecret string
	AgentID    string
	ToUser     string
}

// DingtalkWebhook is accepted in configuration but not yet delivered.
type DingtalkWebhook struct {
	AccessToken string
	Secret      string
	AtMobiles   []string
}

func (FeishuRobot) Kind() ForwardKind     { return ForwardFeishuRobot }
func (WecomWebhook) Kind() ForwardKind    { return ForwardWecomWebhook }
func (DingtalkWebhook) Kind() ForwardKind { return ForwardDingtalkWebhook }

func (FeishuRobot) isForwardingVariant()     {}
func (WecomWebhook) isForwardingVariant()    {}
func (DingtalkWebhook) isForwardingVariant() {}

// AlertFilter decides whether an alert with the given render attributes should
// be delivered to an endpoint.
type AlertFilter interface {
	Allow(ctx context.Context, attributes map[string]string) (bool, error)
}

// ConfigMetadata describes the file the current configuration came from.
type ConfigMetadata struct {
	// Path is empty when the configuration came from defaults.
	Path        string
	Fingerprint string
	LoadedAt    time.Time
}

// ConfigSource provides read access to the current routing configuration.
type ConfigSource interface {
	Get() *RoutingConfig
}
