// Package config loads the relay routing configuration from YAML, TOML or
// JSON files, applies environment overrides and converts the result into an
// immutable domain.RoutingConfig.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration document.
type File struct {
	ServerPort  *int          `yaml:"server_port,omitempty" json:"server_port,omitempty" toml:"server_port,omitempty"`
	ServerHost  string        `yaml:"server_host,omitempty" json:"server_host,omitempty" toml:"server_host,omitempty"`
	TemplateDir string        `yaml:"template_dir,omitempty" json:"template_dir,omitempty" toml:"template_dir,omitempty"`
	HashColors  *bool         `yaml:"hash_colors,omitempty" json:"hash_colors,omitempty" toml:"hash_colors,omitempty"`
	Webhooks    []WebhookSpec `yaml:"webhooks" json:"webhooks" toml:"webhooks"`
}

// WebhookSpec configures one named endpoint.
type WebhookSpec struct {
	Name    string      `yaml:"name" json:"name" toml:"name"`
	URL     []string    `yaml:"url" json:"url" toml:"url"`
	Enabled *bool       `yaml:"enabled,omitempty" json:"enabled,omitempty" toml:"enabled,omitempty"`
	Forward ForwardSpec `yaml:"forward_config" json:"forward_config" toml:"forward_config"`
	Runtime RuntimeSpec `yaml:"config,omitempty" json:"config,omitempty" toml:"config,omitempty"`
	// Filter is an inline Rego module defining data.relay.filter.allow.
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty" toml:"filter,omitempty"`
	// FilterPosture is fail-open (default) or fail-closed.
	FilterPosture string `yaml:"filter_posture,omitempty" json:"filter_posture,omitempty" toml:"filter_posture,omitempty"`
}

// ForwardSpec is the tagged forwarding configuration. Type selects which of
// the remaining fields apply.
type ForwardSpec struct {
	Type string `yaml:"type" json:"type" toml:"type"`

	// feishu_robot_msg
	CardTheme    string            `yaml:"card_theme,omitempty" json:"card_theme,omitempty" toml:"card_theme,omitempty"`
	ColorMapping map[string]string `yaml:"color_mapping,omitempty" json:"color_mapping,omitempty" toml:"color_mapping,omitempty"`
	Format       string            `yaml:"format,omitempty" json:"format,omitempty" toml:"format,omitempty"`

	// wecom_webhook
	CorpID     string `yaml:"corp_id,omitempty" json:"corp_id,omitempty" toml:"corp_id,omitempty"`
	CorpSecret string `yaml:"corp_secret,omitempty" json:"corp_secret,omitempty" toml:"corp_secret,omitempty"`
	AgentID    string `yaml:"agent_id,omitempty" json:"agent_id,omitempty" toml:"agent_id,omitempty"`
	ToUser     string `yaml:"to_user,omitempty" json:"to_user,omitempty" toml:"to_user,omitempty"`

	// dingtalk_webhook
	AccessToken string   `yaml:"access_token,omitempty" json:"access_token,omitempty" toml:"access_token,omitempty"`
	Secret      string   `yaml:"secret,omitempty" json:"secret,omitempty" toml:"secret,omitempty"`
	AtMobiles   []string `yaml:"at_mobiles,omitempty" json:"at_mobiles,omitempty" toml:"at_mobiles,omitempty"`
}

// RuntimeSpec holds per-endpoint delivery settings. Nil fields take defaults.
type RuntimeSpec struct {
	// NPar < 1 selects sequential delivery.
	NPar *int `yaml:"n_par,omitempty" json:"n_par,omitempty" toml:"n_par,omitempty"`
	// Timeout is in seconds.
	Timeout      *int   `yaml:"timeout,omitempty" json:"timeout,omitempty" toml:"timeout,omitempty"`
	Retry        *int   `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
	RetryBackoff string `yaml:"retry_backoff,omitempty" json:"retry_backoff,omitempty" toml:"retry_backoff,omitempty"`
}

// Decode parses data according to the extension of path. Unknown extensions
// are tried as YAML and then JSON.
func Decode(path string, data []byte) (*File, error) {
	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse yaml %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse toml %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse json %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			f = File{}
			if jsonErr := json.Unmarshal(data, &f); jsonErr != nil {
				return nil, fmt.Errorf("parse %s: %v", path, err)
			}
		}
	}
	return &f, nil
}
