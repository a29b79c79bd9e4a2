package config

import (
	"fmt"
	"os"
)

// ExampleFile is the file written by the example-config command.
const ExampleFile = "config.example.yaml"

// ExampleYAML is an annotated sample configuration.
const ExampleYAML = `# GlitchTip to Feishu relay configuration

server_host: 127.0.0.1
server_port: 7876
# template_dir: ./templates   # directory holding feishu_card.tmpl
# hash_colors: true           # false pins project/environment/host tag colors

webhooks:
  - name: main_feishu
    url:
      - https://open.feishu.cn/open-apis/bot/v2/hook/YOUR_WEBHOOK_URL_HERE
    forward_config:
      type: feishu_robot_msg
      card_theme: red
      # format: card          # card, text or post
      # color_mapping:
      #   production: red
    config:
      n_par: 2
      timeout: 10
      retry: 3
      retry_backoff: 200ms

  - name: production_only
    url:
      - https://open.feishu.cn/open-apis/bot/v2/hook/ONCALL_WEBHOOK_URL_HERE
    forward_config:
      type: feishu_robot_msg
    filter: |
      package relay.filter

      default allow := false

      allow if input.environment_name == "production"

  - name: backup_wecom
    enabled: false
    url:
      - https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=YOUR_KEY
    forward_config:
      type: wecom_webhook
      corp_id: your_corp_id
      corp_secret: your_corp_secret
`

// WriteExample writes ExampleYAML to path.
func WriteExample(path string) error {
	if path == "" {
		path = ExampleFile
	}
	if err := os.WriteFile(path, []byte(ExampleYAML), 0o600); err != nil {
		return fmt.Errorf("write example config: %w", err)
	}
	return nil
}
