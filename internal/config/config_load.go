package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLAWTALK_DATA_DIR", &c.DataDir)
	envStr("CLAWTALK_HOST", &c.Gateway.Host)
	if v := os.Getenv("CLAWTALK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("OPENCLAW_CONFIG_PATH", &c.Host.ConfigPath)
	envStr("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL", &c.Host.WebhookURL)
	if v := os.Getenv("OPENCLAW_HTTP_PORT"); v != "" {
		c.Host.BaseURL = "http://127.0.0.1:" + v
	}

	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		if c.Slack.BotTokens == nil {
			c.Slack.BotTokens = make(map[string]string)
		}
		if c.Slack.BotTokens["default"] == "" {
			c.Slack.BotTokens["default"] = v
		}
	}

	if v := os.Getenv("EVENT_JOB_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			c.Jobs.EventDebounceMillis = ms
		}
	}

	envStr("CLAWTALK_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CLAWTALK_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CLAWTALK_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CLAWTALK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CLAWTALK_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}
