// Package config holds the plugin's own configuration: where Talks live,
// how to reach the OpenClaw host, and the Slack credentials the gateway
// needs. The host's config file is a separate document owned by
// internal/openclaw.
package config

import (
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawtalk/internal/telemetry"
)

// Config is the full plugin configuration.
type Config struct {
	DataDir   string           `json:"dataDir,omitempty"`
	Gateway   GatewayConfig    `json:"gateway,omitempty"`
	Host      HostConfig       `json:"host,omitempty"`
	Slack     SlackConfig      `json:"slack,omitempty"`
	Jobs      JobsConfig       `json:"jobs,omitempty"`
	Affinity  AffinityConfig   `json:"affinity,omitempty"`
	Telemetry telemetry.Config `json:"telemetry,omitempty"`
}

// GatewayConfig is the local HTTP listener.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// HostConfig points at the OpenClaw host this plugin fronts.
type HostConfig struct {
	BaseURL      string `json:"baseUrl,omitempty"`      // chat API, e.g. "http://127.0.0.1:3000"
	ConfigPath   string `json:"configPath,omitempty"`   // the host's own config file
	WebhookURL   string `json:"webhookUrl,omitempty"`   // forward target override
	DefaultModel string `json:"defaultModel,omitempty"` // model for managed agents
}

// SlackConfig carries plugin-side Slack credentials. Signing secrets for
// verification come from the host config; these are the bot tokens used
// for outbound delivery, keyed by account id.
type SlackConfig struct {
	BotTokens map[string]string `json:"botTokens,omitempty"`
}

// JobsConfig tunes the scheduler and dispatcher.
type JobsConfig struct {
	EventDebounceMillis int64 `json:"eventDebounceMillis,omitempty"`
	BaseTimeoutMillis   int64 `json:"baseTimeoutMillis,omitempty"`
	MinTimeoutMillis    int64 `json:"minTimeoutMillis,omitempty"`
}

// AffinityConfig tunes tool-affinity learning. Zero values mean defaults;
// env vars override file values.
type AffinityConfig struct {
	Disabled        bool    `json:"disabled,omitempty"`
	Window          int     `json:"window,omitempty"`
	Warmup          int     `json:"warmup,omitempty"`
	ExplorationRate int     `json:"explorationRate,omitempty"`
	MinThreshold    float64 `json:"minThreshold,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".clawtalk"),
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Host: HostConfig{
			BaseURL:      "http://127.0.0.1:3000",
			ConfigPath:   filepath.Join(home, ".openclaw", "openclaw.json"),
			DefaultModel: "claude-sonnet-4-5",
		},
		Jobs: JobsConfig{
			EventDebounceMillis: 30_000,
			BaseTimeoutMillis:   240_000,
			MinTimeoutMillis:    120_000,
		},
	}
}
