package openclaw

import (
	"encoding/json"
	"testing"
)

const sampleHostConfig = `{
  // host config with comments and trailing commas (JSON5)
  bindings: [
    {agentId: "assistant", match: {channel: "slack", peer: {kind: "channel", id: "C777"}}},
    {agentId: "tg-bot", match: {channel: "telegram"}},
  ],
  agents: {
    list: [{id: "assistant", name: "Assistant", model: "claude-sonnet-4-5"}],
    defaults: {model: {primary: "claude-sonnet-4-5"}},
  },
  channels: {
    slack: {
      signingSecret: "base-secret",
      accounts: {
        default: {mode: "http"},
        ops: {mode: "socket"},
      },
    },
  },
  gateway: {port: 3000},
}`

func TestParseHostConfig_JSON5AndExtras(t *testing.T) {
	cfg, err := ParseHostConfig([]byte(sampleHostConfig))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Bindings) != 2 {
		t.Fatalf("bindings = %d", len(cfg.Bindings))
	}
	if cfg.Bindings[0].Match.Peer == nil || cfg.Bindings[0].Match.Peer.ID != "C777" {
		t.Errorf("peer = %+v", cfg.Bindings[0].Match.Peer)
	}
	if cfg.Channels.Slack.SigningSecret != "base-secret" {
		t.Errorf("signing secret = %q", cfg.Channels.Slack.SigningSecret)
	}

	// Unknown top-level keys survive a rewrite, normalized to plain JSON.
	out, err := cfg.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	var round map[string]any
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("serialized config is not valid JSON: %v", err)
	}
	gw, ok := round["gateway"].(map[string]any)
	if !ok || gw["port"] != float64(3000) {
		t.Errorf("gateway block lost on serialize: %v", round["gateway"])
	}

	// Serialize is deterministic: the same config gives identical bytes.
	again, _ := cfg.Serialize()
	if string(out) != string(again) {
		t.Error("serialize is not deterministic")
	}
}

func TestLoadHostConfig_Missing(t *testing.T) {
	cfg, err := LoadHostConfig(t.TempDir() + "/nope.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Bindings) != 0 || len(cfg.Agents.List) != 0 {
		t.Errorf("missing file should give empty config: %+v", cfg)
	}
}
