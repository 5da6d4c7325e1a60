package openclaw

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// HostBinding maps a channel/peer pattern to an agent in the host config.
type HostBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies which messages a host binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"`
	AccountID string       `json:"accountId,omitempty"`
	Peer      *BindingPeer `json:"peer,omitempty"`
}

// BindingPeer is a specific chat target.
type BindingPeer struct {
	Kind string `json:"kind"` // "channel" or "user"
	ID   string `json:"id"`
}

// HostAgent is one entry of the host's agent list.
type HostAgent struct {
	ID      string         `json:"id"`
	Name    string         `json:"name,omitempty"`
	Model   string         `json:"model,omitempty"`
	Sandbox *SandboxConfig `json:"sandbox,omitempty"`
}

// SandboxConfig is the host agent sandbox setting.
type SandboxConfig struct {
	Mode string `json:"mode"`
}

// HostAgents holds the agent list and defaults.
type HostAgents struct {
	List     []HostAgent   `json:"list,omitempty"`
	Defaults AgentDefaults `json:"defaults,omitempty"`
}

// AgentDefaults carries the default model selection.
type AgentDefaults struct {
	Model ModelDefaults `json:"model,omitempty"`
}

// ModelDefaults names the primary model.
type ModelDefaults struct {
	Primary string `json:"primary,omitempty"`
}

// SlackChannelSettings is the per-channel flag block under an account.
type SlackChannelSettings struct {
	RequireMention bool `json:"requireMention"`
}

// SlackAccount is one Slack workspace account in the host config.
type SlackAccount struct {
	SigningSecret string                          `json:"signingSecret,omitempty"`
	Mode          string                          `json:"mode,omitempty"` // "http" or "socket"
	WebhookPath   string                          `json:"webhookPath,omitempty"`
	Channels      map[string]SlackChannelSettings `json:"channels,omitempty"`
}

// SlackChannelConfig is channels.slack in the host config.
type SlackChannelConfig struct {
	SigningSecret string                  `json:"signingSecret,omitempty"`
	Accounts      map[string]SlackAccount `json:"accounts,omitempty"`
}

// HostChannels holds the channel blocks the plugin touches.
type HostChannels struct {
	Slack SlackChannelConfig `json:"slack,omitempty"`
}

// HostConfig is the parsed view of the OpenClaw config file. Top-level keys
// the plugin does not understand are preserved verbatim across rewrite.
type HostConfig struct {
	Bindings []HostBinding `json:"bindings,omitempty"`
	Agents   HostAgents    `json:"agents,omitempty"`
	Channels HostChannels  `json:"channels,omitempty"`

	extra map[string]json.RawMessage
}

// LoadHostConfig reads and parses the host config file. A missing file
// yields an empty config.
func LoadHostConfig(path string) (*HostConfig, error) {
	cfg := &HostConfig{extra: make(map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read host config: %w", err)
	}
	return ParseHostConfig(data)
}

// ParseHostConfig parses host config bytes (JSON5 accepted).
func ParseHostConfig(data []byte) (*HostConfig, error) {
	raw := make(map[string]json.RawMessage)
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse host config: %w", err)
	}
	cfg := &HostConfig{extra: make(map[string]json.RawMessage)}
	for k, v := range raw {
		switch k {
		case "bindings":
			if err := json5.Unmarshal(v, &cfg.Bindings); err != nil {
				return nil, fmt.Errorf("parse host bindings: %w", err)
			}
		case "agents":
			if err := json5.Unmarshal(v, &cfg.Agents); err != nil {
				return nil, fmt.Errorf("parse host agents: %w", err)
			}
		case "channels":
			if err := json5.Unmarshal(v, &cfg.Channels); err != nil {
				return nil, fmt.Errorf("parse host channels: %w", err)
			}
		default:
			// v is a slice of the JSON5 source, which the JSON encoder
			// would reject on rewrite. Normalize it to plain JSON here.
			var val any
			if err := json5.Unmarshal(v, &val); err != nil {
				return nil, fmt.Errorf("parse host config key %q: %w", k, err)
			}
			norm, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("normalize host config key %q: %w", k, err)
			}
			cfg.extra[k] = norm
		}
	}
	return cfg, nil
}

// Serialize renders the config as indented JSON with deterministic key order.
func (c *HostConfig) Serialize() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.extra)+3)
	for k, v := range c.extra {
		out[k] = v
	}
	put := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = data
		return nil
	}
	if len(c.Bindings) > 0 {
		if err := put("bindings", c.Bindings); err != nil {
			return nil, err
		}
	}
	if err := put("agents", c.Agents); err != nil {
		return nil, err
	}
	if err := put("channels", c.Channels); err != nil {
		return nil, err
	}
	return json.MarshalIndent(out, "", "  ")
}

// SlackWriteScope is a Talk binding's parsed Slack selector.
type SlackWriteScope struct {
	Kind      string // "channel" or "user"
	ID        string // canonical uppercase peer id
	AccountID string
}

// ParsePeerScope parses "channel:<ID>" / "user:<ID>" selectors. Wildcards
// and bare names are not peers.
func ParsePeerScope(scope string) (kind, id string, ok bool) {
	s := strings.TrimSpace(scope)
	for _, k := range []string{"channel", "user"} {
		if rest, found := strings.CutPrefix(strings.ToLower(s), k+":"); found {
			rest = strings.TrimSpace(rest)
			if rest == "" || rest == "*" {
				return "", "", false
			}
			// Canonical peer id is uppercased (Slack ids are upper-case).
			return k, strings.ToUpper(rest), true
		}
	}
	return "", "", false
}
