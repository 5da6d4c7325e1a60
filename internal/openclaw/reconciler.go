package openclaw

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// desiredRow is one binding the reconciler wants present in the host config.
type desiredRow struct {
	binding        HostBinding
	talk           *talks.Talk
	requireMention bool
}

// ReconcileResult summarizes what the reconciler did.
type ReconcileResult struct {
	Written       bool
	DesiredRows   int
	ManagedAgents int
	RetainedRows  int
	DroppedRows   int
}

// Reconcile materializes every Talk's Slack write-bindings into the host
// config file: managed bindings are prepended, stale managed rows dropped,
// the managed agent list merged, and per-channel requireMention flags set
// from the matching Behavior. The write is temp-then-rename and skipped when
// nothing changed.
func Reconcile(store *talks.Store, configPath, defaultModel string) (*ReconcileResult, error) {
	cfg, err := LoadHostConfig(configPath)
	if err != nil {
		return nil, err
	}
	before, err := cfg.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize host config: %w", err)
	}

	desired := desiredRows(store.List())
	res := &ReconcileResult{DesiredRows: len(desired)}

	desiredKeys := make(map[string]bool, len(desired))
	for _, d := range desired {
		desiredKeys[peerKey(d.binding.Match)] = true
	}

	// Retain foreign rows: non-Slack rows, and Slack rows that neither
	// claim a desired peer nor belong to a managed agent.
	var retained []HostBinding
	for _, row := range cfg.Bindings {
		if !strings.EqualFold(row.Match.Channel, "slack") {
			retained = append(retained, row)
			continue
		}
		if desiredKeys[peerKey(row.Match)] || IsManagedAgentID(row.AgentID) {
			res.DroppedRows++
			continue
		}
		retained = append(retained, row)
	}
	res.RetainedRows = len(retained)

	rows := make([]HostBinding, 0, len(desired)+len(retained))
	for _, d := range desired {
		rows = append(rows, d.binding)
	}
	cfg.Bindings = append(rows, retained...)

	mergeManagedAgents(cfg, desired, defaultModel, res)
	applyMentionFlags(cfg, desired)
	propagateSigningSecrets(cfg)

	after, err := cfg.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize host config: %w", err)
	}
	if bytes.Equal(before, after) {
		slog.Info("reconcile.unchanged", "path", configPath, "desired", res.DesiredRows)
		return res, nil
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(configPath)+".*.tmp")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(after); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	res.Written = true
	slog.Info("reconcile.written", "path", configPath,
		"desired", res.DesiredRows, "retained", res.RetainedRows, "agents", res.ManagedAgents)
	return res, nil
}

// desiredRows computes the managed binding set. Duplicate (platform, scope,
// accountId) bindings within a Talk collapse to one row.
func desiredRows(all []*talks.Talk) []desiredRow {
	var out []desiredRow
	seen := make(map[string]bool)
	for _, t := range all {
		agentID := ManagedAgentID(t.ID)
		for i := range t.PlatformBindings {
			b := t.PlatformBindings[i]
			if !strings.EqualFold(b.Platform, "slack") || !b.Permission.CanWrite() {
				continue
			}
			kind, peerID, ok := ParsePeerScope(b.Scope)
			if !ok {
				continue
			}
			key := strings.ToLower(b.Platform) + "|" + talks.NormalizeScope(b.Scope) + "|" + strings.ToLower(b.AccountID)
			if seen[key] {
				continue
			}
			seen[key] = true

			requireMention := false
			if bh := t.BehaviorForBinding(b.ID); bh != nil && bh.ResponseMode == talks.RespondMentions {
				requireMention = true
			}
			out = append(out, desiredRow{
				binding: HostBinding{
					AgentID: agentID,
					Match: BindingMatch{
						Channel:   "slack",
						AccountID: b.AccountID,
						Peer:      &BindingPeer{Kind: kind, ID: peerID},
					},
				},
				talk:           t,
				requireMention: requireMention,
			})
		}
	}
	return out
}

func peerKey(m BindingMatch) string {
	if m.Peer == nil {
		return ""
	}
	return strings.ToLower(m.AccountID) + "|" + strings.ToLower(m.Peer.Kind) + "|" + strings.ToLower(m.Peer.ID)
}

// mergeManagedAgents replaces stale managed entries and appends new ones,
// leaving user-created agents alone.
func mergeManagedAgents(cfg *HostConfig, desired []desiredRow, defaultModel string, res *ReconcileResult) {
	managed := make(map[string]HostAgent)
	for _, d := range desired {
		agentID := d.binding.AgentID
		if _, ok := managed[agentID]; ok {
			continue
		}
		name := d.talk.TopicTitle
		if name == "" {
			name = "ClawTalk " + agentID
		}
		model := d.talk.Model
		if model == "" {
			model = defaultModel
		}
		if model == "" {
			model = cfg.Agents.Defaults.Model.Primary
		}
		managed[agentID] = HostAgent{
			ID:      agentID,
			Name:    name,
			Model:   model,
			Sandbox: &SandboxConfig{Mode: "off"},
		}
	}
	res.ManagedAgents = len(managed)

	var list []HostAgent
	for _, a := range cfg.Agents.List {
		if IsManagedAgentID(a.ID) {
			continue // stale managed entry, replaced below
		}
		list = append(list, a)
	}
	for _, d := range desired {
		if a, ok := managed[d.binding.AgentID]; ok {
			list = append(list, a)
			delete(managed, d.binding.AgentID)
		}
	}
	cfg.Agents.List = list
}

// applyMentionFlags sets channels.slack.accounts.<id>.channels.<peer>.requireMention.
func applyMentionFlags(cfg *HostConfig, desired []desiredRow) {
	for _, d := range desired {
		peer := d.binding.Match.Peer
		if peer == nil || peer.Kind != "channel" {
			continue
		}
		account := d.binding.Match.AccountID
		if account == "" {
			account = "default"
		}
		if cfg.Channels.Slack.Accounts == nil {
			cfg.Channels.Slack.Accounts = make(map[string]SlackAccount)
		}
		acct := cfg.Channels.Slack.Accounts[account]
		if acct.Channels == nil {
			acct.Channels = make(map[string]SlackChannelSettings)
		}
		acct.Channels[peer.ID] = SlackChannelSettings{RequireMention: d.requireMention}
		cfg.Channels.Slack.Accounts[account] = acct
	}
}

// propagateSigningSecrets fills missing signing secrets for HTTP-mode
// accounts from env or the base config. Socket-mode accounts are left alone.
func propagateSigningSecrets(cfg *HostConfig) {
	fallback := cfg.Channels.Slack.SigningSecret
	if v := os.Getenv("GATEWAY_SLACK_SIGNING_SECRET"); v != "" {
		fallback = v
	} else if v := os.Getenv("SLACK_SIGNING_SECRET"); fallback == "" && v != "" {
		fallback = v
	}
	if fallback == "" {
		return
	}
	for id, acct := range cfg.Channels.Slack.Accounts {
		if acct.SigningSecret != "" || strings.EqualFold(acct.Mode, "socket") {
			continue
		}
		acct.SigningSecret = fallback
		cfg.Channels.Slack.Accounts[id] = acct
	}
}
