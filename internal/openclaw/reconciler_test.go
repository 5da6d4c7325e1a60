package openclaw

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

func reconcileFixture(t *testing.T) (*talks.Store, *talks.Talk, string) {
	t.Helper()
	store, err := talks.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tk, err := store.Create("claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	bindings := []talks.Binding{
		{ID: "b1", Platform: "slack", Scope: "channel:C123", Permission: talks.PermReadWrite},
		{ID: "b2", Platform: "slack", Scope: "channel:C900", Permission: talks.PermRead},
		{ID: "b3", Platform: "slack", Scope: "slack:*", Permission: talks.PermReadWrite},
	}
	behaviors := []talks.Behavior{{ID: "h1", PlatformBindingID: "b1", ResponseMode: talks.RespondMentions}}
	tk2, err := store.Update(tk.ID, talks.Patch{PlatformBindings: &bindings, PlatformBehaviors: &behaviors}, "test")
	if err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(t.TempDir(), "openclaw.json")
	return store, tk2, cfgPath
}

func TestReconcile_MaterializesWriteBindings(t *testing.T) {
	store, tk, cfgPath := reconcileFixture(t)

	res, err := Reconcile(store, cfgPath, "claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Written {
		t.Fatal("nothing written")
	}
	// Only b1 materializes: b2 is read-only, b3 is a wildcard (no peer).
	if res.DesiredRows != 1 {
		t.Fatalf("desired rows = %d, want 1", res.DesiredRows)
	}

	cfg, err := LoadHostConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	agentID := ManagedAgentID(tk.ID)
	if len(cfg.Bindings) != 1 || cfg.Bindings[0].AgentID != agentID {
		t.Fatalf("bindings = %+v", cfg.Bindings)
	}
	peer := cfg.Bindings[0].Match.Peer
	if peer == nil || peer.Kind != "channel" || peer.ID != "C123" {
		t.Errorf("peer = %+v", peer)
	}

	if len(cfg.Agents.List) != 1 {
		t.Fatalf("agents = %+v", cfg.Agents.List)
	}
	agent := cfg.Agents.List[0]
	if agent.ID != agentID || agent.Model != "claude-sonnet-4-5" {
		t.Errorf("agent = %+v", agent)
	}
	if agent.Sandbox == nil || agent.Sandbox.Mode != "off" {
		t.Errorf("managed agent sandbox = %+v", agent.Sandbox)
	}

	// The mentions behavior propagates to requireMention.
	acct := cfg.Channels.Slack.Accounts["default"]
	if !acct.Channels["C123"].RequireMention {
		t.Error("requireMention not set from behavior")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store, _, cfgPath := reconcileFixture(t)

	if _, err := Reconcile(store, cfgPath, "m"); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(cfgPath)

	res, err := Reconcile(store, cfgPath, "m")
	if err != nil {
		t.Fatal(err)
	}
	if res.Written {
		t.Error("second reconcile rewrote an unchanged config")
	}
	second, _ := os.ReadFile(cfgPath)
	if string(first) != string(second) {
		t.Error("config bytes changed across idempotent reconcile")
	}
}

func TestReconcile_PreservesForeignRows(t *testing.T) {
	store, _, cfgPath := reconcileFixture(t)
	seed := `{
  bindings: [
    {agentId: "tg-bot", match: {channel: "telegram"}},
    {agentId: "assistant", match: {channel: "slack", peer: {kind: "channel", id: "C999"}}},
    {agentId: "ct-stale99", match: {channel: "slack", peer: {kind: "channel", id: "C555"}}},
  ],
}`
	if err := os.WriteFile(cfgPath, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Reconcile(store, cfgPath, "m"); err != nil {
		t.Fatal(err)
	}
	cfg, _ := LoadHostConfig(cfgPath)

	var agents []string
	for _, b := range cfg.Bindings {
		agents = append(agents, b.AgentID)
	}
	// Managed row first, then the user's telegram and slack rows; the
	// stale ct- row is dropped.
	if len(cfg.Bindings) != 3 {
		t.Fatalf("bindings = %v", agents)
	}
	if !IsManagedAgentID(cfg.Bindings[0].AgentID) {
		t.Errorf("managed binding not first: %v", agents)
	}
	for _, id := range agents {
		if id == "ct-stale99" {
			t.Errorf("stale managed row kept: %v", agents)
		}
	}
}

func TestReconcile_JSON5ConfigWithUnknownKeys(t *testing.T) {
	store, tk, cfgPath := reconcileFixture(t)
	// Realistic host config: JSON5 syntax plus top-level blocks the plugin
	// does not understand. Reconcile must still rewrite it cleanly.
	seed := `{
  // managed by the operator
  gateway: {port: 3000},
  bindings: [],
}`
	if err := os.WriteFile(cfgPath, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Reconcile(store, cfgPath, "m"); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadHostConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Bindings) != 1 || cfg.Bindings[0].AgentID != ManagedAgentID(tk.ID) {
		t.Fatalf("managed binding not materialized: %+v", cfg.Bindings)
	}

	raw, _ := os.ReadFile(cfgPath)
	var round map[string]any
	if err := json.Unmarshal(raw, &round); err != nil {
		t.Fatalf("rewritten config is not valid JSON: %v", err)
	}
	gw, ok := round["gateway"].(map[string]any)
	if !ok || gw["port"] != float64(3000) {
		t.Errorf("gateway block lost on rewrite: %v", round["gateway"])
	}
}

func TestReconcile_ClaimsConflictingPeer(t *testing.T) {
	store, tk, cfgPath := reconcileFixture(t)
	// A user-owned slack row on the same peer the Talk claims: the Talk wins.
	seed := `{bindings: [{agentId: "assistant", match: {channel: "slack", peer: {kind: "channel", id: "C123"}}}]}`
	if err := os.WriteFile(cfgPath, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Reconcile(store, cfgPath, "m"); err != nil {
		t.Fatal(err)
	}
	cfg, _ := LoadHostConfig(cfgPath)
	if len(cfg.Bindings) != 1 || cfg.Bindings[0].AgentID != ManagedAgentID(tk.ID) {
		t.Errorf("conflicting row not replaced: %+v", cfg.Bindings)
	}
}
