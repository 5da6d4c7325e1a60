package openclaw

import "testing"

func TestManagedAgentID(t *testing.T) {
	tests := []struct {
		talkID string
		want   string
	}{
		{"0b7e6f3a-9c41-4b7e-8d21-aa00bb11cc22", "ct-0b7e6f3a"},
		{"short", "ct-short"},
		{"", "ct-"},
	}
	for _, tt := range tests {
		if got := ManagedAgentID(tt.talkID); got != tt.want {
			t.Errorf("ManagedAgentID(%q) = %q, want %q", tt.talkID, got, tt.want)
		}
	}
}

func TestIsManagedAgentID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"ct-0b7e6f3a", true},
		{"clawtalk", true},
		{"assistant", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsManagedAgentID(tt.id); got != tt.want {
			t.Errorf("IsManagedAgentID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSessionKeyGrammar(t *testing.T) {
	if got := BuildAgentSessionKey("ct-abc12345", "main"); got != "agent:ct-abc12345:main" {
		t.Errorf("agent key = %q", got)
	}
	if got := BuildTalkSessionKey("t1", "C123"); got != "talk:clawtalk:talk:t1:slack:channel:C123" {
		t.Errorf("talk key = %q", got)
	}
	if got := BuildJobSessionKey("t1", "j1", "r1"); got != "job:clawtalk:talk:t1:job:j1:run:r1" {
		t.Errorf("job key = %q", got)
	}
}

func TestParsePeerScope(t *testing.T) {
	tests := []struct {
		scope string
		kind  string
		id    string
		ok    bool
	}{
		{"channel:C123abc", "channel", "C123ABC", true},
		{"Channel: c9 ", "channel", "C9", true},
		{"user:U42", "user", "U42", true},
		{"channel:*", "", "", false},
		{"channel:", "", "", false},
		{"#general", "", "", false},
		{"slack:*", "", "", false},
	}
	for _, tt := range tests {
		kind, id, ok := ParsePeerScope(tt.scope)
		if kind != tt.kind || id != tt.id || ok != tt.ok {
			t.Errorf("ParsePeerScope(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.scope, kind, id, ok, tt.kind, tt.id, tt.ok)
		}
	}
}
