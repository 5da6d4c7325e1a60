package openclaw

import (
	"strings"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// Conflict reports a (platform, scope, account) claimed by both a Talk
// write-binding and a host binding whose agent is outside the managed set.
// Fields are normalized to lowercase.
type Conflict struct {
	TalkID            string `json:"talkId"`
	TalkScope         string `json:"talkScope"`
	TalkAccountID     string `json:"talkAccountId"`
	OpenClawAgentID   string `json:"openClawAgentId"`
	OpenClawScope     string `json:"openClawScope"`
	OpenClawAccountID string `json:"openClawAccountId"`
}

// FindConflicts detects ownership conflicts between Talk bindings and
// host-owned bindings. Detection only; nothing is mutated.
// clawTalkAgentIDs lists agent ids considered ours beyond the ct- prefix.
func FindConflicts(all []*talks.Talk, cfg *HostConfig, clawTalkAgentIDs []string) []Conflict {
	ours := make(map[string]bool, len(clawTalkAgentIDs))
	for _, id := range clawTalkAgentIDs {
		ours[strings.ToLower(id)] = true
	}

	var conflicts []Conflict
	for _, row := range cfg.Bindings {
		if !strings.EqualFold(row.Match.Channel, "slack") || row.Match.Peer == nil {
			continue
		}
		kind := strings.ToLower(row.Match.Peer.Kind)
		peerID := strings.ToLower(row.Match.Peer.ID)
		if kind == "" || peerID == "" {
			continue
		}
		if ours[strings.ToLower(row.AgentID)] || IsManagedAgentID(row.AgentID) {
			continue
		}
		hostScope := kind + ":" + peerID
		hostAccount := strings.ToLower(row.Match.AccountID)

		for _, t := range all {
			for _, b := range t.PlatformBindings {
				if !strings.EqualFold(b.Platform, "slack") || !b.Permission.CanWrite() {
					continue
				}
				if !strings.EqualFold(b.AccountID, row.Match.AccountID) {
					continue
				}
				scope := talks.NormalizeScope(b.Scope)
				// slack:* claims every peer scope in the account.
				if scope != hostScope && scope != "slack:*" {
					continue
				}
				conflicts = append(conflicts, Conflict{
					TalkID:            t.ID,
					TalkScope:         scope,
					TalkAccountID:     strings.ToLower(b.AccountID),
					OpenClawAgentID:   strings.ToLower(row.AgentID),
					OpenClawScope:     hostScope,
					OpenClawAccountID: hostAccount,
				})
			}
		}
	}
	return conflicts
}
