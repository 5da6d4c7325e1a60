// Package openclaw — everything that touches the OpenClaw host: session-key
// grammar, the host config file, binding reconciliation, ownership conflict
// detection and the HTTP client the job executor calls through.
//
// Session keys follow the host's canonical format:
//
//	agent:{agentId}:{rest}                                  host-managed agent flows
//	talk:clawtalk:talk:{talkId}:slack:channel:{channelId}   full_control Talk chat
//	job:clawtalk:talk:{talkId}:job:{jobId}:run:{runId}      job runs (any mode)
package openclaw

import (
	"fmt"
	"strings"
)

// ManagedAgentPrefix marks agents materialized by the reconciler. Users who
// avoid the prefix can never collide with managed ids.
const ManagedAgentPrefix = "ct-"

// LegacyManagedAgentID is the pre-prefix managed agent name still treated as ours.
const LegacyManagedAgentID = "clawtalk"

// ManagedAgentID derives the stable managed agent id for a Talk:
// "ct-" plus the first 8 characters of the Talk id.
func ManagedAgentID(talkID string) string {
	id := talkID
	if len(id) > 8 {
		id = id[:8]
	}
	return ManagedAgentPrefix + id
}

// IsManagedAgentID reports whether an agent id belongs to this plugin.
func IsManagedAgentID(agentID string) bool {
	return strings.HasPrefix(agentID, ManagedAgentPrefix) || agentID == LegacyManagedAgentID
}

// BuildAgentSessionKey builds the host-managed agent key: agent:{agentId}:{rest}.
func BuildAgentSessionKey(agentID, rest string) string {
	return fmt.Sprintf("agent:%s:%s", agentID, rest)
}

// BuildTalkSessionKey builds the full_control Talk chat key. Never prefixed
// "agent:", which full_control forbids.
func BuildTalkSessionKey(talkID, channelID string) string {
	return fmt.Sprintf("talk:clawtalk:talk:%s:slack:channel:%s", talkID, channelID)
}

// BuildJobSessionKey builds the key for a job run. Job runs always use the
// job: prefix regardless of execution mode.
func BuildJobSessionKey(talkID, jobID, runID string) string {
	return fmt.Sprintf("job:clawtalk:talk:%s:job:%s:run:%s", talkID, jobID, runID)
}
