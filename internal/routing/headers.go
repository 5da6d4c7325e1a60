package routing

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// Outbound request headers the guard inspects.
const (
	HeaderAgentID    = "x-openclaw-agent-id"
	HeaderSessionKey = "x-openclaw-session-key"
)

// Guard violation codes.
const (
	GuardForbiddenAgentHeader = "ROUTING_GUARD_FORBIDDEN_AGENT_HEADER"
	GuardForbiddenSessionKey  = "ROUTING_GUARD_FORBIDDEN_SESSION_KEY"
)

// Request flows, for diagnostics.
const (
	FlowTalkChat     = "talk-chat"
	FlowSlackIngress = "slack-ingress"
	FlowJobScheduler = "job-scheduler"
)

// GuardError names the violated rule plus the flow and mode it occurred in.
// It is never auto-corrected: the originating operation fails.
type GuardError struct {
	Code string
	Flow string
	Mode talks.ExecutionMode
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s (flow=%s mode=%s)", e.Code, e.Flow, e.Mode)
}

// AssertRoutingHeaders enforces the execution-mode invariants on outbound
// headers. In full_control mode the agent-id header must be absent and the
// session key must not carry the "agent:" prefix; openclaw mode accepts
// anything. Header names are matched case-insensitively.
func AssertRoutingHeaders(flow string, mode talks.ExecutionMode, headers map[string]string) error {
	if mode != talks.ExecFullControl {
		return nil
	}
	for k, v := range headers {
		switch strings.ToLower(k) {
		case HeaderAgentID:
			if v != "" {
				return &GuardError{Code: GuardForbiddenAgentHeader, Flow: flow, Mode: mode}
			}
		case HeaderSessionKey:
			if strings.HasPrefix(v, "agent:") {
				return &GuardError{Code: GuardForbiddenSessionKey, Flow: flow, Mode: mode}
			}
		}
	}
	return nil
}
