package talks

import (
	"regexp"
	"strings"
)

// toolNameRe is the only accepted shape for tool names in allow/deny lists.
var toolNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// talkIDRe restricts Talk ids to path-safe characters.
var talkIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidTalkID reports whether id is a well-formed Talk id.
func ValidTalkID(id string) bool { return id != "" && talkIDRe.MatchString(id) }

// NormalizeExecutionMode parses an execution mode, migrating legacy values.
// Unknown values map to openclaw.
func NormalizeExecutionMode(v string) ExecutionMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "full_control", "unsandboxed":
		return ExecFullControl
	case "openclaw", "sandboxed", "inherit":
		return ExecOpenClaw
	default:
		return ExecOpenClaw
	}
}

// NormalizeFilesystemAccess parses a filesystem policy, defaulting to the sandbox.
func NormalizeFilesystemAccess(v string) FilesystemAccess {
	if strings.ToLower(strings.TrimSpace(v)) == string(FSFullHostAccess) {
		return FSFullHostAccess
	}
	return FSWorkspaceSandbox
}

// NormalizeNetworkAccess parses a network policy, defaulting to restricted.
func NormalizeNetworkAccess(v string) NetworkAccess {
	if strings.ToLower(strings.TrimSpace(v)) == string(NetFullOutbound) {
		return NetFullOutbound
	}
	return NetRestricted
}

// NormalizeToolMode parses a tool mode, defaulting to confirm.
func NormalizeToolMode(v string) ToolMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "off":
		return ToolsOff
	case "auto":
		return ToolsAuto
	case "confirm":
		return ToolsConfirm
	default:
		return ToolsConfirm
	}
}

// NormalizePermission parses a binding permission, defaulting to read.
func NormalizePermission(v string) Permission {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "write":
		return PermWrite
	case "read+write", "read_write", "readwrite":
		return PermReadWrite
	default:
		return PermRead
	}
}

// NormalizeResponseMode parses a response mode. Empty stays empty (meaning
// "all" at the gate); unknown values map to all.
func NormalizeResponseMode(v string) ResponseMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return ""
	case "off":
		return RespondOff
	case "mentions":
		return RespondMentions
	default:
		return RespondAll
	}
}

// NormalizeMirrorMode parses a mirror mode, defaulting to off.
func NormalizeMirrorMode(v string) MirrorMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "inbound":
		return MirrorInbound
	case "full":
		return MirrorFull
	default:
		return MirrorOff
	}
}

// NormalizeDeliveryMode parses a delivery mode, defaulting to adaptive.
func NormalizeDeliveryMode(v string) DeliveryMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "thread":
		return DeliverThread
	case "channel":
		return DeliverChannel
	default:
		return DeliverAdaptive
	}
}

// NormalizeTriggerPolicy parses a trigger policy, defaulting to judgment.
func NormalizeTriggerPolicy(v string) TriggerPolicy {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "study_entries_only":
		return TriggerStudyOnly
	case "advice_or_study":
		return TriggerAdviceOrStudy
	default:
		return TriggerJudgment
	}
}

// NormalizeJobType parses a job type. Unknown types return "" and the job is
// dropped by the caller.
func NormalizeJobType(v string) JobType {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "once":
		return JobOnce
	case "recurring":
		return JobRecurring
	case "event":
		return JobEvent
	default:
		return ""
	}
}

// NormalizeScope lowercases a binding scope and canonicalizes the
// channel:/user: selector forms to kind:lowercased-id.
func NormalizeScope(scope string) string {
	s := strings.ToLower(strings.TrimSpace(scope))
	for _, kind := range []string{"channel:", "user:"} {
		if rest, ok := strings.CutPrefix(s, kind); ok {
			return kind + strings.TrimSpace(rest)
		}
	}
	return s
}

// IsWildcardScope reports whether a normalized scope matches everything.
func IsWildcardScope(scope string) bool {
	switch scope {
	case "*", "all", "slack:*":
		return true
	}
	return false
}

// FilterToolNames keeps only valid tool names, deduplicated
// case-insensitively, preserving first-seen casing and order.
func FilterToolNames(names []string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if !toolNameRe.MatchString(n) {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// normalizeTalk applies the on-disk compatibility contract: every enum goes
// through its normalizer, behaviors referencing unknown bindings are dropped,
// tool lists are filtered, and directives/jobs/bindings missing required
// fields are dropped.
func normalizeTalk(t *Talk) {
	t.ExecutionMode = NormalizeExecutionMode(string(t.ExecutionMode))
	t.FilesystemAccess = NormalizeFilesystemAccess(string(t.FilesystemAccess))
	t.NetworkAccess = NormalizeNetworkAccess(string(t.NetworkAccess))
	t.ToolMode = NormalizeToolMode(string(t.ToolMode))
	t.ToolsAllow = FilterToolNames(t.ToolsAllow)
	t.ToolsDeny = FilterToolNames(t.ToolsDeny)
	if t.TalkVersion < 1 {
		t.TalkVersion = 1
	}

	bindings := t.PlatformBindings[:0]
	for _, b := range t.PlatformBindings {
		if b.ID == "" || b.Platform == "" || b.Scope == "" {
			continue
		}
		b.Platform = strings.ToLower(b.Platform)
		b.Permission = NormalizePermission(string(b.Permission))
		bindings = append(bindings, b)
	}
	t.PlatformBindings = bindings

	behaviors := t.PlatformBehaviors[:0]
	for _, bh := range t.PlatformBehaviors {
		if bh.ID == "" || t.BindingByID(bh.PlatformBindingID) == nil {
			continue
		}
		bh.ResponseMode = NormalizeResponseMode(string(bh.ResponseMode))
		bh.MirrorToTalk = NormalizeMirrorMode(string(bh.MirrorToTalk))
		if bh.DeliveryMode != "" {
			bh.DeliveryMode = NormalizeDeliveryMode(string(bh.DeliveryMode))
		}
		if bh.ResponsePolicy != nil {
			bh.ResponsePolicy.TriggerPolicy = NormalizeTriggerPolicy(string(bh.ResponsePolicy.TriggerPolicy))
		}
		behaviors = append(behaviors, bh)
	}
	t.PlatformBehaviors = behaviors

	directives := t.Directives[:0]
	for _, d := range t.Directives {
		if d.ID == "" || d.Text == "" {
			continue
		}
		directives = append(directives, d)
	}
	t.Directives = directives

	jobs := t.Jobs[:0]
	for _, j := range t.Jobs {
		j.Type = NormalizeJobType(string(j.Type))
		if j.ID == "" || j.Type == "" || j.Schedule == "" {
			continue
		}
		switch j.Output.Type {
		case OutputTalk, OutputSlack, OutputReportOnly:
		default:
			j.Output = JobOutput{Type: OutputReportOnly}
		}
		jobs = append(jobs, j)
	}
	t.Jobs = jobs
}
