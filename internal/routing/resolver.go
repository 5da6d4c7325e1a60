package routing

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// Event is a normalized inbound Slack message.
type Event struct {
	EventID        string `json:"eventId,omitempty"`
	AccountID      string `json:"accountId,omitempty"`
	ChannelID      string `json:"channelId"`
	ChannelName    string `json:"channelName,omitempty"`
	ThreadTS       string `json:"threadTs,omitempty"`
	MessageTS      string `json:"messageTs,omitempty"`
	UserID         string `json:"userId,omitempty"`
	UserName       string `json:"userName,omitempty"`
	OutboundTarget string `json:"outboundTarget,omitempty"`
	Text           string `json:"text"`
}

// Decision outcomes.
const (
	DecisionHandled = "handled"
	DecisionPass    = "pass"
)

// Pass reasons.
const (
	ReasonNoBinding          = "no-binding"
	ReasonAmbiguousBinding   = "ambiguous-binding"
	ReasonSenderNotAllowed   = "sender-not-allowed"
	ReasonOnMessageDisabled  = "on-message-disabled"
	ReasonMentionRequired    = "mention-required"
	ReasonTriggerPolicy      = "trigger-policy-not-met"
	ReasonDelegatedToAgent   = "delegated-to-agent"
	ReasonNoPlatformBehavior = "no-platform-behavior"
)

// Decision is the routing result for one event.
type Decision struct {
	Decision  string          `json:"decision"`
	TalkID    string          `json:"talkId,omitempty"`
	BindingID string          `json:"bindingId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Behavior  *talks.Behavior `json:"behavior,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

// Scope scores, highest wins.
const (
	scoreExact    = 100
	scoreOutbound = 95
	scoreName     = 90
	scoreSuffix   = 80
	scoreWildcard = 10
	scoreExcluded = -1
)

// mentionRe matches a Slack-style mention: <@U…> or @handle.
var mentionRe = regexp.MustCompile(`<@U[A-Z0-9]+>|(^|\s)@\w+`)

// scoreBinding scores one Slack binding against the event. Excluded bindings
// (wrong platform, read-only, account mismatch) score -1.
func scoreBinding(b talks.Binding, ev Event) int {
	if strings.ToLower(b.Platform) != "slack" {
		return scoreExcluded
	}
	if !b.Permission.CanWrite() {
		return scoreExcluded
	}
	if b.AccountID != "" && !strings.EqualFold(b.AccountID, ev.AccountID) {
		return scoreExcluded
	}
	scope := talks.NormalizeScope(b.Scope)
	channel := strings.ToLower(ev.ChannelID)
	name := strings.ToLower(ev.ChannelName)

	switch scope {
	case channel, "channel:" + channel, "user:" + channel, "slack:" + channel:
		if channel != "" {
			return scoreExact
		}
	}
	if ev.OutboundTarget != "" && scope == strings.ToLower(ev.OutboundTarget) {
		return scoreOutbound
	}
	if name != "" && (scope == "#"+name || scope == name) {
		return scoreName
	}
	if name != "" && strings.HasSuffix(scope, " #"+name) {
		return scoreSuffix
	}
	if talks.IsWildcardScope(scope) {
		return scoreWildcard
	}
	return scoreExcluded
}

// Resolve maps an event to its owning Talk and decision. It is a pure
// function of its inputs; the same Talks and event always give the same
// decision.
func Resolve(ev Event, all []*talks.Talk) Decision {
	type candidate struct {
		talk    *talks.Talk
		binding *talks.Binding
		score   int
	}
	var best []candidate
	top := scoreExcluded
	for _, t := range all {
		talkScore := scoreExcluded
		var chosen *talks.Binding
		for i := range t.PlatformBindings {
			if sc := scoreBinding(t.PlatformBindings[i], ev); sc > talkScore {
				talkScore = sc
				chosen = &t.PlatformBindings[i]
			}
		}
		if talkScore <= scoreExcluded {
			continue
		}
		switch {
		case talkScore > top:
			top = talkScore
			best = []candidate{{talk: t, binding: chosen, score: talkScore}}
		case talkScore == top:
			best = append(best, candidate{talk: t, binding: chosen, score: talkScore})
		}
	}

	if len(best) == 0 {
		return Decision{Decision: DecisionPass, Reason: ReasonNoBinding}
	}
	if len(best) > 1 {
		return Decision{Decision: DecisionPass, Reason: ReasonAmbiguousBinding}
	}

	owner := best[0]
	behavior := owner.talk.BehaviorForBinding(owner.binding.ID)
	if behavior != nil {
		if reason := gate(behavior, ev); reason != "" {
			return Decision{
				Decision:  DecisionPass,
				TalkID:    owner.talk.ID,
				BindingID: owner.binding.ID,
				Reason:    reason,
				Behavior:  behavior,
			}
		}
	}
	return Decision{
		Decision:  DecisionHandled,
		TalkID:    owner.talk.ID,
		BindingID: owner.binding.ID,
		Behavior:  behavior,
	}
}

// gate applies the behavior's sender, response-mode and trigger-policy
// checks in order. An empty return means the gate passed.
func gate(b *talks.Behavior, ev Event) string {
	if b.ResponsePolicy != nil && len(b.ResponsePolicy.AllowedSenders) > 0 {
		allowed := false
		for _, s := range b.ResponsePolicy.AllowedSenders {
			if strings.EqualFold(s, ev.UserName) || strings.EqualFold(s, ev.UserID) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ReasonSenderNotAllowed
		}
	}

	switch b.ResponseMode {
	case talks.RespondOff:
		return ReasonOnMessageDisabled
	case talks.RespondMentions:
		if !mentionRe.MatchString(ev.Text) {
			return ReasonMentionRequired
		}
	}

	if b.ResponsePolicy != nil {
		switch b.ResponsePolicy.TriggerPolicy {
		case talks.TriggerStudyOnly:
			if Classify(ev.Text) != IntentStudy {
				return ReasonTriggerPolicy
			}
		case talks.TriggerAdviceOrStudy:
			if in := Classify(ev.Text); in != IntentStudy && in != IntentAdvice {
				return ReasonTriggerPolicy
			}
		}
	}
	return ""
}
