// Package routing — pure decision logic for Slack events: binding
// resolution and scoring, the behavior gate, intent classification, the
// dedup table and the outbound header guard. Nothing in this package does
// I/O; every function is a pure computation over its inputs.
package routing

import (
	"regexp"
	"strings"
)

// Intent is the lexicon-derived category of a message.
type Intent string

const (
	IntentStudy         Intent = "study"
	IntentAdvice        Intent = "advice"
	IntentStateTracking Intent = "state_tracking"
	IntentGoogleDocs    Intent = "google_docs"
	IntentWebResearch   Intent = "web_research"
	IntentCodeExecution Intent = "code_execution"
	IntentFileOps       Intent = "file_ops"
	IntentAutomation    Intent = "automation"
	IntentModelMeta     Intent = "model_meta"
	IntentConversation  Intent = "conversation"
	IntentOther         Intent = "other"
)

var (
	// A study entry is a time quantity plus a study keyword.
	timeQuantityRe = regexp.MustCompile(`(?i)\b\d+\s*(h|hrs?|hours?|m|mins?|minutes?)\b`)
	studyKeywordRe = regexp.MustCompile(`(?i)\b(study|studied|studying|homework|revision|revised|practice|practiced|practis\w*|lesson|exam|quiz|flashcards?|reading|read)\b`)

	adviceRe = regexp.MustCompile(`(?i)\b(how\s+(do|can|should)\s+i|what\s+should\s+i|should\s+i\b|can\s+you\s+help|help\s+me\b|any\s+(advice|tips|suggestions?)|recommend|suggest)`)

	stateTrackingRe = regexp.MustCompile(`(?i)\b(track(ing)?|streak|habit|progress|log\s+(it|this|my)|record\s+(it|this|my)|state\s+(of|summary))\b`)
	googleDocsRe    = regexp.MustCompile(`(?i)\b(google\s+docs?|gdocs?|spreadsheet|google\s+sheets?)\b`)
	webResearchRe   = regexp.MustCompile(`(?i)\b(search\s+(for|the\s+web)|look\s+up|research|find\s+out|browse|latest\s+news)\b`)
	codeExecRe      = regexp.MustCompile(`(?i)\b(run\s+(the|this|a)?\s*(script|code|command)|execute|compile|shell|python|bash)\b`)
	fileOpsRe       = regexp.MustCompile(`(?i)\b(files?|folders?|director(y|ies)|upload|download|attach(ment)?|save\s+(it|this|to))\b`)
	automationRe    = regexp.MustCompile(`(?i)\b(automate|schedule|cron|remind(er)?\s+me|every\s+(day|week|morning|night)|daily|weekly)\b`)
	modelMetaRe     = regexp.MustCompile(`(?i)\b(which\s+model|what\s+model|model\s+are\s+you|system\s+prompt|temperature|token\s+(limit|count)|context\s+window)\b`)
	conversationRe  = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|thanks?|thank\s+you|good\s+(morning|afternoon|evening|night)|ok(ay)?|cool|nice)\b`)
)

// Classify maps a message (or job prompt) to its intent. Study wins over
// advice; everything unmatched is other.
func Classify(text string) Intent {
	t := strings.TrimSpace(text)
	if t == "" {
		return IntentOther
	}
	switch {
	case timeQuantityRe.MatchString(t) && studyKeywordRe.MatchString(t):
		return IntentStudy
	case adviceRe.MatchString(t):
		return IntentAdvice
	case stateTrackingRe.MatchString(t):
		return IntentStateTracking
	case googleDocsRe.MatchString(t):
		return IntentGoogleDocs
	case webResearchRe.MatchString(t):
		return IntentWebResearch
	case codeExecRe.MatchString(t):
		return IntentCodeExecution
	case automationRe.MatchString(t):
		return IntentAutomation
	case modelMetaRe.MatchString(t):
		return IntentModelMeta
	case fileOpsRe.MatchString(t):
		return IntentFileOps
	case conversationRe.MatchString(t):
		return IntentConversation
	default:
		return IntentOther
	}
}
