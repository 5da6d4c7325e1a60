// Package talks — the Talk model and its durable store.
//
// A Talk is a scoped conversation: metadata, a message log, a context
// document, pinned references, jobs, platform bindings and per-binding
// behaviors. The store is the single writer for everything under
// talks/<talkId>/ on disk; in-memory Talks are a cache over that directory.
package talks

import "time"

// ExecutionMode selects how outbound requests reach the host.
type ExecutionMode string

const (
	// ExecOpenClaw routes through a host-managed agent (session keys
	// prefixed "agent:").
	ExecOpenClaw ExecutionMode = "openclaw"
	// ExecFullControl is the transparent proxy mode. Agent headers and
	// "agent:"-prefixed session keys are forbidden in this mode.
	ExecFullControl ExecutionMode = "full_control"
)

// FilesystemAccess is the Talk's filesystem policy.
type FilesystemAccess string

const (
	FSWorkspaceSandbox FilesystemAccess = "workspace_sandbox"
	FSFullHostAccess   FilesystemAccess = "full_host_access"
)

// NetworkAccess is the Talk's network policy.
type NetworkAccess string

const (
	NetRestricted   NetworkAccess = "restricted"
	NetFullOutbound NetworkAccess = "full_outbound"
)

// ToolMode controls tool availability for the Talk.
type ToolMode string

const (
	ToolsOff     ToolMode = "off"
	ToolsConfirm ToolMode = "confirm"
	ToolsAuto    ToolMode = "auto"
)

// Permission is a binding's read/write grant.
type Permission string

const (
	PermRead      Permission = "read"
	PermWrite     Permission = "write"
	PermReadWrite Permission = "read+write"
)

// CanWrite reports whether the permission allows replies.
func (p Permission) CanWrite() bool { return p == PermWrite || p == PermReadWrite }

// ResponseMode controls when a binding's behavior lets messages through.
type ResponseMode string

const (
	RespondOff      ResponseMode = "off"
	RespondMentions ResponseMode = "mentions"
	RespondAll      ResponseMode = "all"
)

// MirrorMode controls whether platform traffic is copied into the Talk log.
type MirrorMode string

const (
	MirrorOff     MirrorMode = "off"
	MirrorInbound MirrorMode = "inbound"
	MirrorFull    MirrorMode = "full"
)

// DeliveryMode controls where replies land on the platform.
type DeliveryMode string

const (
	DeliverThread   DeliveryMode = "thread"
	DeliverChannel  DeliveryMode = "channel"
	DeliverAdaptive DeliveryMode = "adaptive"
)

// TriggerPolicy filters which message intents trigger a response.
type TriggerPolicy string

const (
	TriggerJudgment      TriggerPolicy = "judgment"
	TriggerStudyOnly     TriggerPolicy = "study_entries_only"
	TriggerAdviceOrStudy TriggerPolicy = "advice_or_study"
)

// JobType distinguishes scheduled from event-driven jobs.
type JobType string

const (
	JobOnce      JobType = "once"
	JobRecurring JobType = "recurring"
	JobEvent     JobType = "event"
)

// JobStatus is the outcome recorded in a JobReport.
type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobFailure JobStatus = "failure"
	JobSkipped JobStatus = "skipped"
)

// Role is a message author role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// OutputType tags a job's output destination.
type OutputType string

const (
	OutputReportOnly OutputType = "report_only"
	OutputTalk       OutputType = "talk"
	OutputSlack      OutputType = "slack"
)

// JobOutput is the tagged destination for a job's result.
// report_only records a report and nothing else; talk appends an assistant
// message to the owning Talk; slack posts to a channel.
type JobOutput struct {
	Type      OutputType `json:"type"`
	ChannelID string     `json:"channelId,omitempty"`
	AccountID string     `json:"accountId,omitempty"`
	ThreadTS  string     `json:"threadTs,omitempty"`
}

// Binding attaches a Talk to a (platform, scope, account) tuple.
type Binding struct {
	ID           string     `json:"id"`
	Platform     string     `json:"platform"`
	Scope        string     `json:"scope"`
	AccountID    string     `json:"accountId,omitempty"`
	DisplayScope string     `json:"displayScope,omitempty"`
	Permission   Permission `json:"permission"`
	CreatedAt    int64      `json:"createdAt"`
}

// ResponsePolicy is the optional trigger filter on a Behavior.
type ResponsePolicy struct {
	TriggerPolicy  TriggerPolicy `json:"triggerPolicy,omitempty"`
	AllowedSenders []string      `json:"allowedSenders,omitempty"`
	MinConfidence  float64       `json:"minConfidence,omitempty"`
}

// Behavior is per-binding policy. A Behavior whose PlatformBindingID no
// longer resolves is dropped on load.
type Behavior struct {
	ID                string          `json:"id"`
	PlatformBindingID string          `json:"platformBindingId"`
	ResponseMode      ResponseMode    `json:"responseMode,omitempty"`
	MirrorToTalk      MirrorMode      `json:"mirrorToTalk,omitempty"`
	AgentName         string          `json:"agentName,omitempty"`
	OnMessagePrompt   string          `json:"onMessagePrompt,omitempty"`
	DeliveryMode      DeliveryMode    `json:"deliveryMode,omitempty"`
	ResponsePolicy    *ResponsePolicy `json:"responsePolicy,omitempty"`
}

// Job is a Talk-scoped scheduled or event-driven task. Schedule is a cron
// expression for recurring jobs, an RFC3339 timestamp or cron expression for
// once jobs, and "on <scope>" for event jobs.
type Job struct {
	ID         string    `json:"id"`
	Type       JobType   `json:"type"`
	Schedule   string    `json:"schedule"`
	Prompt     string    `json:"prompt"`
	Output     JobOutput `json:"output"`
	Active     bool      `json:"active"`
	CreatedAt  int64     `json:"createdAt"`
	LastRunAt  int64     `json:"lastRunAt,omitempty"`
	LastStatus JobStatus `json:"lastStatus,omitempty"`
}

// Directive is a standing instruction attached to a Talk.
type Directive struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"createdAt"`
}

// AgentSpec is one entry in a Talk's agent roster.
type AgentSpec struct {
	Name      string `json:"name"`
	Model     string `json:"model,omitempty"`
	Role      string `json:"role,omitempty"`
	IsPrimary bool   `json:"isPrimary,omitempty"`
}

// Message is one line of the Talk's history.jsonl.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// JobReport is one line of reports.jsonl.
type JobReport struct {
	JobID      string    `json:"jobId"`
	RunAt      int64     `json:"runAt"`
	Status     JobStatus `json:"status"`
	FullOutput string    `json:"fullOutput,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Talk is the unit of conversational state. TalkVersion, ChangeID,
// LastModifiedAt and LastModifiedBy form the optimistic-concurrency triple;
// every semantic mutation bumps them. Processing is a transient hint and
// never bumps the version.
type Talk struct {
	ID                string           `json:"id"`
	TalkVersion       int64            `json:"talkVersion"`
	ChangeID          string           `json:"changeId"`
	LastModifiedAt    int64            `json:"lastModifiedAt,omitempty"`
	LastModifiedBy    string           `json:"lastModifiedBy,omitempty"`
	TopicTitle        string           `json:"topicTitle,omitempty"`
	Objective         string           `json:"objective,omitempty"`
	Model             string           `json:"model,omitempty"`
	GoogleAuthProfile string           `json:"googleAuthProfile,omitempty"`
	Agents            []AgentSpec      `json:"agents,omitempty"`
	PinnedMessageIDs  []string         `json:"pinnedMessageIds,omitempty"`
	Directives        []Directive      `json:"directives,omitempty"`
	PlatformBindings  []Binding        `json:"platformBindings,omitempty"`
	PlatformBehaviors []Behavior       `json:"platformBehaviors,omitempty"`
	Jobs              []Job            `json:"jobs,omitempty"`
	ExecutionMode     ExecutionMode    `json:"executionMode"`
	FilesystemAccess  FilesystemAccess `json:"filesystemAccess"`
	NetworkAccess     NetworkAccess    `json:"networkAccess"`
	ToolMode          ToolMode         `json:"toolMode"`
	ToolsAllow        []string         `json:"toolsAllow,omitempty"`
	ToolsDeny         []string         `json:"toolsDeny,omitempty"`
	Processing        bool             `json:"processing,omitempty"`
	CreatedAt         int64            `json:"createdAt"`
	UpdatedAt         int64            `json:"updatedAt"`
}

// BindingByID returns the binding with the given id, or nil.
func (t *Talk) BindingByID(id string) *Binding {
	for i := range t.PlatformBindings {
		if t.PlatformBindings[i].ID == id {
			return &t.PlatformBindings[i]
		}
	}
	return nil
}

// BehaviorForBinding returns the first behavior keyed to the binding id, or nil.
func (t *Talk) BehaviorForBinding(bindingID string) *Behavior {
	for i := range t.PlatformBehaviors {
		if t.PlatformBehaviors[i].PlatformBindingID == bindingID {
			return &t.PlatformBehaviors[i]
		}
	}
	return nil
}

// ChangeEvent is published to store listeners on every mutation.
type ChangeEvent struct {
	Type           string `json:"type"`
	TalkID         string `json:"talkId"`
	TalkVersion    int64  `json:"talkVersion"`
	ChangeID       string `json:"changeId"`
	Timestamp      int64  `json:"timestamp"`
	LastModifiedBy string `json:"lastModifiedBy,omitempty"`
}

// NowMillis is the store's clock, overridable in tests.
var NowMillis = func() int64 { return time.Now().UnixMilli() }
