package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/clawtalk/internal/affinity"
	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/routing"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// Default run timeouts. The base is the hard ceiling; learned runs may
// shrink toward the floor.
const (
	DefaultBaseTimeout = 240 * time.Second
	DefaultMinTimeout  = 120 * time.Second
)

// SlackSender delivers job output to a Slack channel.
type SlackSender interface {
	Send(ctx context.Context, accountID, channelID, threadTS, message string) error
}

// TriggerContext describes the platform event that fired an event job. Its
// rendering is appended to the job prompt.
type TriggerContext struct {
	Platform string
	Source   string
	From     string
	Time     time.Time
	Content  string
}

func (tc *TriggerContext) render() string {
	return fmt.Sprintf("\n\n[Trigger]\nPlatform: %s\nSource: %s\nFrom: %s\nTime: %s\nContent: %s",
		tc.Platform, tc.Source, tc.From, tc.Time.UTC().Format(time.RFC3339), tc.Content)
}

// Executor runs jobs: one shared routine for cron, one-shot and event jobs.
// Runs are concurrent across Talks but serial per Talk.
type Executor struct {
	store        *talks.Store
	aff          *affinity.Store
	host         *openclaw.Client
	slack        SlackSender // nil disables slack delivery
	baseTimeout  time.Duration
	minTimeout   time.Duration
	stateBackend string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-Talk serialization
}

// NewExecutor wires the shared job-execution routine.
func NewExecutor(store *talks.Store, aff *affinity.Store, host *openclaw.Client, slack SlackSender) *Executor {
	return &Executor{
		store:       store,
		aff:         aff,
		host:        host,
		slack:       slack,
		baseTimeout: DefaultBaseTimeout,
		minTimeout:  DefaultMinTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetTimeouts overrides the base/min run timeouts (zero keeps the default).
func (e *Executor) SetTimeouts(base, min time.Duration) {
	if base > 0 {
		e.baseTimeout = base
	}
	if min > 0 {
		e.minTimeout = min
	}
}

// SetStateBackend names the state backend used for cold-start baselines.
func (e *Executor) SetStateBackend(backend string) { e.stateBackend = backend }

func (e *Executor) talkLock(talkID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[talkID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[talkID] = l
	}
	return l
}

// Run executes one job: classify intent, prune tools through the affinity
// learner, invoke the host under the guarded headers, then record the
// observation and report and deliver the output. The returned report has
// also been appended to the Talk's report log.
func (e *Executor) Run(ctx context.Context, talkID string, job talks.Job, trig *TriggerContext) (talks.JobReport, error) {
	lock := e.talkLock(talkID)
	lock.Lock()
	defer lock.Unlock()

	runAt := talks.NowMillis()
	report := talks.JobReport{JobID: job.ID, RunAt: runAt}

	talk, err := e.store.Get(talkID)
	if err != nil {
		report.Status = talks.JobSkipped
		report.Error = err.Error()
		return report, err
	}

	if err := e.store.SetProcessing(talkID, true); err != nil {
		slog.Warn("jobs.set_processing_failed", "talk", talkID, "error", err)
	}
	defer func() {
		if err := e.store.SetProcessing(talkID, false); err != nil {
			slog.Warn("jobs.clear_processing_failed", "talk", talkID, "error", err)
		}
	}()

	classifyText := job.Prompt
	if trig != nil && trig.Content != "" {
		classifyText = trig.Content
	}
	intent := routing.Classify(classifyText)

	policyAllowed := PolicyAllowedTools(talk)
	baseline := affinity.ComputeColdStartBaseline(affinity.ColdStartInput{
		StateBackend:       e.stateBackend,
		PolicyAllowedTools: policyAllowed,
	})
	sel := e.aff.Select(talkID, string(intent), policyAllowed, baseline)
	timeout := affinity.ComputeTimeout(sel.Phase, len(sel.SelectedTools),
		e.baseTimeout.Milliseconds(), e.minTimeout.Milliseconds())

	runID := uuid.NewString()
	sessionKey := openclaw.BuildJobSessionKey(talkID, job.ID, runID)
	headers := map[string]string{
		routing.HeaderSessionKey: sessionKey,
	}
	if talk.ExecutionMode == talks.ExecOpenClaw {
		headers[routing.HeaderAgentID] = openclaw.ManagedAgentID(talkID)
	}
	if err := routing.AssertRoutingHeaders(routing.FlowJobScheduler, talk.ExecutionMode, headers); err != nil {
		report.Status = talks.JobFailure
		report.Error = err.Error()
		e.finish(talkID, job, report)
		return report, err
	}

	prompt := job.Prompt
	if trig != nil {
		prompt += trig.render()
	}

	tracer := otel.Tracer("clawtalk/jobs")
	runCtx, span := tracer.Start(ctx, "job.run")
	span.SetAttributes(
		attribute.String("talk.id", talkID),
		attribute.String("job.id", job.ID),
		attribute.String("intent", string(intent)),
		attribute.String("affinity.phase", string(sel.Phase)),
		attribute.Int("tools.count", len(sel.SelectedTools)),
	)
	defer span.End()

	runCtx, cancel := context.WithTimeout(runCtx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	resp, err := e.host.Invoke(runCtx, openclaw.InvokeRequest{
		SessionKey: sessionKey,
		Prompt:     prompt,
		Model:      talk.Model,
		Tools:      sel.SelectedTools,
		Headers:    headers,
	})

	obs := affinity.Observation{
		Timestamp:      talks.NowMillis(),
		Intent:         string(intent),
		AvailableTools: sel.SelectedTools,
		ToolsOffered:   len(sel.SelectedTools),
		Model:          talk.Model,
		Source:         "job",
	}
	if resp != nil {
		obs.UsedTools = resp.UsedTools
	}
	if err := e.aff.Observe(talkID, obs); err != nil {
		slog.Warn("jobs.observe_failed", "talk", talkID, "error", err)
	}

	if err != nil {
		report.Status = talks.JobFailure
		report.Error = err.Error()
		e.finish(talkID, job, report)
		slog.Warn("jobs.run_failed", "talk", talkID, "job", job.ID, "error", err)
		return report, err
	}

	report.Status = talks.JobSuccess
	report.FullOutput = resp.Content
	e.finish(talkID, job, report)
	e.deliver(ctx, talkID, job, resp.Content)
	slog.Info("jobs.run_completed", "talk", talkID, "job", job.ID,
		"intent", intent, "phase", sel.Phase, "tools", len(sel.SelectedTools))
	return report, nil
}

func (e *Executor) finish(talkID string, job talks.Job, report talks.JobReport) {
	e.store.AppendReport(talkID, report)
	if err := e.store.RecordJobRun(talkID, job.ID, report.RunAt, report.Status); err != nil {
		slog.Warn("jobs.record_run_failed", "talk", talkID, "job", job.ID, "error", err)
	}
}

// deliver routes successful output to its destination. report_only stops at
// the report log.
func (e *Executor) deliver(ctx context.Context, talkID string, job talks.Job, output string) {
	switch job.Output.Type {
	case talks.OutputTalk:
		if _, err := e.store.AppendMessage(talkID, talks.Message{
			Role:    talks.RoleAssistant,
			Content: output,
		}); err != nil {
			slog.Warn("jobs.deliver_talk_failed", "talk", talkID, "job", job.ID, "error", err)
		}
	case talks.OutputSlack:
		if e.slack == nil {
			slog.Warn("jobs.deliver_slack_unconfigured", "talk", talkID, "job", job.ID)
			return
		}
		if err := e.slack.Send(ctx, job.Output.AccountID, job.Output.ChannelID, job.Output.ThreadTS, output); err != nil {
			slog.Warn("jobs.deliver_slack_failed", "talk", talkID, "job", job.ID, "error", err)
		}
	}
}
