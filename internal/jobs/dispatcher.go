package jobs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// DefaultDebounce spaces out event-job firings per (talk, job).
const DefaultDebounce = 30 * time.Second

// MessageEvent is the payload of the host's message_received hook.
type MessageEvent struct {
	Scope   string // platform scope the message arrived on, e.g. "channel:C123"
	From    string
	Content string
}

// HookContext carries the hook metadata. ChannelID is the PLATFORM NAME
// (e.g. "slack"), not a channel id — that is the host's contract.
type HookContext struct {
	ChannelID string
}

// ReplyFunc delivers an event job's output back to the triggering scope.
type ReplyFunc func(ctx context.Context, talkID string, binding talks.Binding, output string)

// Dispatcher fans one message_received hook call out to the event jobs it
// triggers, with per-(talk,job) debounce and at-most-one running event job
// per Talk.
type Dispatcher struct {
	store    *talks.Store
	exec     *Executor
	debounce time.Duration
	reply    ReplyFunc // nil disables reply delivery

	mu        sync.Mutex
	lastFired map[string]time.Time
	running   map[string]bool // talkID → an event job is in flight

	now func() time.Time
}

// NewDispatcher wires the event dispatcher. A non-positive debounce falls
// back to DefaultDebounce.
func NewDispatcher(store *talks.Store, exec *Executor, debounce time.Duration, reply ReplyFunc) *Dispatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Dispatcher{
		store:     store,
		exec:      exec,
		debounce:  debounce,
		reply:     reply,
		lastFired: make(map[string]time.Time),
		running:   make(map[string]bool),
		now:       time.Now,
	}
}

// HandleMessageReceived scans active event jobs and fires the ones whose
// owner Talk is bound to the triggering platform and scope. Fire-and-forget:
// the host ignores the hook's outcome, so failures only log.
func (d *Dispatcher) HandleMessageReceived(ctx context.Context, ev MessageEvent, hctx HookContext) {
	platform := strings.ToLower(strings.TrimSpace(hctx.ChannelID))
	if platform == "" {
		return
	}
	now := d.now()

	for _, aj := range d.store.GetAllActiveJobs() {
		if aj.Job.Type != talks.JobEvent {
			continue
		}
		scope, ok := ParseEventTrigger(aj.Job.Schedule)
		if !ok {
			slog.Warn("dispatcher.bad_trigger", "talk", aj.TalkID, "job", aj.Job.ID, "schedule", aj.Job.Schedule)
			continue
		}
		talk, err := d.store.Get(aj.TalkID)
		if err != nil {
			continue
		}
		binding := matchBinding(talk, platform, scope)
		if binding == nil {
			continue
		}

		key := aj.TalkID + "|" + aj.Job.ID
		d.mu.Lock()
		if last, ok := d.lastFired[key]; ok && now.Sub(last) < d.debounce {
			d.mu.Unlock()
			slog.Debug("dispatcher.debounced", "talk", aj.TalkID, "job", aj.Job.ID)
			continue
		}
		if d.running[aj.TalkID] {
			d.mu.Unlock()
			slog.Info("dispatcher.talk_busy", "talk", aj.TalkID, "job", aj.Job.ID)
			continue
		}
		d.lastFired[key] = now
		d.running[aj.TalkID] = true
		d.mu.Unlock()

		canReply := binding.Permission.CanWrite()
		trig := &TriggerContext{
			Platform: platform,
			Source:   scope,
			From:     ev.From,
			Time:     now,
			Content:  ev.Content,
		}
		aj := aj
		b := *binding
		go func() {
			defer func() {
				d.mu.Lock()
				delete(d.running, aj.TalkID)
				d.mu.Unlock()
			}()
			report, err := d.exec.Run(ctx, aj.TalkID, aj.Job, trig)
			if err != nil {
				slog.Warn("dispatcher.job_failed", "talk", aj.TalkID, "job", aj.Job.ID, "error", err)
				return
			}
			if canReply && d.reply != nil && report.FullOutput != "" {
				d.reply(ctx, aj.TalkID, b, report.FullOutput)
			}
			slog.Info("dispatcher.job_fired", "talk", aj.TalkID, "job", aj.Job.ID, "reply", canReply)
		}()
	}
}

// matchBinding finds a Talk binding whose platform and normalized scope
// match the job's trigger.
func matchBinding(t *talks.Talk, platform, scope string) *talks.Binding {
	want := talks.NormalizeScope(scope)
	for i := range t.PlatformBindings {
		b := &t.PlatformBindings[i]
		if !strings.EqualFold(b.Platform, platform) {
			continue
		}
		if talks.NormalizeScope(b.Scope) == want {
			return b
		}
	}
	return nil
}

// RunCleanup prunes debounce entries older than ten debounce windows.
// Blocks until ctx is done.
func (d *Dispatcher) RunCleanup(ctx context.Context) {
	interval := d.debounce
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			horizon := 10 * d.debounce
			now := d.now()
			d.mu.Lock()
			for k, at := range d.lastFired {
				if now.Sub(at) > horizon {
					delete(d.lastFired, k)
				}
			}
			d.mu.Unlock()
		}
	}
}
