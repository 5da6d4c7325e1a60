package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

// TickInterval is the scheduler's cadence.
const TickInterval = 60 * time.Second

// Scheduler drives recurring and one-shot jobs off a periodic tick. Event
// jobs are the dispatcher's responsibility and are skipped here.
type Scheduler struct {
	store    *talks.Store
	exec     *Executor
	gron     *gronx.Gronx
	interval time.Duration
	lastTick time.Time
	now      func() time.Time
}

// NewScheduler creates a scheduler over the store and shared executor.
func NewScheduler(store *talks.Store, exec *Executor) *Scheduler {
	return &Scheduler{
		store:    store,
		exec:     exec,
		gron:     gronx.New(),
		interval: TickInterval,
		now:      time.Now,
	}
}

// Run ticks until ctx is done. The tick is cooperative: due jobs are spawned
// onto their own goroutines (the executor serializes per Talk), so a slow
// job never delays the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.lastTick = s.now()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("scheduler.started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler.stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick computes the due set in (lastTick, now] and fires each job once.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	due := s.dueJobs(now)
	s.lastTick = now
	for _, aj := range due {
		aj := aj
		go func() {
			if _, err := s.exec.Run(ctx, aj.TalkID, aj.Job, nil); err != nil {
				slog.Warn("scheduler.job_failed", "talk", aj.TalkID, "job", aj.Job.ID, "error", err)
			}
		}()
	}
}

// dueJobs scans every active job. Cron boundaries are evaluated per minute
// strictly after lastTick and at or before now, so a boundary is never
// fired twice across ticks.
func (s *Scheduler) dueJobs(now time.Time) []talks.ActiveJob {
	var due []talks.ActiveJob
	for _, aj := range s.store.GetAllActiveJobs() {
		switch aj.Job.Type {
		case talks.JobRecurring:
			if s.cronDue(aj.Job.Schedule, now) {
				due = append(due, aj)
			}
		case talks.JobOnce:
			if aj.Job.LastRunAt != 0 {
				continue
			}
			if target, err := time.Parse(time.RFC3339, aj.Job.Schedule); err == nil {
				if !target.After(now) {
					due = append(due, aj)
				}
				continue
			}
			// A cron-shaped once schedule fires at the first boundary
			// and is then retired by lastRunAt.
			if s.cronDue(aj.Job.Schedule, now) {
				due = append(due, aj)
			}
		case talks.JobEvent:
			// dispatched on message_received, not on the tick
		}
	}
	return due
}

func (s *Scheduler) cronDue(expr string, now time.Time) bool {
	if !s.gron.IsValid(expr) {
		slog.Warn("scheduler.invalid_cron", "expr", expr)
		return false
	}
	// Walk minute boundaries in (lastTick, now].
	b := s.lastTick.Truncate(time.Minute).Add(time.Minute)
	for !b.After(now) {
		ok, err := s.gron.IsDue(expr, b)
		if err != nil {
			slog.Warn("scheduler.cron_error", "expr", expr, "error", err)
			return false
		}
		if ok {
			return true
		}
		b = b.Add(time.Minute)
	}
	return false
}
