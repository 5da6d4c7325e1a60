package talks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ActiveJob pairs a job with its owning Talk for scheduler scans.
type ActiveJob struct {
	TalkID string
	Job    Job
}

// AddJob attaches a job to the Talk. Missing id/createdAt are filled in.
func (s *Store) AddJob(id string, job Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = NowMillis()
	}
	job.Type = NormalizeJobType(string(job.Type))
	if job.Type == "" || job.Schedule == "" {
		return nil, fmt.Errorf("job %s: missing type or schedule", job.ID)
	}
	switch job.Output.Type {
	case OutputTalk, OutputSlack, OutputReportOnly:
	default:
		job.Output = JobOutput{Type: OutputReportOnly}
	}
	t.Jobs = append(t.Jobs, job)
	if err := s.bump(t, "job_added", ""); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob replaces the job with the same id.
func (s *Store) UpdateJob(id string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	for i := range t.Jobs {
		if t.Jobs[i].ID == job.ID {
			t.Jobs[i] = job
			return s.bump(t, "job_updated", "")
		}
	}
	return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
}

// DeleteJob removes a job by id.
func (s *Store) DeleteJob(id, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	kept := t.Jobs[:0]
	removed := false
	for _, j := range t.Jobs {
		if j.ID == jobID {
			removed = true
			continue
		}
		kept = append(kept, j)
	}
	if !removed {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	t.Jobs = kept
	return s.bump(t, "job_deleted", "")
}

// ListJobs returns the Talk's jobs.
func (s *Store) ListJobs(id string) ([]Job, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return t.Jobs, nil
}

// GetAllActiveJobs returns every active job across all Talks.
func (s *Store) GetAllActiveJobs() []ActiveJob {
	var out []ActiveJob
	for _, t := range s.List() {
		for _, j := range t.Jobs {
			if j.Active {
				out = append(out, ActiveJob{TalkID: t.ID, Job: j})
			}
		}
	}
	return out
}

// RecordJobRun stamps lastRunAt/lastStatus on a job after execution.
func (s *Store) RecordJobRun(id, jobID string, runAt int64, status JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return ErrNotFound
	}
	for i := range t.Jobs {
		if t.Jobs[i].ID == jobID {
			t.Jobs[i].LastRunAt = runAt
			t.Jobs[i].LastStatus = status
			return s.bump(t, "job_run_recorded", "scheduler")
		}
	}
	return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
}

// AppendReport appends a JobReport line. Write failures log-warn only; the
// report path is fire-and-forget for callers.
func (s *Store) AppendReport(id string, r JobReport) {
	s.mu.RLock()
	_, ok := s.talks[id]
	s.mu.RUnlock()
	if !ok {
		slog.Warn("talks.report_for_unknown_talk", "talk", id, "job", r.JobID)
		return
	}
	if r.RunAt == 0 {
		r.RunAt = NowMillis()
	}
	line, err := json.Marshal(r)
	if err != nil {
		slog.Warn("talks.report_marshal_failed", "talk", id, "error", err)
		return
	}
	if err := appendLine(filepath.Join(s.dir(id), reportsFile), line); err != nil {
		slog.Warn("talks.report_append_failed", "talk", id, "error", err)
	}
}

// GetReports returns all reports for a Talk, oldest first.
func (s *Store) GetReports(id string) ([]JobReport, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir(id), reportsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []JobReport
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var r JobReport
		if err := json.Unmarshal(line, &r); err != nil {
			slog.Warn("talks.corrupt_report_line", "talk", id, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRecentReports filters reports by run time and job id. Zero since and
// empty jobID match everything.
func (s *Store) GetRecentReports(id string, since int64, jobID string) ([]JobReport, error) {
	reports, err := s.GetReports(id)
	if err != nil {
		return nil, err
	}
	var out []JobReport
	for _, r := range reports {
		if since > 0 && r.RunAt < since {
			continue
		}
		if jobID != "" && r.JobID != jobID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
