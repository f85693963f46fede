package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

// ErrJobExists is returned when a job ID is reused.
var ErrJobExists = errors.New("job already exists")

// JobStore keeps every job of the process lifetime in memory and remembers the
// most recently created one as the current job.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*scraper.Job
	current string
	now     func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*scraper.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job in queued status and makes it current.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if job.Status == "" {
		job.Status = scraper.JobStatusQueued
	}
	if job.Submitted.IsZero() {
		job.Submitted = s.now()
	}
	job.Outcomes = make(map[scraper.Outcome]int)
	s.jobs[job.ID] = &job
	s.current = job.ID
	return nil
}

// StartJob marks a job running and resets its progress to total rows.
func (s *JobStore) StartJob(_ context.Context, jobID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	job.Status = scraper.JobStatusRunning
	job.Started = pointerTime(s.now())
	job.Progress = scraper.Progress{Total: total}
	return nil
}

// RecordRow advances the counter and current name together.
func (s *JobStore) RecordRow(_ context.Context, jobID, name string, outcome scraper.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	job.Progress.Current++
	job.Progress.CurrentName = name
	job.Outcomes[outcome]++
	return nil
}

// CompleteJob marks a running job succeeded and records its artifact.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, artifact scraper.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	job.Status = scraper.JobStatusSucceeded
	job.Finished = pointerTime(s.now())
	job.Progress.OutputFile = artifact.Location
	job.ArtifactKey = artifact.Key
	job.ArtifactSHA256 = artifact.SHA256
	return nil
}

// FailJob moves a job to a failed or canceled terminal state. A job that has
// already finished keeps its first terminal state.
func (s *JobStore) FailJob(_ context.Context, jobID string, status scraper.JobStatus, errText string) error {
	if status != scraper.JobStatusFailed && status != scraper.JobStatusCanceled {
		return fmt.Errorf("invalid failure status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	job.Status = status
	job.ErrorText = errText
	job.Finished = pointerTime(s.now())
	return nil
}

// GetJob returns a copy of a job.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, err := s.lookup(jobID)
	if err != nil {
		return scraper.Job{}, err
	}
	return cloneJob(job), nil
}

// CurrentJob returns a copy of the most recently created job.
func (s *JobStore) CurrentJob(ctx context.Context) (scraper.Job, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current == "" {
		return scraper.Job{}, fmt.Errorf("current job: %w", scraper.ErrNotFound)
	}
	return s.GetJob(ctx, current)
}

// ListJobs returns copies of jobs newest first. limit <= 0 means no limit.
func (s *JobStore) ListJobs(_ context.Context, status *scraper.JobStatus, limit, offset int) ([]scraper.Job, error) {
	s.mu.RLock()
	matched := make([]scraper.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		matched = append(matched, cloneJob(job))
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b scraper.Job) int {
		if c := b.Submitted.Compare(a.Submitted); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if offset >= len(matched) {
		return []scraper.Job{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// lookup must be called with s.mu held.
func (s *JobStore) lookup(jobID string) (*scraper.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	return job, nil
}

func cloneJob(job *scraper.Job) scraper.Job {
	out := *job
	out.Outcomes = maps.Clone(job.Outcomes)
	if job.Started != nil {
		out.Started = pointerTime(*job.Started)
	}
	if job.Finished != nil {
		out.Finished = pointerTime(*job.Finished)
	}
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
