package enrich

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a backfill job.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Job is a batch enrichment running in the background.
type Job struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Status    JobStatus    `json:"status"`
	Total     int          `json:"total"`
	Progress  int          `json:"progress"` // 0-100
	Report    *BatchReport `json:"report,omitempty"`
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"startedAt"`
	DoneAt    *time.Time   `json:"doneAt,omitempty"`
}

// JobFunc does the work of a job, reporting progress as 0-100.
type JobFunc func(ctx context.Context, progress func(int)) (BatchReport, error)

// Jobs tracks background batch jobs in memory.
type Jobs struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewJobs(logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		jobs:   make(map[string]*Job),
		logger: logger,
	}
}

// Submit starts fn in its own goroutine and returns the job id immediately.
func (j *Jobs) Submit(ctx context.Context, kind string, total int, fn JobFunc) string {
	id := uuid.NewString()
	job := &Job{
		ID:        id,
		Kind:      kind,
		Status:    JobPending,
		Total:     total,
		StartedAt: time.Now().UTC(),
	}
	j.mu.Lock()
	j.jobs[id] = job
	j.mu.Unlock()

	j.logger.Info("enrichment job submitted", "id", id, "kind", kind, "total", total)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		j.mu.Lock()
		job.Status = JobRunning
		j.mu.Unlock()

		rep, err := fn(ctx, func(pct int) {
			j.mu.Lock()
			job.Progress = min(max(pct, 0), 100)
			j.mu.Unlock()
		})

		j.mu.Lock()
		defer j.mu.Unlock()
		done := time.Now().UTC()
		job.DoneAt = &done
		job.Report = &rep
		if err != nil {
			job.Status = JobFailed
			job.Error = err.Error()
			j.logger.Error("enrichment job failed", "id", id, "err", err)
			return
		}
		job.Status = JobComplete
		job.Progress = 100
		j.logger.Info("enrichment job completed", "id", id,
			"succeeded", rep.Succeeded, "failed", rep.Failed, "skipped", rep.Skipped)
	}()
	return id
}

// Get returns a copy of the job state.
func (j *Jobs) Get(id string) (Job, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	job, ok := j.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(job), true
}

// List returns all jobs, oldest first.
func (j *Jobs) List() []Job {
	j.mu.RLock()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, snapshot(job))
	}
	j.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out
}

// Clean removes finished jobs older than maxAge.
func (j *Jobs) Clean(maxAge time.Duration) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range j.jobs {
		if job.DoneAt != nil && job.DoneAt.Before(cutoff) {
			delete(j.jobs, id)
			removed++
		}
	}
	return removed
}

// Wait blocks until every submitted job has finished.
func (j *Jobs) Wait() {
	j.wg.Wait()
}

func snapshot(job *Job) Job {
	c := *job
	if job.Report != nil {
		r := *job.Report
		c.Report = &r
	}
	return c
}
