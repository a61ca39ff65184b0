// Package jobstore tracks long-running background jobs. The in-memory map is
// the single source of truth while a job is resident in this process; the
// durable backend is a secondary, best-effort mirror. Persistence failures
// are logged and swallowed so the processing pipeline's liveness never
// depends on the durable store being reachable. Jobs that only ever lived
// in memory are lost across restarts.
package jobstore

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/curatolabs/tracedesk/internal/models"
)

// CancelledMessage is the sentinel error text set on a job cancelled by the
// client. Running pipelines detect cancellation by re-reading job status; the
// message distinguishes user cancels from genuine failures for resume hints.
const CancelledMessage = "cancelled by user"

// maxTraceLen caps the persisted trace of long-running resumed jobs. When
// exceeded, the oldest non-outcome (info/warn/error) entries are dropped
// first: resume reconstruction reads only outcome entries, so trimming chat
// noise never affects the processed-item ledger.
const maxTraceLen = 10000

// Persistence is the durable mirror behind the store. All writes through it
// are advisory.
type Persistence interface {
	CreateJob(ctx context.Context, job *models.Job) error
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, jobType, status string, limit int) ([]*models.Job, error)
}

// Store is an injectable job store. Construct one per process (or per test);
// it is never a package-level singleton.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	db     Persistence // may be nil: in-memory only
	logger *slog.Logger
}

// New creates a store. db may be nil to run without a durable mirror.
func New(db Persistence, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		jobs:   make(map[string]*models.Job),
		db:     db,
		logger: logger,
	}
}

// Patch is a shallow merge applied to a job. Nil fields are left untouched.
type Patch struct {
	Status   *models.JobStatus
	Progress *models.Progress
	Result   *models.JobResult
	Error    *string
}

// Create allocates a fresh pending job and persists it best-effort.
func (s *Store) Create(ctx context.Context, jobType models.JobType, params models.JobParams) *models.Job {
	now := time.Now().UTC()
	job := &models.Job{
		ID:        models.NewJobID(jobType),
		Type:      jobType,
		Status:    models.JobStatusPending,
		Params:    params,
		Result:    models.JobResult{Trace: []models.TraceEvent{}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.CreateJob(ctx, job); err != nil {
			s.logger.Warn("failed to persist job creation", "job_id", job.ID, "error", err)
		}
	}

	s.logger.Info("job created", "job_id", job.ID, "type", jobType)
	return snapshot(job)
}

// Update shallow-merges the patch into the job and stamps UpdatedAt. If the
// job is not resident (e.g. after a restart), it is fetched from the durable
// store, merged, and re-registered. Returns the updated job, or nil when the
// job is unknown to both views. Never fails on persistence errors.
func (s *Store) Update(ctx context.Context, id string, patch Patch) *models.Job {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		// Fetch-merge-write fallback against the durable store.
		job = s.fetchDurable(ctx, id)
		if job == nil {
			s.mu.Unlock()
			return nil
		}
		s.jobs[id] = job
	}

	applyPatch(job, patch)
	job.UpdatedAt = time.Now().UTC()
	capTrace(job)
	updated := snapshot(job)
	s.mu.Unlock()

	s.persist(ctx, updated)
	return updated
}

// Get returns the job from memory, falling back to the durable store.
// Returns nil if not found in either view.
func (s *Store) Get(ctx context.Context, id string) *models.Job {
	s.mu.RLock()
	job, ok := s.jobs[id]
	if ok {
		defer s.mu.RUnlock()
		return snapshot(job)
	}
	s.mu.RUnlock()

	return s.fetchDurable(ctx, id)
}

// ListFilter narrows a List call. Zero values match everything.
type ListFilter struct {
	Type   models.JobType
	Status models.JobStatus
	Limit  int
}

// List merges the in-memory and durable views, memory winning on conflict,
// sorted by CreatedAt descending and truncated to the limit.
func (s *Store) List(ctx context.Context, f ListFilter) []*models.Job {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	merged := make(map[string]*models.Job)

	if s.db != nil {
		durable, err := s.db.ListJobs(ctx, string(f.Type), string(f.Status), limit)
		if err != nil {
			s.logger.Warn("failed to list jobs from durable store", "error", err)
		}
		for _, j := range durable {
			merged[j.ID] = j
		}
	}

	s.mu.RLock()
	for id, j := range s.jobs {
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		merged[id] = snapshot(j)
	}
	s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(merged))
	for _, j := range merged {
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b *models.Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Cancel flips the job to failed with the cancelled-by-user sentinel. A
// running pipeline observes this on its next between-slice status check and
// stops cooperatively. Returns nil if the job is unknown.
func (s *Store) Cancel(ctx context.Context, id string) *models.Job {
	failed := models.JobStatusFailed
	msg := CancelledMessage
	job := s.Update(ctx, id, Patch{Status: &failed, Error: &msg})
	if job != nil {
		s.logger.Info("job cancelled", "job_id", id)
	}
	return job
}

// Register places an externally constructed job (e.g. one reloaded for
// resume) into the in-memory map.
func (s *Store) Register(job *models.Job) {
	s.mu.Lock()
	s.jobs[job.ID] = snapshot(job)
	s.mu.Unlock()
}

// RecoverInterrupted marks jobs left in status=running by a previous process
// as failed-resumable. Called once at startup, before any new job runs.
func (s *Store) RecoverInterrupted(ctx context.Context) int {
	if s.db == nil {
		return 0
	}

	running, err := s.db.ListJobs(ctx, "", string(models.JobStatusRunning), 0)
	if err != nil {
		s.logger.Warn("failed to list running jobs for recovery", "error", err)
		return 0
	}

	for _, job := range running {
		job.Status = models.JobStatusFailed
		job.Error = "interrupted by restart; resume available"
		job.UpdatedAt = time.Now().UTC()
		s.Register(job)
		s.persist(ctx, job)
		s.logger.Info("recovered interrupted job", "job_id", job.ID, "type", job.Type)
	}
	return len(running)
}

// fetchDurable reads a job from the durable store, returning nil on miss or
// error (errors are logged, not propagated).
func (s *Store) fetchDurable(ctx context.Context, id string) *models.Job {
	if s.db == nil {
		return nil
	}
	job, err := s.db.GetJob(ctx, id)
	if err != nil {
		s.logger.Warn("failed to fetch job from durable store", "job_id", id, "error", err)
		return nil
	}
	return job
}

// persist mirrors the full job state to the durable store, best-effort.
func (s *Store) persist(ctx context.Context, job *models.Job) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveJob(ctx, job); err != nil {
		s.logger.Warn("failed to persist job update", "job_id", job.ID, "error", err)
	}
}

func applyPatch(job *models.Job, patch Patch) {
	// The first terminal writer wins. A pipeline finishing its last slice
	// must not overwrite a concurrent cancel or stall sweep, so a terminal
	// job never transitions to another terminal status.
	if patch.Status != nil && job.Status.Terminal() && patch.Status.Terminal() {
		patch.Status = nil
		patch.Error = nil
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.Result != nil {
		job.Result = *patch.Result
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
}

// capTrace enforces maxTraceLen, dropping oldest non-outcome entries first.
func capTrace(job *models.Job) {
	trace := job.Result.Trace
	if len(trace) <= maxTraceLen {
		return
	}

	over := len(trace) - maxTraceLen
	kept := make([]models.TraceEvent, 0, maxTraceLen)
	for _, ev := range trace {
		if over > 0 && !ev.Type.IsOutcome() {
			over--
			continue
		}
		kept = append(kept, ev)
	}
	// Still over after stripping noise: drop oldest entries outright.
	if len(kept) > maxTraceLen {
		kept = kept[len(kept)-maxTraceLen:]
	}
	job.Result.Trace = kept
}

// snapshot deep-copies the mutable parts so callers never share the stored
// trace slice with a running pipeline.
func snapshot(job *models.Job) *models.Job {
	cp := *job
	cp.Result.Trace = slices.Clone(job.Result.Trace)
	return &cp
}
