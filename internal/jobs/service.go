// Package jobs runs background curation jobs over session-log records: one
// generic batch pipeline plus a runner per job type. The pipeline owns
// slicing, concurrency, retries, cooperative cancellation, and progress
// publication; runners only decide what to do with a single item.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/curatolabs/tracedesk/internal/jobstore"
	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/provider"
)

// Repository is the record store the runners read and write. Implemented by
// internal/db; faked in tests.
type Repository interface {
	ListLogs(ctx context.Context, q models.LogQuery) ([]models.SessionLog, error)
	PatchLog(ctx context.Context, id string, patch models.LogPatch) error
	DeleteLog(ctx context.Context, id string) (bool, error)
	ListOrphanLogs(ctx context.Context, limit int) ([]models.SessionLog, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	UpsertLog(ctx context.Context, id string, log models.SessionLog) (bool, error)
}

// Completer is the non-streaming model call the batch runners make.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (provider.Chunk, error)
}

// CompleterFactory builds a Completer for one job's provider target. The
// API key arrives with the request and is never stored with the job.
type CompleterFactory func(cfg provider.Config) Completer

// Service launches and resumes jobs.
type Service struct {
	store          *jobstore.Store
	repo           Repository
	newCompleter   CompleterFactory
	maxConcurrency int
	logger         *slog.Logger
}

// NewService wires the job runners. factory may be nil, in which case the
// real provider client is used.
func NewService(store *jobstore.Store, repo Repository, factory CompleterFactory, maxConcurrency int, logger *slog.Logger) *Service {
	if factory == nil {
		factory = func(cfg provider.Config) Completer {
			return provider.NewClient(cfg, logger)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:          store,
		repo:           repo,
		newCompleter:   factory,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// Launch runs the job in a background goroutine. The goroutine is detached
// from any request context: cancellation happens cooperatively through the
// store, not by killing the context. A panicking runner fails the job
// instead of taking the process down.
func (s *Service) Launch(job *models.Job, apiKey string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
				status := models.JobStatusFailed
				msg := fmt.Sprintf("internal error: %v", r)
				s.store.Update(context.Background(), job.ID, jobstore.Patch{Status: &status, Error: &msg})
			}
		}()
		s.Run(context.Background(), job, apiKey)
	}()
}

// Resume reloads a failed job and relaunches it under the same id, carrying
// its trace forward. Items with a success outcome in the trace are filtered
// out of the new work set.
func (s *Service) Resume(ctx context.Context, id, apiKey string) (*models.Job, error) {
	job := s.store.Get(ctx, id)
	if job == nil {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("job %s is %s; only failed jobs can be resumed", id, job.Status)
	}

	running := models.JobStatusRunning
	empty := ""
	job = s.store.Update(ctx, id, jobstore.Patch{Status: &running, Error: &empty})
	if job == nil {
		return nil, fmt.Errorf("job %s vanished during resume", id)
	}

	s.logger.Info("resuming job", "job_id", id, "type", job.Type, "processed", len(job.ProcessedIDs()))
	s.Launch(job, apiKey)
	return job, nil
}

// Run executes the job synchronously. Exposed for tests; production code
// goes through Launch.
func (s *Service) Run(ctx context.Context, job *models.Job, apiKey string) {
	start := time.Now()
	running := models.JobStatusRunning
	if updated := s.store.Update(ctx, job.ID, jobstore.Patch{Status: &running}); updated != nil {
		job = updated
	}

	opts := optionsFromParams(job.Params, s.maxConcurrency)
	b := newBatch(s.store, job, opts, s.logger)
	s.logger.Info("job started",
		"job_id", job.ID,
		"type", job.Type,
		"concurrency", opts.Concurrency)

	var err error
	switch job.Type {
	case models.JobTypeScore:
		err = s.runScore(ctx, b, job, apiKey)
	case models.JobTypeRewrite:
		err = s.runRewrite(ctx, b, job, apiKey)
	case models.JobTypeRemoveItems:
		err = s.runRemoveItems(ctx, b, job)
	case models.JobTypeMigrateReasoning:
		err = s.runMigrateReasoning(ctx, b, job)
	case models.JobTypeOrphanCheck:
		err = s.runOrphanCheck(ctx, b, job)
	case models.JobTypeOrphanSync:
		err = s.runOrphanSync(ctx, b, job)
	case models.JobTypeMigrateExternal:
		err = s.runMigrateExternal(ctx, b, job)
	default:
		err = fmt.Errorf("no runner for job type %q", job.Type)
	}

	switch {
	case err == errStopped:
		// The store already carries the terminal state set by the canceller
		// or the stall sweep. If our own context died instead, record it.
		if ctx.Err() != nil {
			b.fail(ctx, fmt.Errorf("interrupted; resume available"))
		}
		s.logger.Info("job stopped", "job_id", job.ID, "elapsed", time.Since(start))
	case err != nil:
		b.fail(ctx, err)
		s.logger.Error("job failed", "job_id", job.ID, "error", err, "elapsed", time.Since(start))
	default:
		b.complete(ctx)
		s.logger.Info("job completed",
			"job_id", job.ID,
			"succeeded", b.progress.Succeeded,
			"skipped", b.progress.Skipped,
			"errored", b.progress.Errored,
			"elapsed", time.Since(start))
	}
}

// errStopped signals that the batch loop stopped early because the job went
// terminal under it. Not an error condition of the runner itself.
var errStopped = fmt.Errorf("job stopped")

// completer builds the model client for a job from its stored parameters
// and the per-request credential.
func (s *Service) completer(job *models.Job, apiKey string) (Completer, provider.Request, error) {
	family, err := provider.ParseFamily(job.Params.Provider)
	if err != nil {
		return nil, provider.Request{}, err
	}
	if job.Params.Model == "" {
		return nil, provider.Request{}, fmt.Errorf("model is required for %s jobs", job.Type)
	}

	c := s.newCompleter(provider.Config{
		BaseURL: job.Params.BaseURL,
		APIKey:  apiKey,
		Family:  family,
	})
	base := provider.Request{
		Model:        job.Params.Model,
		SystemPrompt: job.Params.SystemPrompt,
	}
	return c, base, nil
}

// resolveLogs loads the job's work set from its stored scope and, on
// resume, drops items the trace already records as successfully processed.
func (s *Service) resolveLogs(ctx context.Context, job *models.Job) ([]models.SessionLog, error) {
	q := models.LogQuery{
		SessionID:  job.Params.SessionID,
		IDs:        job.Params.LogIDs,
		ScoreBelow: job.Params.ScoreBelow,
		Offset:     job.Params.Offset,
		Limit:      job.Params.Limit,
	}
	logs, err := s.repo.ListLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	processed := job.ProcessedIDs()
	if len(processed) == 0 {
		return logs, nil
	}
	remaining := logs[:0]
	for _, l := range logs {
		if !processed[models.MustRecordIDString(l.ID)] {
			remaining = append(remaining, l)
		}
	}
	return remaining, nil
}

func logID(l models.SessionLog) string {
	return models.MustRecordIDString(l.ID)
}
