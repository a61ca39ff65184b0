package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curatolabs/tracedesk/internal/jobstore"
	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/provider"
)

// Pipeline defaults. Concurrency defaults to sequential; operators opt in
// to parallelism per job, bounded by the server-wide maximum.
const (
	defaultConcurrency = 1
	defaultMaxRetries  = 2
	defaultRetryDelay  = 2 * time.Second
	defaultBatchDelay  = 500 * time.Millisecond
)

// RunOptions are the resolved pipeline knobs for one job.
type RunOptions struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	BatchDelay  time.Duration
}

// optionsFromParams applies defaults and clamps concurrency to the
// server-wide maximum.
func optionsFromParams(p models.JobParams, maxConcurrency int) RunOptions {
	opts := RunOptions{
		Concurrency: p.Concurrency,
		MaxRetries:  p.MaxRetries,
		RetryDelay:  time.Duration(p.RetryDelayMS) * time.Millisecond,
		BatchDelay:  time.Duration(p.BatchDelayMS) * time.Millisecond,
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if maxConcurrency > 0 && opts.Concurrency > maxConcurrency {
		opts.Concurrency = maxConcurrency
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if p.RetryDelayMS <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if p.BatchDelayMS <= 0 {
		opts.BatchDelay = defaultBatchDelay
	}
	return opts
}

// outcome is the per-item verdict a runner's item function returns. Exactly
// one is recorded in the trace for every item a batch touches.
type outcome struct {
	Type    models.TraceEventType
	Message string
	Detail  map[string]any
}

func skipped(msg string) outcome {
	return outcome{Type: models.TraceSkipped, Message: msg}
}

func errored(err error) outcome {
	return outcome{Type: models.TraceErrored, Message: err.Error()}
}

// batch drives one job through the slice-based processing loop and owns the
// job's trace and progress until the job finishes. Runners append info
// entries and per-item outcomes through it; it publishes to the store after
// every slice so observers see progress while the job runs.
type batch struct {
	store  *jobstore.Store
	jobID  string
	opts   RunOptions
	logger *slog.Logger

	trace    []models.TraceEvent
	progress models.Progress
	data     map[string]any
}

// newBatch seeds the loop state from the job, carrying forward the trace
// and counters of a resumed run.
func newBatch(store *jobstore.Store, job *models.Job, opts RunOptions, logger *slog.Logger) *batch {
	return &batch{
		store:    store,
		jobID:    job.ID,
		opts:     opts,
		logger:   logger,
		trace:    append([]models.TraceEvent(nil), job.Result.Trace...),
		progress: job.Progress,
		data:     map[string]any{},
	}
}

// info appends a non-outcome trace entry. Not published until the next
// slice boundary.
func (b *batch) info(format string, args ...any) {
	b.trace = append(b.trace, models.TraceEvent{
		Type:      models.TraceInfo,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
}

// setTotal fixes the progress denominator. On resume the carried-over
// Current plus the remaining items reconstructs the original total.
func (b *batch) setTotal(remaining int) {
	b.progress.Total = b.progress.Current + remaining
}

// run processes items in concurrency-sized slices. Between slices it
// re-reads job status from the store: if the job went terminal externally
// (cancel, stall sweep) it stops cooperatively, publishing what it has.
// Within a slice all items are fired concurrently and all are awaited;
// results pair with inputs by index, so the trace order is deterministic
// per slice regardless of goroutine scheduling. Returns false when the
// loop stopped, or finished under a job that went terminal; the caller
// must not mark such a job completed.
func run[T any](ctx context.Context, b *batch, items []T, itemID func(T) string, fn func(context.Context, T) outcome) bool {
	size := b.opts.Concurrency

	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			b.publish(ctx)
			return false
		}
		if b.terminated(ctx) {
			return false
		}

		end := min(start+size, len(items))
		slice := items[start:end]
		results := make([]outcome, len(slice))

		var wg sync.WaitGroup
		for i, item := range slice {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = fn(ctx, item)
			}()
		}
		wg.Wait()

		now := time.Now().UTC()
		for i, res := range results {
			b.trace = append(b.trace, models.TraceEvent{
				Type:      res.Type,
				Timestamp: now,
				ItemID:    itemID(slice[i]),
				Message:   res.Message,
				Detail:    res.Detail,
			})
			switch {
			case res.Type.IsSuccessOutcome():
				b.progress.Succeeded++
			case res.Type == models.TraceSkipped:
				b.progress.Skipped++
			default:
				b.progress.Errored++
			}
		}
		b.progress.Current += len(slice)
		b.publish(ctx)

		if end < len(items) && b.opts.BatchDelay > 0 {
			if err := sleepCtx(ctx, b.opts.BatchDelay); err != nil {
				return false
			}
		}
	}
	// A cancel landing while the final slice was in flight has no later
	// boundary to catch it, so check once more before the caller completes.
	return !b.terminated(ctx)
}

// terminated reports whether the job went terminal externally (cancel,
// stall sweep). When it has, it records where the loop stopped, using the
// canceller's reason, and publishes the trace so far.
func (b *batch) terminated(ctx context.Context) bool {
	job := b.store.Get(ctx, b.jobID)
	if job != nil && !job.Status.Terminal() {
		return false
	}
	reason := "job is no longer running"
	if job != nil && job.Error != "" {
		reason = job.Error
	}
	b.info("%s at item %d/%d", reason, b.progress.Current, b.progress.Total)
	b.publish(ctx)
	return true
}

// publish pushes the current trace and counters to the store.
func (b *batch) publish(ctx context.Context) {
	b.store.Update(ctx, b.jobID, jobstore.Patch{
		Progress: &b.progress,
		Result:   &models.JobResult{Trace: b.trace, Data: b.data},
	})
}

// complete marks the job completed with the final trace and summary data.
func (b *batch) complete(ctx context.Context) *models.Job {
	b.info("done: %d succeeded, %d skipped, %d errored",
		b.progress.Succeeded, b.progress.Skipped, b.progress.Errored)
	status := models.JobStatusCompleted
	return b.store.Update(ctx, b.jobID, jobstore.Patch{
		Status:   &status,
		Progress: &b.progress,
		Result:   &models.JobResult{Trace: b.trace, Data: b.data},
	})
}

// fail marks the job failed, keeping the trace so the run can be resumed.
func (b *batch) fail(ctx context.Context, err error) *models.Job {
	status := models.JobStatusFailed
	msg := err.Error()
	return b.store.Update(ctx, b.jobID, jobstore.Patch{
		Status:   &status,
		Error:    &msg,
		Progress: &b.progress,
		Result:   &models.JobResult{Trace: b.trace, Data: b.data},
	})
}

// completeWithRetry wraps a model call in the pipeline's fixed-delay retry:
// up to MaxRetries extra attempts, only for errors the provider layer deems
// transient. Distinct from the provider's exponential connect backoff; this
// covers whole-call failures at the item level.
func completeWithRetry(ctx context.Context, c Completer, req provider.Request, opts RunOptions, logger *slog.Logger) (provider.Chunk, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying item", "attempt", attempt, "max", opts.MaxRetries, "error", lastErr)
			if err := sleepCtx(ctx, opts.RetryDelay); err != nil {
				return provider.Chunk{}, err
			}
		}

		chunk, err := c.Complete(ctx, req)
		if err == nil {
			return chunk, nil
		}
		if !provider.IsRetryable(err) {
			return provider.Chunk{}, err
		}
		lastErr = err
	}
	return provider.Chunk{}, fmt.Errorf("all %d attempts failed: %w", opts.MaxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
