package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/curatolabs/tracedesk/internal/models"
)

// StallMonitor periodically sweeps for running jobs whose UpdatedAt has not
// advanced past a threshold and fails them with a resume hint. A stalled
// timestamp means the owning goroutine died or hung: every pipeline slice
// refreshes UpdatedAt, so a healthy job can never look stale.
type StallMonitor struct {
	store     *Store
	interval  time.Duration
	threshold time.Duration
	logger    *slog.Logger
	sweeping  atomic.Bool
}

// NewStallMonitor creates a monitor. Interval and threshold must be positive.
func NewStallMonitor(store *Store, interval, threshold time.Duration, logger *slog.Logger) *StallMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StallMonitor{
		store:     store,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (m *StallMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// sweep fails every running job stalled past the threshold. If a previous
// sweep is still executing when the interval fires, this one is skipped
// entirely, since overlapping sweeps under a slow durable store would otherwise
// pile up without bound.
func (m *StallMonitor) sweep(ctx context.Context) {
	if !m.sweeping.CompareAndSwap(false, true) {
		m.logger.Debug("previous stall sweep still running, skipping")
		return
	}
	defer m.sweeping.Store(false)

	now := time.Now().UTC()
	for _, job := range m.store.List(ctx, ListFilter{Status: models.JobStatusRunning, Limit: 1000}) {
		stalled := now.Sub(job.UpdatedAt)
		if stalled < m.threshold {
			continue
		}

		failed := models.JobStatusFailed
		msg := fmt.Sprintf("job stalled: no progress for %s; resume available", stalled.Round(time.Second))
		m.store.Update(ctx, job.ID, Patch{Status: &failed, Error: &msg})
		m.logger.Warn("marked stalled job as failed",
			"job_id", job.ID,
			"type", job.Type,
			"stalled_for", stalled.Round(time.Second))
	}
}
