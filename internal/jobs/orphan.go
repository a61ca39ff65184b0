package jobs

import (
	"context"
	"fmt"

	"github.com/curatolabs/tracedesk/internal/models"
)

// orphanScanLimit bounds one orphan sweep. Repeated runs drain larger
// backlogs; an unbounded scan could hold a huge result set in memory.
const orphanScanLimit = 5000

// runOrphanCheck scans for logs whose session record is missing and reports
// them without touching anything. The trace doubles as the orphan report.
func (s *Service) runOrphanCheck(ctx context.Context, b *batch, job *models.Job) error {
	logs, err := s.orphans(ctx, job)
	if err != nil {
		return err
	}
	b.setTotal(len(logs))
	b.info("checking %d orphaned records", len(logs))

	orphanIDs := make([]string, 0, len(logs))
	ok := run(ctx, b, logs, logID, func(ctx context.Context, log models.SessionLog) outcome {
		return outcome{
			Type:    models.TraceChecked,
			Message: "session missing",
			Detail:  map[string]any{"session_id": log.SessionID},
		}
	})
	for _, log := range logs {
		orphanIDs = append(orphanIDs, models.MustRecordIDString(log.ID))
	}
	b.data["orphans"] = len(logs)
	b.data["orphan_ids"] = orphanIDs
	if !ok {
		return errStopped
	}
	return nil
}

// runOrphanSync repairs the same scan: every orphaned log is reassigned to
// the target session, which must exist before any write happens.
func (s *Service) runOrphanSync(ctx context.Context, b *batch, job *models.Job) error {
	target := job.Params.TargetSession
	if target == "" {
		return fmt.Errorf("orphan-sync requires a target session")
	}
	exists, err := s.repo.SessionExists(ctx, target)
	if err != nil {
		return fmt.Errorf("check target session: %w", err)
	}
	if !exists {
		return fmt.Errorf("target session %q does not exist", target)
	}

	logs, err := s.orphans(ctx, job)
	if err != nil {
		return err
	}
	b.setTotal(len(logs))
	b.info("reassigning %d orphaned records to %s", len(logs), target)

	ok := run(ctx, b, logs, logID, func(ctx context.Context, log models.SessionLog) outcome {
		if err := s.repo.PatchLog(ctx, models.MustRecordIDString(log.ID), models.LogPatch{SessionID: &target}); err != nil {
			return errored(fmt.Errorf("reassign: %w", err))
		}
		return outcome{Type: models.TraceReassign, Detail: map[string]any{
			"from": log.SessionID,
			"to":   target,
		}}
	})
	if !ok {
		return errStopped
	}

	b.data["reassigned"] = b.progress.Succeeded
	return nil
}

// orphans loads the orphan work set, dropping already-processed items on
// resume.
func (s *Service) orphans(ctx context.Context, job *models.Job) ([]models.SessionLog, error) {
	limit := job.Params.Limit
	if limit <= 0 {
		limit = orphanScanLimit
	}
	logs, err := s.repo.ListOrphanLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("scan orphans: %w", err)
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
