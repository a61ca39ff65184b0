package jobs

import (
	"context"
	"fmt"

	"github.com/curatolabs/tracedesk/internal/models"
)

// runRemoveItems deletes an explicit id list. The destructive job type
// never derives its work set from a query; the caller must name every id.
func (s *Service) runRemoveItems(ctx context.Context, b *batch, job *models.Job) error {
	if len(job.Params.LogIDs) == 0 {
		return fmt.Errorf("remove-items requires an explicit id list")
	}

	processed := job.ProcessedIDs()
	ids := make([]string, 0, len(job.Params.LogIDs))
	for _, id := range job.Params.LogIDs {
		if !processed[id] {
			ids = append(ids, id)
		}
	}
	b.setTotal(len(ids))
	b.info("removing %d records", len(ids))

	ok := run(ctx, b, ids, func(id string) string { return id }, func(ctx context.Context, id string) outcome {
		deleted, err := s.repo.DeleteLog(ctx, id)
		if err != nil {
			return errored(fmt.Errorf("delete: %w", err))
		}
		if !deleted {
			return skipped("not found")
		}
		return outcome{Type: models.TraceRemoved}
	})
	if !ok {
		return errStopped
	}

	b.data["removed"] = b.progress.Succeeded
	return nil
}
