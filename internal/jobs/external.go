package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/curatolabs/tracedesk/internal/models"
)

// snapshotRecord is one entry of an external store export. Ids are plain
// strings in the export; they become record ids on import.
type snapshotRecord struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Query     string           `json:"query,omitempty"`
	Reasoning string           `json:"reasoning,omitempty"`
	Answer    string           `json:"answer,omitempty"`
	Messages  []models.Message `json:"messages,omitempty"`
	Score     *float64         `json:"score,omitempty"`
}

// runMigrateExternal imports records from a JSON snapshot file. The import
// is idempotent on record id: existing records are skipped, never
// overwritten, so a resumed or rerun import cannot clobber local edits.
func (s *Service) runMigrateExternal(ctx context.Context, b *batch, job *models.Job) error {
	path := job.Params.SourceSnapshot
	if path == "" {
		return fmt.Errorf("migrate-from-external-store requires a source snapshot path")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var records []snapshotRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	processed := job.ProcessedIDs()
	remaining := records[:0]
	for _, r := range records {
		if r.ID != "" && !processed[r.ID] {
			remaining = append(remaining, r)
		}
	}
	b.setTotal(len(remaining))
	b.info("importing %d records from %s", len(remaining), path)

	ok := run(ctx, b, remaining, func(r snapshotRecord) string { return r.ID }, func(ctx context.Context, r snapshotRecord) outcome {
		created, err := s.repo.UpsertLog(ctx, r.ID, models.SessionLog{
			SessionID: r.SessionID,
			Query:     r.Query,
			Reasoning: r.Reasoning,
			Answer:    r.Answer,
			Messages:  r.Messages,
			Score:     r.Score,
		})
		if err != nil {
			return errored(fmt.Errorf("import: %w", err))
		}
		if !created {
			return skipped("record already exists")
		}
		return outcome{Type: models.TraceImported}
	})
	if !ok {
		return errStopped
	}

	b.data["imported"] = b.progress.Succeeded
	return nil
}
