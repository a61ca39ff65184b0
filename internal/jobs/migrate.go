package jobs

import (
	"context"
	"fmt"

	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/parse"
)

// runMigrateReasoning converts legacy tag-based records to field-based:
// the first <think> span is lifted out of answer into the reasoning field.
// No model involved; purely a storage-shape migration.
func (s *Service) runMigrateReasoning(ctx context.Context, b *batch, job *models.Job) error {
	logs, err := s.resolveLogs(ctx, job)
	if err != nil {
		return err
	}
	b.setTotal(len(logs))
	b.info("migrating %d records to field-based reasoning", len(logs))

	ok := run(ctx, b, logs, logID, func(ctx context.Context, log models.SessionLog) outcome {
		if log.Reasoning != "" {
			return skipped("already field-based")
		}

		split := parse.ParseThinkTags(log.Answer)
		if !split.HasThinkTags {
			return skipped("no inline reasoning tags")
		}

		reasoning := parse.SanitizeReasoningContent(split.Reasoning)
		patch := models.LogPatch{Reasoning: &reasoning, Answer: &split.Answer}
		if err := s.repo.PatchLog(ctx, models.MustRecordIDString(log.ID), patch); err != nil {
			return errored(fmt.Errorf("write migration: %w", err))
		}

		return outcome{Type: models.TraceMigrated, Detail: map[string]any{
			"reasoning_chars": len(reasoning),
		}}
	})
	if !ok {
		return errStopped
	}

	b.data["migrated"] = b.progress.Succeeded
	return nil
}
