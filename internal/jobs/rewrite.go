package jobs

import (
	"context"
	"fmt"

	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/parse"
	"github.com/curatolabs/tracedesk/internal/provider"
)

// runRewrite regenerates the reasoning of each record via the model,
// splitting the response on the think tag and writing reasoning and answer
// back. Typically scoped by score threshold to target low-quality traces.
func (s *Service) runRewrite(ctx context.Context, b *batch, job *models.Job, apiKey string) error {
	c, base, err := s.completer(job, apiKey)
	if err != nil {
		return err
	}

	logs, err := s.resolveLogs(ctx, job)
	if err != nil {
		return err
	}
	b.setTotal(len(logs))
	b.info("rewriting %d records with %s", len(logs), job.Params.Model)

	ok := run(ctx, b, logs, logID, func(ctx context.Context, log models.SessionLog) outcome {
		req := base
		req.Messages = []models.Message{{
			Role:    "user",
			Content: rewriteInstruction + "\n\n" + renderRecord(log),
		}}

		chunk, err := completeWithRetry(ctx, c, req, b.opts, s.logger)
		if err != nil {
			return errored(err)
		}

		split := parse.ParseThinkTags(provider.CombinedText(chunk))
		reasoning := parse.SanitizeReasoningContent(split.Reasoning)
		if reasoning == "" {
			return skipped("model response carried no reasoning")
		}
		answer := split.Answer
		if answer == "" {
			// Keep the original answer when the model only rewrote the
			// reasoning.
			answer = log.Answer
		}

		patch := models.LogPatch{Reasoning: &reasoning, Answer: &answer}
		if err := s.repo.PatchLog(ctx, models.MustRecordIDString(log.ID), patch); err != nil {
			return errored(fmt.Errorf("write rewrite: %w", err))
		}

		return outcome{Type: models.TraceRewritten, Detail: map[string]any{
			"reasoning_chars": len(reasoning),
			"answer_chars":    len(answer),
		}}
	})
	if !ok {
		return errStopped
	}

	b.data["rewritten"] = b.progress.Succeeded
	return nil
}
