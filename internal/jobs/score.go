package jobs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/parse"
	"github.com/curatolabs/tracedesk/internal/provider"
)

// runScore grades each record 1-10 via the model and writes the score back.
// Already-scored records are skipped unless the job forces a re-grade.
func (s *Service) runScore(ctx context.Context, b *batch, job *models.Job, apiKey string) error {
	c, base, err := s.completer(job, apiKey)
	if err != nil {
		return err
	}

	logs, err := s.resolveLogs(ctx, job)
	if err != nil {
		return err
	}
	b.setTotal(len(logs))
	b.info("scoring %d records with %s", len(logs), job.Params.Model)

	force := job.Params.Force
	ok := run(ctx, b, logs, logID, func(ctx context.Context, log models.SessionLog) outcome {
		if log.Score != nil && !force {
			return skipped(fmt.Sprintf("already scored (%.1f)", *log.Score))
		}

		req := base
		req.Messages = []models.Message{{
			Role:    "user",
			Content: scoreInstruction + "\n\n" + renderRecord(log),
		}}

		chunk, err := completeWithRetry(ctx, c, req, b.opts, s.logger)
		if err != nil {
			return errored(err)
		}

		grade, ok := parseGrade(provider.CombinedText(chunk))
		if !ok {
			return skipped("unparseable grade in model response")
		}

		patch := models.LogPatch{Score: &grade}
		if err := s.repo.PatchLog(ctx, models.MustRecordIDString(log.ID), patch); err != nil {
			return errored(fmt.Errorf("write score: %w", err))
		}

		detail := map[string]any{"score": grade}
		if log.Score != nil {
			detail["previous"] = *log.Score
		}
		return outcome{Type: models.TraceScored, Detail: detail}
	})
	if !ok {
		return errStopped
	}

	b.data["scored"] = b.progress.Succeeded
	return nil
}

var bareNumberRe = regexp.MustCompile(`\b(10|[1-9])(\.\d+)?\b`)

// parseGrade extracts a 1-10 grade from model output: the requested JSON
// shape first, then the first bare number as a fallback for models that
// ignore the format instruction.
func parseGrade(text string) (float64, bool) {
	res := parse.ExtractJSONFields(text, []string{"grade"})
	if res.Data != nil {
		if n, ok := res.Data["grade"].(float64); ok && n >= 1 && n <= 10 {
			return n, true
		}
	}

	// The answer portion only: grading text embedded in reasoning is noise.
	answer := parse.ParseThinkTags(text).Answer
	if m := bareNumberRe.FindString(answer); m != "" {
		if n, err := strconv.ParseFloat(m, 64); err == nil && n >= 1 && n <= 10 {
			return n, true
		}
	}
	return 0, false
}
