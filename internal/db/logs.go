package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/curatolabs/tracedesk/internal/models"
)

// defaultPageSize bounds log pages when the caller supplies no limit.
const defaultPageSize = 500

// ListLogs selects a bounded page of session logs per the query scope.
// Exactly one of SessionID, IDs, or ScoreBelow must be set.
func (c *Client) ListLogs(ctx context.Context, q models.LogQuery) ([]models.SessionLog, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	vars := map[string]any{"limit": limit, "offset": q.Offset}

	var where string
	switch {
	case len(q.IDs) > 0:
		ids := make([]surrealmodels.RecordID, 0, len(q.IDs))
		for _, id := range q.IDs {
			ids = append(ids, surrealmodels.RecordID{Table: "log", ID: id})
		}
		where = "WHERE id IN $ids"
		vars["ids"] = ids
	case q.ScoreBelow != nil:
		where = "WHERE score != NONE AND score < $below"
		vars["below"] = *q.ScoreBelow
	case q.SessionID != "":
		where = "WHERE session_id = $sid"
		vars["sid"] = q.SessionID
	default:
		return nil, fmt.Errorf("log query requires a session id, id list, or score threshold")
	}

	sql := fmt.Sprintf(`
		SELECT * FROM log %s ORDER BY created_at ASC LIMIT $limit START $offset
	`, where)

	results, err := surrealdb.Query[[]models.SessionLog](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// GetLog retrieves a single log by id. Returns nil if not found.
func (c *Client) GetLog(ctx context.Context, id string) (*models.SessionLog, error) {
	results, err := surrealdb.Query[[]models.SessionLog](ctx, c.db, `
		SELECT * FROM type::record("log", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get log: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// PatchLog writes back selected fields of a log. Nil patch fields are left
// untouched. updated_at is always refreshed.
func (c *Client) PatchLog(ctx context.Context, id string, patch models.LogPatch) error {
	merge := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Score != nil {
		merge["score"] = *patch.Score
	}
	if patch.Reasoning != nil {
		merge["reasoning"] = *patch.Reasoning
	}
	if patch.Answer != nil {
		merge["answer"] = *patch.Answer
	}
	if patch.SessionID != nil {
		merge["session_id"] = *patch.SessionID
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("log", $id) MERGE $patch
	`, map[string]any{"id": id, "patch": merge})
	if err != nil {
		return fmt.Errorf("patch log: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteLog removes a log. Returns false if it did not exist.
func (c *Client) DeleteLog(ctx context.Context, id string) (bool, error) {
	existing, err := c.GetLog(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("log", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("delete log: %w", err)
	}
	return true, nil
}

// ListOrphanLogs returns logs whose session record no longer exists.
func (c *Client) ListOrphanLogs(ctx context.Context, limit int) ([]models.SessionLog, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	results, err := surrealdb.Query[[]models.SessionLog](ctx, c.db, `
		SELECT * FROM log
		WHERE !record::exists(type::thing("session", session_id))
		ORDER BY created_at ASC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list orphan logs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// SessionExists reports whether a session record exists.
func (c *Client) SessionExists(ctx context.Context, id string) (bool, error) {
	results, err := surrealdb.Query[bool](ctx, c.db, `
		RETURN record::exists(type::thing("session", $id))
	`, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return false, nil
	}
	return (*results)[0].Result, nil
}

// CreateSession creates a session record.
func (c *Client) CreateSession(ctx context.Context, id, name string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("session", $id) SET name = $name, created_at = time::now()
	`, map[string]any{"id": id, "name": name})
	if err != nil {
		return fmt.Errorf("create session: %w", wrapQueryError(err))
	}
	return nil
}

// logContent is a SessionLog without the record id, for CONTENT payloads.
type logContent struct {
	SessionID string           `json:"session_id"`
	Query     string           `json:"query,omitempty"`
	Reasoning string           `json:"reasoning,omitempty"`
	Answer    string           `json:"answer,omitempty"`
	Messages  []models.Message `json:"messages,omitempty"`
	Score     *float64         `json:"score,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// UpsertLog creates a log with the given id, or leaves an existing record
// untouched. Returns whether the record was created, which makes snapshot
// imports idempotent on id.
func (c *Client) UpsertLog(ctx context.Context, id string, log models.SessionLog) (bool, error) {
	existing, err := c.GetLog(ctx, id)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	now := time.Now().UTC()
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	content := logContent{
		SessionID: log.SessionID,
		Query:     log.Query,
		Reasoning: log.Reasoning,
		Answer:    log.Answer,
		Messages:  log.Messages,
		Score:     log.Score,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("log", $id) CONTENT $data
	`, map[string]any{"id": id, "data": content})
	if err != nil {
		return false, fmt.Errorf("upsert log: %w", wrapQueryError(err))
	}
	return true, nil
}
