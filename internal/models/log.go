package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Message is one turn of a conversational record.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

// SessionLog is one reasoning-trace record (a work item). The job pipeline
// treats it as opaque: it reads a page, computes a transformation, and
// writes back selected fields. Records are either flat
// (query/reasoning/answer) or multi-turn (messages).
type SessionLog struct {
	ID        surrealmodels.RecordID `json:"id"`
	SessionID string                 `json:"session_id"`
	Query     string                 `json:"query,omitempty"`
	Reasoning string                 `json:"reasoning,omitempty"`
	Answer    string                 `json:"answer,omitempty"`
	Messages  []Message              `json:"messages,omitempty"`
	Score     *float64               `json:"score,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Session groups logs produced in one curation run.
type Session struct {
	ID        surrealmodels.RecordID `json:"id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"created_at"`
}

// LogPatch is a partial write-back to a session log. Nil fields are left
// untouched.
type LogPatch struct {
	Score     *float64 `json:"score,omitempty"`
	Reasoning *string  `json:"reasoning,omitempty"`
	Answer    *string  `json:"answer,omitempty"`
	SessionID *string  `json:"session_id,omitempty"`
}

// LogQuery selects a bounded page of work items. Exactly one of SessionID,
// IDs, or ScoreBelow must be set; the three scopes are mutually exclusive.
type LogQuery struct {
	SessionID  string
	IDs        []string
	ScoreBelow *float64
	Offset     int
	Limit      int
}
