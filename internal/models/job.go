// Package models defines data structures shared across the Tracedesk services.
package models

import (
	"fmt"
	"time"
)

// JobType identifies the kind of background operation a job performs.
type JobType string

const (
	JobTypeScore            JobType = "score"
	JobTypeRewrite          JobType = "rewrite"
	JobTypeRemoveItems      JobType = "remove-items"
	JobTypeMigrateReasoning JobType = "migrate-reasoning"
	JobTypeOrphanCheck      JobType = "orphan-check"
	JobTypeOrphanSync       JobType = "orphan-sync"
	JobTypeMigrateExternal  JobType = "migrate-from-external-store"
)

// JobTypes lists every valid job type.
var JobTypes = []JobType{
	JobTypeScore,
	JobTypeRewrite,
	JobTypeRemoveItems,
	JobTypeMigrateReasoning,
	JobTypeOrphanCheck,
	JobTypeOrphanSync,
	JobTypeMigrateExternal,
}

// jobTypeAliases maps shorthand type strings accepted on the wire to
// canonical values.
var jobTypeAliases = map[string]JobType{
	"migrate-external": JobTypeMigrateExternal,
}

// ParseJobType validates a job type string.
func ParseJobType(s string) (JobType, error) {
	for _, t := range JobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	if t, ok := jobTypeAliases[s]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown job type: %q", s)
}

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TraceEventType classifies a trace entry. Outcome types double as the
// resume ledger: only success-tagged entries mark an item as processed.
type TraceEventType string

const (
	TraceInfo  TraceEventType = "info"
	TraceWarn  TraceEventType = "warn"
	TraceError TraceEventType = "error"

	// Per-item outcomes. Exactly one is appended for every work item a
	// batch touches.
	TraceScored    TraceEventType = "scored"
	TraceRewritten TraceEventType = "rewritten"
	TraceRemoved   TraceEventType = "removed"
	TraceMigrated  TraceEventType = "migrated"
	TraceReassign  TraceEventType = "reassigned"
	TraceImported  TraceEventType = "imported"
	TraceChecked   TraceEventType = "checked"
	TraceSkipped   TraceEventType = "skipped"
	TraceErrored   TraceEventType = "errored"
)

// IsSuccessOutcome reports whether the event type marks an item as
// successfully processed for resume purposes. Skipped and errored items
// are retried on resume, never dropped.
func (t TraceEventType) IsSuccessOutcome() bool {
	switch t {
	case TraceScored, TraceRewritten, TraceRemoved, TraceMigrated, TraceReassign, TraceImported, TraceChecked:
		return true
	}
	return false
}

// IsOutcome reports whether the event is a per-item outcome entry.
func (t TraceEventType) IsOutcome() bool {
	return t.IsSuccessOutcome() || t == TraceSkipped || t == TraceErrored
}

// TraceEvent is one entry in a job's append-only trace log.
type TraceEvent struct {
	Type      TraceEventType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ItemID    string         `json:"item_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	// Detail carries outcome-specific fields (old/new score, target
	// session, ...) that differ per job type.
	Detail map[string]any `json:"detail,omitempty"`
}

// Progress tracks monotonic counters for a running job. Per-outcome
// counters share one struct across job types; Current/Total are common.
type Progress struct {
	Current   int `json:"current"`
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

// JobParams captures the original request so a job can be rerun or resumed
// without the client re-supplying it. Credentials are never stored here.
type JobParams struct {
	SessionID      string   `json:"session_id,omitempty"`
	LogIDs         []string `json:"log_ids,omitempty"`
	ScoreBelow     *float64 `json:"score_below,omitempty"`
	Model          string   `json:"model,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	BaseURL        string   `json:"base_url,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	Force          bool     `json:"force,omitempty"`
	TargetSession  string   `json:"target_session,omitempty"`
	SourceSnapshot string   `json:"source_snapshot,omitempty"`
	Offset         int      `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`

	Concurrency int `json:"concurrency,omitempty"`
	MaxRetries  int `json:"max_retries,omitempty"`
	// RetryDelayMS is the fixed per-item retry wait; BatchDelayMS is the
	// rate-limiting pause between concurrency-sized batches.
	RetryDelayMS int `json:"retry_delay_ms,omitempty"`
	BatchDelayMS int `json:"batch_delay_ms,omitempty"`
}

// JobResult is the payload set at or after completion. Trace is always
// present and append-only; Data carries job-type-specific summaries.
type JobResult struct {
	Trace []TraceEvent   `json:"trace"`
	Data  map[string]any `json:"data,omitempty"`
}

// Job is the unit of long-running work.
//
// Status transitions are pending -> running -> {completed|failed} only. A
// failed job may be resumed into a fresh running state carrying forward its
// trace and processed-item set.
type Job struct {
	ID        string    `json:"id"`
	Type      JobType   `json:"type"`
	Status    JobStatus `json:"status"`
	Progress  Progress  `json:"progress"`
	Result    JobResult `json:"result"`
	Params    JobParams `json:"params"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessedIDs reconstructs the set of item ids already successfully
// processed from the trace. Used to resume an interrupted job.
func (j *Job) ProcessedIDs() map[string]bool {
	processed := make(map[string]bool)
	for _, ev := range j.Result.Trace {
		if ev.Type.IsSuccessOutcome() && ev.ItemID != "" {
			processed[ev.ItemID] = true
		}
	}
	return processed
}
