package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/curatolabs/tracedesk/internal/models"
)

// jobRecord is the persisted job row. The record id carries the job id; all
// other fields mirror models.Job.
type jobRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	Type      models.JobType         `json:"type"`
	Status    models.JobStatus       `json:"status"`
	Progress  models.Progress        `json:"progress"`
	Result    models.JobResult       `json:"result"`
	Params    models.JobParams       `json:"params"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// jobContent is jobRecord without the id, for CREATE/UPSERT CONTENT payloads.
type jobContent struct {
	Type      models.JobType   `json:"type"`
	Status    models.JobStatus `json:"status"`
	Progress  models.Progress  `json:"progress"`
	Result    models.JobResult `json:"result"`
	Params    models.JobParams `json:"params"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func jobToContent(j *models.Job) jobContent {
	result := j.Result
	if result.Trace == nil {
		result.Trace = []models.TraceEvent{}
	}
	return jobContent{
		Type:      j.Type,
		Status:    j.Status,
		Progress:  j.Progress,
		Result:    result,
		Params:    j.Params,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func recordToJob(rec jobRecord) (*models.Job, error) {
	id, err := models.RecordIDString(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("job record id: %w", err)
	}
	return &models.Job{
		ID:        id,
		Type:      rec.Type,
		Status:    rec.Status,
		Progress:  rec.Progress,
		Result:    rec.Result,
		Params:    rec.Params,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// CreateJob persists a freshly created job.
func (c *Client) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("job", $id) CONTENT $data
	`, map[string]any{"id": job.ID, "data": jobToContent(job)})
	if err != nil {
		return fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return nil
}

// SaveJob writes the full job state to the durable mirror, creating the
// record if it does not exist. The in-memory copy is authoritative, so a
// full-content upsert is the simplest correct mirror write.
func (c *Client) SaveJob(ctx context.Context, job *models.Job) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("job", $id) CONTENT $data
	`, map[string]any{"id": job.ID, "data": jobToContent(job)})
	if err != nil {
		return fmt.Errorf("save job: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob retrieves a job by id. Returns nil if not found.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	results, err := surrealdb.Query[[]jobRecord](ctx, c.db, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return recordToJob((*results)[0].Result[0])
}

// ListJobs returns persisted jobs, most recent first, optionally filtered by
// type and status.
func (c *Client) ListJobs(ctx context.Context, jobType, status string, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	where := ""
	vars := map[string]any{"limit": limit}
	if jobType != "" {
		where = "WHERE type = $type"
		vars["type"] = jobType
	}
	if status != "" {
		if where == "" {
			where = "WHERE status = $status"
		} else {
			where += " AND status = $status"
		}
		vars["status"] = status
	}

	sql := fmt.Sprintf(`SELECT * FROM job %s ORDER BY created_at DESC LIMIT $limit`, where)
	results, err := surrealdb.Query[[]jobRecord](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	jobs := make([]*models.Job, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		job, err := recordToJob(rec)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
