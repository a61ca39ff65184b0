// Package client provides a typed HTTP client for the Tracedesk server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/curatolabs/tracedesk/internal/models"
)

// Client talks to the Tracedesk job API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client.
// If endpoint is empty, uses TRACEDESK_SERVER_URL env var or defaults to localhost:8585.
// Timeout can be configured via TRACEDESK_CLIENT_TIMEOUT env var (default 10m for batch operations).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("TRACEDESK_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8585"
	}
	endpoint = strings.TrimRight(endpoint, "/")

	timeout := 10 * time.Minute // batch operations can be slow
	if t := os.Getenv("TRACEDESK_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateJobRequest is the POST /jobs/{type} payload.
type CreateJobRequest struct {
	models.JobParams
	APIKey string `json:"api_key,omitempty"`
}

// CreateJob submits a job and returns its id.
func (c *Client) CreateJob(ctx context.Context, jobType models.JobType, req CreateJobRequest) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs/"+string(jobType), req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches jobs, optionally filtered by type and status.
func (c *Client) ListJobs(ctx context.Context, jobType, status string, limit int) ([]models.Job, error) {
	path := "/jobs"
	sep := "?"
	if jobType != "" {
		path += sep + "type=" + jobType
		sep = "&"
	}
	if status != "" {
		path += sep + "status=" + status
		sep = "&"
	}
	if limit > 0 {
		path += fmt.Sprintf("%slimit=%d", sep, limit)
	}

	var resp struct {
		Jobs []models.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// CancelJob requests cooperative cancellation.
func (c *Client) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/jobs/"+id+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ResumeJob relaunches a failed job under the same id.
func (c *Client) ResumeJob(ctx context.Context, id, apiKey string) (*models.Job, error) {
	body := map[string]string{}
	if apiKey != "" {
		body["api_key"] = apiKey
	}
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/jobs/"+id+"/resume", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(raw))
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
