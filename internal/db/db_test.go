// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/curatolabs/tracedesk/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
// With -short the container is skipped and every test no-ops.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// requireDB skips the test when no container is available.
func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping integration test: no database")
	}
}

func testJob(id string, jobType models.JobType) *models.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Job{
		ID:     id,
		Type:   jobType,
		Status: models.JobStatusPending,
		Params: models.JobParams{SessionID: "sess-db-test"},
		Result: models.JobResult{Trace: []models.TraceEvent{}},
		Progress: models.Progress{
			Total: 10,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	job := testJob("job_score_get_1", models.JobTypeScore)
	require.NoError(t, testDB.CreateJob(ctx, job))

	got, err := testDB.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobTypeScore, got.Type)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 10, got.Progress.Total)
	assert.Equal(t, "sess-db-test", got.Params.SessionID)

	missing, err := testDB.GetJob(ctx, "job_never_created")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveJobUpserts(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	job := testJob("job_score_save_1", models.JobTypeScore)
	require.NoError(t, testDB.CreateJob(ctx, job))

	job.Status = models.JobStatusRunning
	job.Progress.Current = 4
	job.Result.Trace = append(job.Result.Trace, models.TraceEvent{
		Type:      models.TraceScored,
		Timestamp: time.Now().UTC(),
		ItemID:    "item-1",
	})
	require.NoError(t, testDB.SaveJob(ctx, job))

	got, err := testDB.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 4, got.Progress.Current)
	require.Len(t, got.Result.Trace, 1)
	assert.Equal(t, models.TraceScored, got.Result.Trace[0].Type)

	// Saving a job that was never created still lands.
	fresh := testJob("job_score_save_2", models.JobTypeScore)
	require.NoError(t, testDB.SaveJob(ctx, fresh))
	got, err = testDB.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestListJobsFilters(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	a := testJob("job_list_a", models.JobTypeRewrite)
	a.Status = models.JobStatusRunning
	b := testJob("job_list_b", models.JobTypeRewrite)
	b.Status = models.JobStatusCompleted
	c := testJob("job_list_c", models.JobTypeOrphanCheck)
	c.Status = models.JobStatusRunning
	for _, j := range []*models.Job{a, b, c} {
		require.NoError(t, testDB.CreateJob(ctx, j))
	}

	jobs, err := testDB.ListJobs(ctx, string(models.JobTypeRewrite), string(models.JobStatusRunning), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].ID)

	jobs, err = testDB.ListJobs(ctx, string(models.JobTypeRewrite), "", 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestLogLifecycle(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	require.NoError(t, testDB.CreateSession(ctx, "sess-life", "lifecycle"))

	created, err := testDB.UpsertLog(ctx, "life-1", models.SessionLog{
		SessionID: "sess-life",
		Query:     "what is 2+2?",
		Answer:    "<think>easy</think>4",
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Idempotent on id: the second import is a no-op.
	created, err = testDB.UpsertLog(ctx, "life-1", models.SessionLog{SessionID: "sess-life"})
	require.NoError(t, err)
	assert.False(t, created)

	logs, err := testDB.ListLogs(ctx, models.LogQuery{SessionID: "sess-life"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "what is 2+2?", logs[0].Query)

	score := 3.5
	reasoning := "easy"
	answer := "4"
	require.NoError(t, testDB.PatchLog(ctx, "life-1", models.LogPatch{
		Score:     &score,
		Reasoning: &reasoning,
		Answer:    &answer,
	}))

	got, err := testDB.GetLog(ctx, "life-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Score)
	assert.Equal(t, 3.5, *got.Score)
	assert.Equal(t, "easy", got.Reasoning)
	assert.Equal(t, "4", got.Answer)

	below := 5.0
	logs, err = testDB.ListLogs(ctx, models.LogQuery{ScoreBelow: &below})
	require.NoError(t, err)
	found := false
	for _, l := range logs {
		if models.MustRecordIDString(l.ID) == "life-1" {
			found = true
		}
	}
	assert.True(t, found, "scored log should match the threshold scope")

	deleted, err := testDB.DeleteLog(ctx, "life-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = testDB.DeleteLog(ctx, "life-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListLogsByIDs(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	require.NoError(t, testDB.CreateSession(ctx, "sess-ids", "ids"))
	for i := 1; i <= 3; i++ {
		_, err := testDB.UpsertLog(ctx, fmt.Sprintf("ids-%d", i), models.SessionLog{
			SessionID: "sess-ids",
			Query:     fmt.Sprintf("q%d", i),
		})
		require.NoError(t, err)
	}

	logs, err := testDB.ListLogs(ctx, models.LogQuery{IDs: []string{"ids-1", "ids-3"}})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	_, err = testDB.ListLogs(ctx, models.LogQuery{})
	assert.Error(t, err, "a scope is required")
}

func TestOrphanScan(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	require.NoError(t, testDB.CreateSession(ctx, "sess-alive", "alive"))
	_, err := testDB.UpsertLog(ctx, "orphan-1", models.SessionLog{SessionID: "sess-gone", Query: "lost"})
	require.NoError(t, err)
	_, err = testDB.UpsertLog(ctx, "attached-1", models.SessionLog{SessionID: "sess-alive", Query: "kept"})
	require.NoError(t, err)

	orphans, err := testDB.ListOrphanLogs(ctx, 100)
	require.NoError(t, err)
	var ids []string
	for _, l := range orphans {
		ids = append(ids, models.MustRecordIDString(l.ID))
	}
	assert.Contains(t, ids, "orphan-1")
	assert.NotContains(t, ids, "attached-1")

	exists, err := testDB.SessionExists(ctx, "sess-alive")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = testDB.SessionExists(ctx, "sess-gone")
	require.NoError(t, err)
	assert.False(t, exists)
}
