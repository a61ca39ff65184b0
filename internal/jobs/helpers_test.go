package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/curatolabs/tracedesk/internal/jobstore"
	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recordID(id string) surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: "log", ID: id}
}

func makeLogs(n int) []models.SessionLog {
	logs := make([]models.SessionLog, 0, n)
	for i := 1; i <= n; i++ {
		logs = append(logs, models.SessionLog{
			ID:        recordID(fmt.Sprintf("item-%d", i)),
			SessionID: "sess-1",
			Query:     fmt.Sprintf("question %d", i),
			Answer:    fmt.Sprintf("answer %d", i),
		})
	}
	return logs
}

// fakeRepo is an in-memory Repository recording every write.
type fakeRepo struct {
	mu       sync.Mutex
	logs     []models.SessionLog
	orphans  []models.SessionLog
	sessions map[string]bool
	existing map[string]bool

	patches map[string][]models.LogPatch
	deleted []string
}

func newFakeRepo(logs []models.SessionLog) *fakeRepo {
	return &fakeRepo{
		logs:     logs,
		sessions: map[string]bool{},
		existing: map[string]bool{},
		patches:  map[string][]models.LogPatch{},
	}
}

func (r *fakeRepo) ListLogs(_ context.Context, q models.LogQuery) ([]models.SessionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(q.IDs) > 0 {
		want := map[string]bool{}
		for _, id := range q.IDs {
			want[id] = true
		}
		var out []models.SessionLog
		for _, l := range r.logs {
			if want[models.MustRecordIDString(l.ID)] {
				out = append(out, l)
			}
		}
		return out, nil
	}
	if q.ScoreBelow != nil {
		var out []models.SessionLog
		for _, l := range r.logs {
			if l.Score != nil && *l.Score < *q.ScoreBelow {
				out = append(out, l)
			}
		}
		return out, nil
	}
	return append([]models.SessionLog(nil), r.logs...), nil
}

func (r *fakeRepo) PatchLog(_ context.Context, id string, patch models.LogPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches[id] = append(r.patches[id], patch)
	return nil
}

func (r *fakeRepo) DeleteLog(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.logs {
		if models.MustRecordIDString(l.ID) == id {
			r.logs = append(r.logs[:i], r.logs[i+1:]...)
			r.deleted = append(r.deleted, id)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ListOrphanLogs(_ context.Context, limit int) ([]models.SessionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]models.SessionLog(nil), r.orphans...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) SessionExists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id], nil
}

func (r *fakeRepo) UpsertLog(_ context.Context, id string, _ models.SessionLog) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existing[id] {
		return false, nil
	}
	r.existing[id] = true
	return true, nil
}

func (r *fakeRepo) patchCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patches[id])
}

// fakeCompleter scripts model responses and tracks in-flight concurrency.
type fakeCompleter struct {
	mu          sync.Mutex
	calls       map[string]int
	inFlight    int
	maxInFlight int

	// respond picks the reply per item and attempt (1-based).
	respond func(itemText string, attempt int) (provider.Chunk, error)
}

func newFakeCompleter(respond func(itemText string, attempt int) (provider.Chunk, error)) *fakeCompleter {
	return &fakeCompleter{calls: map[string]int{}, respond: respond}
}

func (c *fakeCompleter) Complete(_ context.Context, req provider.Request) (provider.Chunk, error) {
	text := ""
	if len(req.Messages) > 0 {
		text = req.Messages[0].Content
	}

	c.mu.Lock()
	c.calls[text]++
	attempt := c.calls[text]
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	chunk, err := c.respond(text, attempt)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return chunk, err
}

func gradeChunk(grade float64) provider.Chunk {
	return provider.Chunk{Content: fmt.Sprintf(`{"grade": %g}`, grade), Done: true}
}

// newTestService wires a service over an in-memory store and the given
// fakes. Returns the store for direct inspection.
func newTestService(repo Repository, completer Completer) (*Service, *jobstore.Store) {
	store := jobstore.New(nil, discardLogger())
	factory := func(provider.Config) Completer { return completer }
	return NewService(store, repo, factory, 8, discardLogger()), store
}

// fastParams keeps retry and batch delays negligible in tests.
func fastParams(p models.JobParams) models.JobParams {
	if p.RetryDelayMS == 0 {
		p.RetryDelayMS = 1
	}
	if p.BatchDelayMS == 0 {
		p.BatchDelayMS = 1
	}
	return p
}
