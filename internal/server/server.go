// Package server exposes the job and streaming API over HTTP with lifecycle
// management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/curatolabs/tracedesk/internal/config"
	"github.com/curatolabs/tracedesk/internal/jobs"
	"github.com/curatolabs/tracedesk/internal/jobstore"
	"github.com/curatolabs/tracedesk/internal/models"
	"github.com/curatolabs/tracedesk/internal/provider"
)

// Server wraps the HTTP server with its dependencies.
type Server struct {
	cfg    config.Config
	store  *jobstore.Store
	jobs   *jobs.Service
	logger *slog.Logger

	streamer StreamerFactory
	http     *http.Server
}

// Streamer is the streaming model call the chat endpoint makes.
type Streamer interface {
	Stream(ctx context.Context, req provider.Request, onChunk func(provider.Chunk) error) error
}

// StreamerFactory builds a Streamer per request. Nil means the real
// provider client.
type StreamerFactory func(cfg provider.Config) Streamer

// New creates the HTTP server. streamer may be nil outside tests.
func New(cfg config.Config, store *jobstore.Store, jobSvc *jobs.Service, streamer StreamerFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		jobs:     jobSvc,
		logger:   logger,
		streamer: streamer,
	}
	if s.streamer == nil {
		s.streamer = func(pc provider.Config) Streamer {
			return provider.NewClient(pc, logger)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /jobs/{type}", s.handleCreateJob)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /jobs/{id}/resume", s.handleResumeJob)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)

	s.http = &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     LoggingMiddleware(logger)(mux),
		ReadTimeout: 5 * time.Second,
		// Streaming responses opt out per request via the response
		// controller; this bounds everything else.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests that drive the mux without
// a listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests. Background jobs keep running; they
// are recovered as interrupted on next start if the process dies first.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createJobRequest is the POST /jobs/{type} body: the job parameters plus
// the per-request credential, which is handed to the runner and never
// stored.
type createJobRequest struct {
	models.JobParams
	APIKey string `json:"api_key,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	jobType, err := models.ParseJobType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params := s.applyDefaults(req.JobParams)
	if err := s.validateParams(jobType, params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.store.Create(r.Context(), jobType, params)
	s.jobs.Launch(job, req.APIKey)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.store.Get(r.Context(), r.PathValue("id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobstore.ListFilter{
		Type:   models.JobType(r.URL.Query().Get("type")),
		Status: models.JobStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.store.List(r.Context(), filter)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job := s.store.Cancel(r.Context(), r.PathValue("id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type resumeRequest struct {
	APIKey string `json:"api_key,omitempty"`
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	job, err := s.jobs.Resume(r.Context(), r.PathValue("id"), req.APIKey)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "not found"):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// applyDefaults fills provider targeting from server config when the
// request leaves it blank.
func (s *Server) applyDefaults(p models.JobParams) models.JobParams {
	if p.Provider == "" {
		p.Provider = s.cfg.DefaultProvider
	}
	if p.Model == "" {
		p.Model = s.cfg.DefaultModel
	}
	if p.BaseURL == "" {
		if p.Provider == string(provider.FamilyLocal) {
			p.BaseURL = s.cfg.OllamaHost
		} else {
			p.BaseURL = s.cfg.DefaultBaseURL
		}
	}
	return p
}

// validateParams enforces the request invariants before a job is accepted:
// exactly one item scope, bounded concurrency, and per-type requirements.
func (s *Server) validateParams(jobType models.JobType, p models.JobParams) error {
	scopes := 0
	if p.SessionID != "" {
		scopes++
	}
	if len(p.LogIDs) > 0 {
		scopes++
	}
	if p.ScoreBelow != nil {
		scopes++
	}
	if scopes > 1 {
		return errors.New("session_id, log_ids and score_below are mutually exclusive")
	}

	if p.Concurrency > s.cfg.MaxConcurrency {
		return fmt.Errorf("concurrency %d exceeds the maximum of %d", p.Concurrency, s.cfg.MaxConcurrency)
	}
	if p.Concurrency < 0 {
		return errors.New("concurrency must be positive")
	}

	switch jobType {
	case models.JobTypeRemoveItems:
		if len(p.LogIDs) == 0 {
			return errors.New("remove-items requires log_ids")
		}
	case models.JobTypeOrphanSync:
		if p.TargetSession == "" {
			return errors.New("orphan-sync requires target_session")
		}
	case models.JobTypeMigrateExternal:
		if p.SourceSnapshot == "" {
			return errors.New("migrate-from-external-store requires source_snapshot")
		}
	case models.JobTypeMigrateReasoning:
		if scopes == 0 {
			return errors.New("a session_id, log_ids or score_below scope is required")
		}
	case models.JobTypeScore, models.JobTypeRewrite:
		if scopes == 0 {
			return errors.New("a session_id, log_ids or score_below scope is required")
		}
		if p.Model == "" {
			return errors.New("model is required")
		}
		if _, err := provider.ParseFamily(p.Provider); err != nil {
			return err
		}
	}
	return nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
