// Package api serves the HTTP surface: submission, status, results and task
// listing, with optional bearer-token authentication.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/store"
	"github.com/joescharf/prreview/internal/worker"
)

// Submitter records a task and schedules it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.ReviewTask, error)
}

// Server provides the REST API handlers.
type Server struct {
	store     store.Store
	submitter Submitter
	auth      *Authenticator
	logger    *slog.Logger
}

// NewServer creates a new API server. auth may be nil to disable authentication.
func NewServer(s store.Store, sub Submitter, auth *Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:     s,
		submitter: sub,
		auth:      auth,
		logger:    logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("POST /github/analyze-pr", s.analyzePR)
	protected.HandleFunc("GET /github/status/{id}", s.taskStatus)
	protected.HandleFunc("GET /github/results/{id}", s.taskResults)
	protected.HandleFunc("GET /api/v1/tasks", s.listTasks)

	var handler http.Handler = protected
	if s.auth != nil {
		handler = s.auth.Middleware(protected)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("/", handler)

	return logMiddleware(s.logger, corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Tasks ---

type analyzeRequest struct {
	RepoURL     string `json:"repo_url"`
	PRNumber    int    `json:"pr_number"`
	GitHubToken string `json:"github_token"`
}

func (s *Server) analyzePR(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.submitter.Submit(r.Context(), pipeline.SubmitRequest{
		RepoURL:     req.RepoURL,
		PRNumber:    req.PRNumber,
		GitHubToken: req.GitHubToken,
	})
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.logger.Error("api.submit_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit review")
		return
	}

	writeJSON(w, http.StatusAccepted, NewSubmitResponse(task))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) (*models.ReviewTask, bool) {
	id := r.PathValue("id")
	task, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("api.get_task_failed", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return nil, false
	}
	return task, true
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.getTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewStatusResponse(task))
}

func (s *Server) taskResults(w http.ResponseWriter, r *http.Request) {
	task, ok := s.getTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewResultsResponse(task))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskListFilter{Limit: 50}

	if v := r.URL.Query().Get("status"); v != "" {
		status := models.TaskStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status: "+v)
			return
		}
		filter.Status = status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		filter.Limit = n
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.logger.Error("api.list_tasks_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, NewTaskList(tasks))
}
