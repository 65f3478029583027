package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/workbench-tasks/internal/metrics"
	"github.com/JakeFAU/workbench-tasks/internal/store"
	"github.com/JakeFAU/workbench-tasks/internal/task"
)

// TaskController is the slice of the task pool the API drives.
type TaskController interface {
	Submit(name string, fn task.Func, obs task.Observer) (*task.Worker, error)
	Names() []string
	Worker(name string) (*task.Worker, bool)
	Cancel(name string) bool
}

// TaskFactory builds a task from request parameters.
type TaskFactory func(params map[string]string) (task.Func, error)

// Option configures a Server.
type Option func(*Server)

// WithTaskKind registers a task kind that POST /api/tasks/{name} can start.
func WithTaskKind(kind string, factory TaskFactory) Option {
	return func(s *Server) { s.kinds[kind] = factory }
}

// WithAPIKey requires every /api request to carry key in the X-API-Key
// header or the api_key query parameter.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithRequestTimeout bounds each /api request. Zero disables the limit.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// Server wires HTTP handlers to the task pool and run repository.
type Server struct {
	router  chi.Router
	tasks   TaskController
	kinds   map[string]TaskFactory
	runs    *RunHandler
	logger  *zap.Logger
	memory  MemoryTracker
	apiKey  string
	timeout time.Duration
}

// NewServer constructs a Server with middleware and routes. tasks and repo
// may be nil; their routes then answer 503.
func NewServer(tasks TaskController, repo store.RunRepository, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		tasks:  tasks,
		kinds:  make(map[string]TaskFactory),
		runs:   NewRunHandler(repo, logger),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.timeout > 0 {
			r.Use(timeoutMiddleware(s.timeout))
		}
		if s.apiKey != "" {
			r.Use(apiKeyMiddleware(s.apiKey))
		}
		r.Get("/runs", s.runs.ListRuns)
		r.Get("/runs/{run_id}", s.runs.GetRun)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{name}", s.getTask)
		r.Post("/tasks/{name}", s.submitTask)
		r.Post("/tasks/{name}/cancel", s.cancelTask)
		r.Route("/memory", s.memoryRoutes)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task pool unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task pool unavailable")
		return
	}
	names := s.tasks.Names()
	out := make([]taskDTO, 0, len(names))
	for _, name := range names {
		wk, ok := s.tasks.Worker(name)
		if !ok {
			continue
		}
		out = append(out, taskDTO{Name: name, WorkerID: wk.ID(), State: wk.State().String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

// getTask handles GET /api/tasks/{name}. Finished tasks carry their result
// or error.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task pool unavailable")
		return
	}
	name := chi.URLParam(r, "name")
	wk, ok := s.tasks.Worker(name)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	dto := taskDTO{Name: name, WorkerID: wk.ID(), State: wk.State().String()}
	if result, err := wk.Result(); err == nil {
		if _, encErr := json.Marshal(result); encErr != nil {
			result = fmt.Sprint(result)
		}
		dto.Result = result
	} else if !errors.Is(err, task.ErrInvalidState) {
		dto.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// submitTask handles POST /api/tasks/{name} with a body of
// {"kind": "...", "params": {...}}. A running task of the same name is
// cancelled and replaced.
func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task pool unavailable")
		return
	}
	name := chi.URLParam(r, "name")
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	factory, ok := s.kinds[req.Kind]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown task kind %q", req.Kind))
		return
	}
	fn, err := factory(req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wk, err := s.tasks.Submit(name, fn, nil)
	if err != nil {
		s.logger.Warn("task submit failed", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "task pool is not accepting tasks")
		return
	}
	writeJSON(w, http.StatusAccepted, taskDTO{Name: name, WorkerID: wk.ID(), State: wk.State().String()})
}

type submitTaskRequest struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params"`
}

// cancelTask handles POST /api/tasks/{name}/cancel. Cancellation is
// cooperative, so 202 means requested, not stopped.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task pool unavailable")
		return
	}
	name := chi.URLParam(r, "name")
	if !s.tasks.Cancel(name) {
		writeError(w, http.StatusNotFound, "no running task with that name")
		return
	}
	s.logger.Info("task cancellation requested via API", zap.String("name", name))
	writeJSON(w, http.StatusAccepted, map[string]string{"name": name, "status": "cancelling"})
}

type taskDTO struct {
	Name     string `json:"name"`
	WorkerID string `json:"worker_id"`
	State    string `json:"state"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
