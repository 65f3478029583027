package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/workbench-tasks/internal/memtrack"
)

// MemoryTracker is the component memory accounting the API exposes.
type MemoryTracker interface {
	Track(component string, size int64) error
	Total() int64
	Components() map[string]int64
	History() []memtrack.Usage
	ClearHistory(before time.Time) int
}

// WithMemoryTracker exposes tracker under /api/memory.
func WithMemoryTracker(tracker MemoryTracker) Option {
	return func(s *Server) { s.memory = tracker }
}

func (s *Server) memoryRoutes(r chi.Router) {
	r.Get("/", s.getMemory)
	r.Get("/history", s.getMemoryHistory)
	r.Delete("/history", s.clearMemoryHistory)
	r.Put("/{component}", s.trackMemory)
}

func (s *Server) getMemory(w http.ResponseWriter, _ *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory tracking unavailable")
		return
	}
	writeJSON(w, http.StatusOK, memoryDTO{
		TotalBytes: s.memory.Total(),
		Components: s.memory.Components(),
	})
}

func (s *Server) getMemoryHistory(w http.ResponseWriter, _ *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory tracking unavailable")
		return
	}
	usage := s.memory.History()
	if usage == nil {
		usage = []memtrack.Usage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": usage})
}

// clearMemoryHistory handles DELETE /api/memory/history?before=RFC3339.
// Without before the whole history is dropped.
func (s *Server) clearMemoryHistory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory tracking unavailable")
		return
	}
	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		before = parsed
	}
	removed := s.memory.ClearHistory(before)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// trackMemory handles PUT /api/memory/{component} with {"bytes": n}.
func (s *Server) trackMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory tracking unavailable")
		return
	}
	component := chi.URLParam(r, "component")
	var req struct {
		Bytes *int64 `json:"bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bytes == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"bytes\": <n>}")
		return
	}
	if err := s.memory.Track(component, *req.Bytes); err != nil {
		s.logger.Debug("memory report rejected", zap.String("component", component), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"component": component, "bytes": *req.Bytes})
}

type memoryDTO struct {
	TotalBytes int64            `json:"total_bytes"`
	Components map[string]int64 `json:"components"`
}
