package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"homeops-platform/internal/models"
	"homeops-platform/internal/store"
)

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	hb, err := s.orchestrator.Heartbeat(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hb)
}

// handleModuleHealth serves the last persisted heartbeat snapshot without
// recomputing probes.
func (s *Server) handleModuleHealth(w http.ResponseWriter, r *http.Request) {
	modules, err := s.orchestrator.ListModuleHealth(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	f := store.DeadLetterFilter{
		SourceModule: r.URL.Query().Get("module"),
	}
	f.Since = parseTimeParam(r, "since")
	f.Until = parseTimeParam(r, "until")
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		f.Limit = limit
	}

	letters, err := s.orchestrator.ListDeadLetters(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	f := store.WorkflowFilter{
		Status: models.WorkflowStatus(r.URL.Query().Get("status")),
	}
	f.Since = parseTimeParam(r, "since")
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		f.Limit = limit
	}

	workflows, err := s.orchestrator.ListWorkflows(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orchestrator.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.orchestrator.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	window := s.cfg.ReportWindow
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			window = d
		}
	}

	latency, err := s.reporter.RequestLatencyReport(r.Context(), window)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.reporter.CacheStats(r.Context())
	if err != nil {
		s.logger.Warnw("cache stats unavailable", "error", err)
		stats.Window = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"latency": latency,
		"cache":   stats,
	})
}

func parseTimeParam(r *http.Request, name string) *time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
