package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"homeops-platform/internal/cache"
	"homeops-platform/internal/config"
	"homeops-platform/internal/models"
	"homeops-platform/internal/store"
	"homeops-platform/internal/telemetry"
)

// Lifecycle is the job lifecycle manager surface the handlers need.
type Lifecycle interface {
	Transition(ctx context.Context, jobID string, requested models.JobStatus) (models.Job, error)
	AllowedNextFor(ctx context.Context, jobID string) ([]models.JobStatus, error)
}

// Jobs is the job persistence surface.
type Jobs interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	GetActiveJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, tenant string, limit int) ([]models.Job, error)
	SoftDeleteJob(ctx context.Context, id string) error
}

// Orchestrator bundles the read-only orchestrator surfaces.
type Orchestrator interface {
	Heartbeat(ctx context.Context) (models.Heartbeat, error)
	ListDeadLetters(ctx context.Context, f store.DeadLetterFilter) ([]models.DeadLetter, error)
	ListWorkflows(ctx context.Context, f store.WorkflowFilter) ([]models.WorkflowExecution, error)
	GetWorkflow(ctx context.Context, id string) (models.WorkflowExecution, error)
	GetEvent(ctx context.Context, id string) (models.BusEvent, error)
	ListModuleHealth(ctx context.Context) ([]models.ModuleHealth, error)
}

// Reporter supplies the telemetry report.
type Reporter interface {
	RequestLatencyReport(ctx context.Context, window time.Duration) (store.LatencyReport, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
}

// Limiter gates tenant writes.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (bool, float64, error)
}

// Cache is the query-result cache backing list reads.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value, queryHash string, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Server wires HTTP handlers for the platform API.
type Server struct {
	cfg          config.Config
	lifecycle    Lifecycle
	jobs         Jobs
	orchestrator Orchestrator
	reporter     Reporter
	queryCache   Cache
	limiter      Limiter
	interceptor  func(http.Handler) http.Handler
	validate     *validator.Validate
	logger       *zap.SugaredLogger
}

// New constructs the API server. qc, interceptor and limiter may be nil.
func New(cfg config.Config, lc Lifecycle, jobs Jobs, orch Orchestrator, rep Reporter,
	qc Cache, limiter Limiter, interceptor func(http.Handler) http.Handler, logger *zap.SugaredLogger) *Server {
	return &Server{
		cfg:          cfg,
		lifecycle:    lc,
		jobs:         jobs,
		orchestrator: orch,
		reporter:     rep,
		queryCache:   qc,
		limiter:      limiter,
		interceptor:  interceptor,
		validate:     validator.New(),
		logger:       logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.interceptor != nil {
		r.Use(s.interceptor)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Delete("/jobs/{id}", s.handleDeleteJob)
	r.Post("/jobs/{id}/status", s.handleTransition)
	r.Get("/jobs/{id}/allowed-statuses", s.handleAllowedStatuses)

	r.Get("/orchestrator/heartbeat", s.handleHeartbeat)
	r.Get("/orchestrator/module-health", s.handleModuleHealth)
	r.Get("/orchestrator/dead-letters", s.handleDeadLetters)
	r.Get("/orchestrator/workflows", s.handleWorkflows)
	r.Get("/orchestrator/workflows/{id}", s.handleGetWorkflow)
	r.Get("/orchestrator/events/{id}", s.handleGetEvent)

	r.Get("/telemetry/report", s.handleReport)
	return r
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

// allowWrite applies the per-tenant token bucket; true means proceed.
func (s *Server) allowWrite(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), tenantFromRequest(r))
	if err != nil {
		s.logger.Warnw("rate limiter unavailable, allowing request", "error", err)
		return true
	}
	if !allowed {
		writeErrorMsg(w, http.StatusTooManyRequests, "rate limited")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps the domain error taxonomy onto status codes:
// validation errors 4xx with the offending state named, infrastructure
// errors 5xx.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeErrorMsg(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, models.ErrInvalidEventState),
		errors.Is(err, models.ErrNotRunning):
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrHeartbeatUnavailable):
		s.logger.Errorw("heartbeat unavailable", "error", err)
		writeErrorMsg(w, http.StatusServiceUnavailable, "heartbeat unavailable")
	default:
		s.logger.Errorw("internal error", "error", err)
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
	}
}
