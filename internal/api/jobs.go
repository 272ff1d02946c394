package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"homeops-platform/internal/models"
	"homeops-platform/internal/store"
	"homeops-platform/internal/telemetry"
)

type materialRequest struct {
	ProductID      string `json:"product_id" validate:"required,uuid4"`
	SupplierID     string `json:"supplier_id" validate:"required,uuid4"`
	Quantity       int    `json:"quantity" validate:"gte=1"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
}

type createJobRequest struct {
	InstallerID *string           `json:"installer_id" validate:"omitempty,uuid4"`
	Materials   []materialRequest `json:"materials" validate:"dive"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.allowWrite(w, r) {
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	materials := make([]models.MaterialSelection, 0, len(req.Materials))
	for _, m := range req.Materials {
		materials = append(materials, models.MaterialSelection{
			ProductID:      m.ProductID,
			SupplierID:     m.SupplierID,
			Quantity:       m.Quantity,
			UnitPriceCents: m.UnitPriceCents,
		})
	}

	job, err := s.jobs.CreateJob(r.Context(), store.CreateJobParams{
		Tenant:      tenantFromRequest(r),
		InstallerID: req.InstallerID,
		Materials:   materials,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.invalidateJobList(r.Context(), job.Tenant)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetActiveJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobListKey is the cache key for a tenant's default job listing. The
// closeout workflow invalidates the same key when a job completes.
func jobListKey(tenant string) string {
	return "jobs:tenant:" + tenant
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	limitParam := r.URL.Query().Get("limit")

	// only the default listing is cached; explicit limits go to the store
	cacheable := s.queryCache != nil && limitParam == ""
	if cacheable {
		body, ok, err := s.queryCache.Get(r.Context(), jobListKey(tenant))
		if err != nil {
			s.logger.Warnw("job list cache read failed", "tenant", tenant, "error", err)
		} else if ok {
			writeRawJSON(w, http.StatusOK, []byte(body))
			return
		}
	}

	limit, _ := strconv.Atoi(limitParam)
	jobs, err := s.jobs.ListJobs(r.Context(), tenant, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, err := json.Marshal(map[string]any{"jobs": jobs})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cacheable {
		if err := s.queryCache.Put(r.Context(), jobListKey(tenant), string(body), "list_jobs", s.cfg.CacheDefaultTTL); err != nil {
			s.logger.Warnw("job list cache write failed", "tenant", tenant, "error", err)
		}
	}
	writeRawJSON(w, http.StatusOK, body)
}

// invalidateJobList expires the tenant's cached listing after a write.
// Best effort: on failure the stale list lives until its TTL lapses.
func (s *Server) invalidateJobList(ctx context.Context, tenant string) {
	if s.queryCache == nil {
		return
	}
	if err := s.queryCache.Invalidate(ctx, jobListKey(tenant)); err != nil {
		s.logger.Warnw("job list cache invalidate failed", "tenant", tenant, "error", err)
	}
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if !s.allowWrite(w, r) {
		return
	}
	if err := s.jobs.SoftDeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.invalidateJobList(r.Context(), tenantFromRequest(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	if !s.allowWrite(w, r) {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.lifecycle.Transition(r.Context(), chi.URLParam(r, "id"), models.JobStatus(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	telemetry.JobTransitions.Inc()
	s.invalidateJobList(r.Context(), job.Tenant)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAllowedStatuses(w http.ResponseWriter, r *http.Request) {
	next, err := s.lifecycle.AllowedNextFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	statuses := make([]string, 0, len(next))
	for _, st := range next {
		statuses = append(statuses, string(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed_statuses": statuses})
}
