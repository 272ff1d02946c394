package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"homeops-platform/internal/models"
)

// JobStore is the persistence surface the manager needs. SwapJobStatus
// must update the job and insert the lifecycle event in one transaction,
// and must only apply when the stored status still equals from; it reports
// false when another transition won the race.
type JobStore interface {
	GetActiveJob(ctx context.Context, id string) (models.Job, error)
	SwapJobStatus(ctx context.Context, id string, from, to models.JobStatus, event models.NewBusEvent) (models.Job, bool, error)
}

// Manager validates and applies job status transitions.
type Manager struct {
	store      JobStore
	maxRetries int
	logger     *zap.SugaredLogger
}

// NewManager constructs a lifecycle manager.
func NewManager(store JobStore, maxRetries int, logger *zap.SugaredLogger) *Manager {
	return &Manager{store: store, maxRetries: maxRetries, logger: logger}
}

// Transition moves a job to requested if the transition table allows it,
// emitting one job.<requested> event in the same transaction. Concurrent
// transitions for the same job serialize on the job row; the loser
// observes the post-transition status and fails ErrInvalidTransition.
func (m *Manager) Transition(ctx context.Context, jobID string, requested models.JobStatus) (models.Job, error) {
	if _, err := AllowedNext(requested); err != nil {
		return models.Job{}, err
	}

	job, err := m.store.GetActiveJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}

	ok, err := CanTransition(job.Status, requested)
	if err != nil {
		return models.Job{}, err
	}
	if !ok {
		return models.Job{}, models.InvalidTransitionf(job.Status, requested)
	}

	event, err := m.lifecycleEvent(job, requested)
	if err != nil {
		return models.Job{}, err
	}

	updated, applied, err := m.store.SwapJobStatus(ctx, jobID, job.Status, requested, event)
	if err != nil {
		return models.Job{}, err
	}
	if !applied {
		// Lost the race: re-read and report against the current status.
		current, err := m.store.GetActiveJob(ctx, jobID)
		if err != nil {
			return models.Job{}, err
		}
		return models.Job{}, models.InvalidTransitionf(current.Status, requested)
	}

	m.logger.Infow("job transitioned",
		"job_id", jobID, "tenant", updated.Tenant,
		"from", job.Status, "to", requested)
	return updated, nil
}

// AllowedNextFor is the read-only projection clients use to render valid
// next actions. Terminal statuses yield an empty list.
func (m *Manager) AllowedNextFor(ctx context.Context, jobID string) ([]models.JobStatus, error) {
	job, err := m.store.GetActiveJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return AllowedNext(job.Status)
}

func (m *Manager) lifecycleEvent(job models.Job, to models.JobStatus) (models.NewBusEvent, error) {
	payload, err := json.Marshal(models.JobStatusPayload{
		JobID:      job.ID,
		Tenant:     job.Tenant,
		FromStatus: job.Status,
		ToStatus:   to,
	})
	if err != nil {
		return models.NewBusEvent{}, fmt.Errorf("marshal lifecycle payload: %w", err)
	}
	return models.NewBusEvent{
		EventType:     fmt.Sprintf("job.%s", to),
		EventName:     fmt.Sprintf("job %s", to),
		SourceModule:  "jobs",
		TargetModules: []string{"orchestrator", "notifications"},
		Payload:       payload,
		MaxRetries:    m.maxRetries,
	}, nil
}
