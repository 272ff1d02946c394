package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"homeops-platform/internal/models"
	"homeops-platform/internal/telemetry"
)

// Store is the persistence surface the tracker needs. The guarded update
// methods report false when the execution exists but is not running.
type Store interface {
	InsertWorkflow(ctx context.Context, name string, triggerEventID *string, totalSteps *int) (models.WorkflowExecution, error)
	GetWorkflow(ctx context.Context, id string) (models.WorkflowExecution, error)
	AdvanceWorkflow(ctx context.Context, id, stepLabel string) (models.WorkflowExecution, bool, error)
	FinishWorkflow(ctx context.Context, id string, status models.WorkflowStatus, resultData []byte, errMsg *string) (models.WorkflowExecution, bool, error)
	CountRunningWorkflows(ctx context.Context) (int64, error)
}

// Tracker records multi-step workflow runs triggered by bus events.
type Tracker struct {
	store  Store
	logger *zap.SugaredLogger
}

// NewTracker constructs a workflow execution tracker.
func NewTracker(st Store, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{store: st, logger: logger}
}

// Start creates a running execution with zero completed steps. totalSteps
// is nil for unknown-length workflows.
func (t *Tracker) Start(ctx context.Context, name string, triggerEventID *string, totalSteps *int) (models.WorkflowExecution, error) {
	wf, err := t.store.InsertWorkflow(ctx, name, triggerEventID, totalSteps)
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	telemetry.WorkflowsStarted.Inc()
	t.logger.Infow("workflow started", "execution_id", wf.ID, "workflow", name)
	return wf, nil
}

// Advance increments steps_completed and records the current step label.
// Fails ErrNotRunning once the execution is terminal.
func (t *Tracker) Advance(ctx context.Context, executionID, stepLabel string) (models.WorkflowExecution, error) {
	wf, ok, err := t.store.AdvanceWorkflow(ctx, executionID, stepLabel)
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if !ok {
		return models.WorkflowExecution{}, t.notRunning(ctx, executionID)
	}
	return wf, nil
}

// Finish lands the execution on completed or failed, stamping
// completed_at and duration. A second finish fails ErrNotRunning rather
// than silently succeeding.
func (t *Tracker) Finish(ctx context.Context, executionID string, succeeded bool, resultData []byte, errMsg *string) (models.WorkflowExecution, error) {
	status := models.WorkflowCompleted
	if !succeeded {
		status = models.WorkflowFailed
	}
	wf, ok, err := t.store.FinishWorkflow(ctx, executionID, status, resultData, errMsg)
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if !ok {
		return models.WorkflowExecution{}, t.notRunning(ctx, executionID)
	}
	t.logger.Infow("workflow finished",
		"execution_id", executionID, "status", status,
		"steps_completed", wf.StepsCompleted, "duration_ms", wf.DurationMS)
	return wf, nil
}

// Cancel moves a running execution to cancelled.
func (t *Tracker) Cancel(ctx context.Context, executionID string) (models.WorkflowExecution, error) {
	wf, ok, err := t.store.FinishWorkflow(ctx, executionID, models.WorkflowCancelled, nil, nil)
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	if !ok {
		return models.WorkflowExecution{}, t.notRunning(ctx, executionID)
	}
	return wf, nil
}

// CountRunning reports executions still in flight.
func (t *Tracker) CountRunning(ctx context.Context) (int64, error) {
	return t.store.CountRunningWorkflows(ctx)
}

// notRunning distinguishes an absent execution from a terminal one.
func (t *Tracker) notRunning(ctx context.Context, executionID string) error {
	wf, err := t.store.GetWorkflow(ctx, executionID)
	if err != nil {
		return err
	}
	return fmt.Errorf("execution %s is %s: %w", executionID, wf.Status, models.ErrNotRunning)
}
