package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"homeops-platform/internal/models"
)

const workflowColumns = `id, workflow_name, trigger_event_id, status, steps_completed, total_steps,
	current_step, result_data, error_message, started_at, completed_at, duration_ms`

// InsertWorkflow creates a running execution with zero completed steps.
func (s *Store) InsertWorkflow(ctx context.Context, name string, triggerEventID *string, totalSteps *int) (models.WorkflowExecution, error) {
	id := uuid.New().String()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO workflow_executions (id, workflow_name, trigger_event_id, status, steps_completed, total_steps, started_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())
		RETURNING `+workflowColumns+`
	`, id, name, triggerEventID, models.WorkflowRunning, totalSteps)
	wf, err := scanWorkflow(row)
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("insert workflow: %w", err)
	}
	return wf, nil
}

// GetWorkflow fetches one execution by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (models.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflow_executions WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowExecution{}, fmt.Errorf("workflow %s: %w", id, models.ErrNotFound)
	}
	return wf, err
}

// AdvanceWorkflow bumps steps_completed and records the current step.
// The guard on status keeps the counter monotone; false means the
// execution was not running.
func (s *Store) AdvanceWorkflow(ctx context.Context, id, stepLabel string) (models.WorkflowExecution, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE workflow_executions
		SET steps_completed = steps_completed + 1, current_step = $2
		WHERE id = $1 AND status = 'running'
		RETURNING `+workflowColumns+`
	`, id, stepLabel)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowExecution{}, false, nil
	}
	if err != nil {
		return models.WorkflowExecution{}, false, err
	}
	return wf, true, nil
}

// FinishWorkflow lands a running execution on a terminal status, stamping
// completed_at and duration in the same statement. false means the
// execution was already terminal.
func (s *Store) FinishWorkflow(ctx context.Context, id string, status models.WorkflowStatus, resultData []byte, errMsg *string) (models.WorkflowExecution, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE workflow_executions
		SET status = $2,
		    result_data = $3,
		    error_message = $4,
		    completed_at = NOW(),
		    duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint
		WHERE id = $1 AND status = 'running'
		RETURNING `+workflowColumns+`
	`, id, status, resultData, errMsg)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowExecution{}, false, nil
	}
	if err != nil {
		return models.WorkflowExecution{}, false, err
	}
	return wf, true, nil
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status models.WorkflowStatus
	Since  *time.Time
	Limit  int
}

// ListWorkflows returns matching executions, newest first.
func (s *Store) ListWorkflows(ctx context.Context, f WorkflowFilter) ([]models.WorkflowExecution, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflow_executions
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		ORDER BY started_at DESC LIMIT $3
	`, string(f.Status), f.Since, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	out := make([]models.WorkflowExecution, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// CountRunningWorkflows counts executions still in flight.
func (s *Store) CountRunningWorkflows(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM workflow_executions WHERE status = 'running'
	`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count running workflows: %w", err)
	}
	return n, nil
}

func scanWorkflow(row pgx.Row) (models.WorkflowExecution, error) {
	var wf models.WorkflowExecution
	var result []byte
	if err := row.Scan(&wf.ID, &wf.WorkflowName, &wf.TriggerEventID, &wf.Status, &wf.StepsCompleted,
		&wf.TotalSteps, &wf.CurrentStep, &result, &wf.ErrorMessage, &wf.StartedAt,
		&wf.CompletedAt, &wf.DurationMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WorkflowExecution{}, err
		}
		return models.WorkflowExecution{}, fmt.Errorf("scan workflow: %w", err)
	}
	wf.ResultData = result
	return wf, nil
}
