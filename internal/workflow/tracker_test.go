package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homeops-platform/internal/models"
)

// fakeWorkflowStore mimics the guarded-update semantics of the real store.
type fakeWorkflowStore struct {
	executions map[string]*models.WorkflowExecution
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{executions: map[string]*models.WorkflowExecution{}}
}

func (f *fakeWorkflowStore) InsertWorkflow(_ context.Context, name string, triggerEventID *string, totalSteps *int) (models.WorkflowExecution, error) {
	wf := &models.WorkflowExecution{
		ID:             uuid.New().String(),
		WorkflowName:   name,
		TriggerEventID: triggerEventID,
		Status:         models.WorkflowRunning,
		TotalSteps:     totalSteps,
		StartedAt:      time.Now().UTC(),
	}
	f.executions[wf.ID] = wf
	return *wf, nil
}

func (f *fakeWorkflowStore) GetWorkflow(_ context.Context, id string) (models.WorkflowExecution, error) {
	wf, ok := f.executions[id]
	if !ok {
		return models.WorkflowExecution{}, fmt.Errorf("workflow %s: %w", id, models.ErrNotFound)
	}
	return *wf, nil
}

func (f *fakeWorkflowStore) AdvanceWorkflow(_ context.Context, id, stepLabel string) (models.WorkflowExecution, bool, error) {
	wf, ok := f.executions[id]
	if !ok || wf.Status != models.WorkflowRunning {
		return models.WorkflowExecution{}, false, nil
	}
	wf.StepsCompleted++
	wf.CurrentStep = stepLabel
	return *wf, true, nil
}

func (f *fakeWorkflowStore) FinishWorkflow(_ context.Context, id string, status models.WorkflowStatus, resultData []byte, errMsg *string) (models.WorkflowExecution, bool, error) {
	wf, ok := f.executions[id]
	if !ok || wf.Status != models.WorkflowRunning {
		return models.WorkflowExecution{}, false, nil
	}
	wf.Status = status
	wf.ResultData = resultData
	wf.ErrorMessage = errMsg
	now := time.Now().UTC()
	wf.CompletedAt = &now
	ms := now.Sub(wf.StartedAt).Milliseconds()
	wf.DurationMS = &ms
	return *wf, true, nil
}

func (f *fakeWorkflowStore) CountRunningWorkflows(_ context.Context) (int64, error) {
	var n int64
	for _, wf := range f.executions {
		if wf.Status == models.WorkflowRunning {
			n++
		}
	}
	return n, nil
}

func newTestTracker(st Store) *Tracker {
	return NewTracker(st, zap.NewNop().Sugar())
}

func TestStartAdvanceFinish(t *testing.T) {
	ctx := context.Background()
	st := newFakeWorkflowStore()
	tr := newTestTracker(st)

	trigger := "ev-1"
	total := 3
	exec, err := tr.Start(ctx, "job_closeout", &trigger, &total)
	require.NoError(t, err)
	require.Equal(t, models.WorkflowRunning, exec.Status)
	require.Equal(t, 0, exec.StepsCompleted)

	steps := []string{"validate_payload", "invalidate_job_cache", "queue_homeowner_survey"}
	prev := 0
	for _, label := range steps {
		exec, err = tr.Advance(ctx, exec.ID, label)
		require.NoError(t, err)
		require.Equal(t, label, exec.CurrentStep)
		require.Greater(t, exec.StepsCompleted, prev, "steps_completed must increase")
		prev = exec.StepsCompleted
	}

	exec, err = tr.Finish(ctx, exec.ID, true, []byte(`{"ok":true}`), nil)
	require.NoError(t, err)
	require.Equal(t, models.WorkflowCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)
	require.NotNil(t, exec.DurationMS)
}

func TestAdvanceAfterFinishFailsNotRunning(t *testing.T) {
	ctx := context.Background()
	st := newFakeWorkflowStore()
	tr := newTestTracker(st)

	exec, err := tr.Start(ctx, "installer_briefing", nil, nil)
	require.NoError(t, err)
	_, err = tr.Finish(ctx, exec.ID, true, nil, nil)
	require.NoError(t, err)

	_, err = tr.Advance(ctx, exec.ID, "late_step")
	require.True(t, errors.Is(err, models.ErrNotRunning))
}

func TestSecondFinishFailsNotRunning(t *testing.T) {
	ctx := context.Background()
	st := newFakeWorkflowStore()
	tr := newTestTracker(st)

	exec, err := tr.Start(ctx, "job_closeout", nil, nil)
	require.NoError(t, err)

	msg := "step exploded"
	_, err = tr.Finish(ctx, exec.ID, false, nil, &msg)
	require.NoError(t, err)

	_, err = tr.Finish(ctx, exec.ID, true, nil, nil)
	require.True(t, errors.Is(err, models.ErrNotRunning), "finish is idempotent-once, second call must fail")
}

func TestCancelOnlyFromRunning(t *testing.T) {
	ctx := context.Background()
	st := newFakeWorkflowStore()
	tr := newTestTracker(st)

	exec, err := tr.Start(ctx, "job_closeout", nil, nil)
	require.NoError(t, err)

	cancelled, err := tr.Cancel(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.WorkflowCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	_, err = tr.Cancel(ctx, exec.ID)
	require.True(t, errors.Is(err, models.ErrNotRunning))
}

func TestOperationsOnMissingExecution(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(newFakeWorkflowStore())

	_, err := tr.Advance(ctx, "missing", "step")
	require.True(t, errors.Is(err, models.ErrNotFound))

	_, err = tr.Finish(ctx, "missing", true, nil, nil)
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCountRunning(t *testing.T) {
	ctx := context.Background()
	st := newFakeWorkflowStore()
	tr := newTestTracker(st)

	a, err := tr.Start(ctx, "one", nil, nil)
	require.NoError(t, err)
	_, err = tr.Start(ctx, "two", nil, nil)
	require.NoError(t, err)

	n, err := tr.CountRunning(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = tr.Finish(ctx, a.ID, true, nil, nil)
	require.NoError(t, err)

	n, err = tr.CountRunning(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
