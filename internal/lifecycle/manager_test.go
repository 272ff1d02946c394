package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homeops-platform/internal/models"
)

// fakeJobStore mimics the conditional swap semantics of the real store.
type fakeJobStore struct {
	jobs   map[string]*models.Job
	events []models.NewBusEvent

	// when set, SwapJobStatus flips the job to this status first,
	// simulating a concurrent transition winning the race.
	raceTo models.JobStatus
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*models.Job{}}
}

func (f *fakeJobStore) add(id string, status models.JobStatus) {
	f.jobs[id] = &models.Job{ID: id, Tenant: "acme", Status: status, UpdatedAt: time.Now().UTC()}
}

func (f *fakeJobStore) GetActiveJob(_ context.Context, id string) (models.Job, error) {
	job, ok := f.jobs[id]
	if !ok || job.DeletedAt != nil {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return *job, nil
}

func (f *fakeJobStore) SwapJobStatus(_ context.Context, id string, from, to models.JobStatus, event models.NewBusEvent) (models.Job, bool, error) {
	job, ok := f.jobs[id]
	if !ok || job.DeletedAt != nil {
		return models.Job{}, false, nil
	}
	if f.raceTo != "" {
		job.Status = f.raceTo
		f.raceTo = ""
	}
	if job.Status != from {
		return models.Job{}, false, nil
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	f.events = append(f.events, event)
	return *job, true, nil
}

func newTestManager(st JobStore) *Manager {
	return NewManager(st, 3, zap.NewNop().Sugar())
}

func TestTransitionHappyPath(t *testing.T) {
	st := newFakeJobStore()
	st.add("j1", models.StatusIntakeSubmitted)
	m := newTestManager(st)

	job, err := m.Transition(context.Background(), "j1", models.StatusScopeGenerated)
	require.NoError(t, err)
	require.Equal(t, models.StatusScopeGenerated, job.Status)

	require.Len(t, st.events, 1)
	require.Equal(t, "job.scope_generated", st.events[0].EventType)

	var payload models.JobStatusPayload
	require.NoError(t, json.Unmarshal(st.events[0].Payload, &payload))
	require.Equal(t, "j1", payload.JobID)
	require.Equal(t, models.StatusIntakeSubmitted, payload.FromStatus)
	require.Equal(t, models.StatusScopeGenerated, payload.ToStatus)
}

func TestTransitionRejectsInvalidPairAndLeavesStatus(t *testing.T) {
	st := newFakeJobStore()
	st.add("j1", models.StatusScopeGenerated)
	m := newTestManager(st)

	_, err := m.Transition(context.Background(), "j1", models.StatusQuoteApproved)
	require.True(t, errors.Is(err, models.ErrInvalidTransition))
	require.Contains(t, err.Error(), "scope_generated")
	require.Contains(t, err.Error(), "quote_approved")

	require.Equal(t, models.StatusScopeGenerated, st.jobs["j1"].Status)
	require.Empty(t, st.events, "no event emitted for a rejected transition")
}

func TestTransitionExhaustiveInvalidPairs(t *testing.T) {
	ctx := context.Background()
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			ok, err := CanTransition(from, to)
			require.NoError(t, err)
			if ok {
				continue
			}
			st := newFakeJobStore()
			st.add("j1", from)
			m := newTestManager(st)

			_, err = m.Transition(ctx, "j1", to)
			require.True(t, errors.Is(err, models.ErrInvalidTransition), "%s -> %s", from, to)
			require.Equal(t, from, st.jobs["j1"].Status, "status changed on rejected %s -> %s", from, to)
		}
	}
}

func TestTransitionNotFound(t *testing.T) {
	m := newTestManager(newFakeJobStore())
	_, err := m.Transition(context.Background(), "missing", models.StatusScopeGenerated)
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTransitionSoftDeletedJobIsNotFound(t *testing.T) {
	st := newFakeJobStore()
	st.add("j1", models.StatusIntakeSubmitted)
	now := time.Now().UTC()
	st.jobs["j1"].DeletedAt = &now
	m := newTestManager(st)

	_, err := m.Transition(context.Background(), "j1", models.StatusScopeGenerated)
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTransitionUnknownStatus(t *testing.T) {
	st := newFakeJobStore()
	st.add("j1", models.StatusIntakeSubmitted)
	m := newTestManager(st)

	_, err := m.Transition(context.Background(), "j1", "warp_speed")
	require.True(t, errors.Is(err, models.ErrUnknownStatus))
}

func TestTransitionLoserObservesPostTransitionStatus(t *testing.T) {
	st := newFakeJobStore()
	st.add("j1", models.StatusIntakeSubmitted)
	st.raceTo = models.StatusCancelled // concurrent cancel wins
	m := newTestManager(st)

	_, err := m.Transition(context.Background(), "j1", models.StatusScopeGenerated)
	require.True(t, errors.Is(err, models.ErrInvalidTransition))
	require.Contains(t, err.Error(), "cancelled", "error should name the post-transition status")
}

func TestAllowedNextForTerminalIsEmpty(t *testing.T) {
	st := newFakeJobStore()
	st.add("done", models.StatusCompleted)
	m := newTestManager(st)

	next, err := m.AllowedNextFor(context.Background(), "done")
	require.NoError(t, err)
	require.Empty(t, next)
}

func TestAllowedNextForProjection(t *testing.T) {
	st := newFakeJobStore()
	st.add("j1", models.StatusQuotePending)
	m := newTestManager(st)

	next, err := m.AllowedNextFor(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, []models.JobStatus{
		models.StatusQuoteApproved,
		models.StatusQuoteRejected,
		models.StatusCancelled,
	}, next)
}
