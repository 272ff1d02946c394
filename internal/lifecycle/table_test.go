package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"homeops-platform/internal/models"
)

var allStatuses = []models.JobStatus{
	models.StatusIntakeSubmitted,
	models.StatusScopeGenerated,
	models.StatusQuotePending,
	models.StatusQuoteApproved,
	models.StatusQuoteRejected,
	models.StatusJobCreated,
	models.StatusInstallerAssigned,
	models.StatusScheduled,
	models.StatusInProgress,
	models.StatusCompleted,
	models.StatusCancelled,
}

func TestAllowedNextTotalOverEnum(t *testing.T) {
	for _, st := range allStatuses {
		next, err := AllowedNext(st)
		require.NoError(t, err, "status %s", st)
		for _, n := range next {
			require.NotEqual(t, st, n, "status %s transitions to itself", st)
		}
	}
}

func TestAllowedNextUnknownStatus(t *testing.T) {
	_, err := AllowedNext("definitely_not_a_status")
	require.True(t, errors.Is(err, models.ErrUnknownStatus))
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	for _, st := range []models.JobStatus{models.StatusCompleted, models.StatusCancelled, models.StatusQuoteRejected} {
		next, err := AllowedNext(st)
		require.NoError(t, err)
		require.Empty(t, next, "terminal status %s has outgoing edges", st)
		require.True(t, IsTerminal(st))
	}
}

func TestNonTerminalStatusesReachCancelled(t *testing.T) {
	for _, st := range allStatuses {
		if IsTerminal(st) {
			continue
		}
		ok, err := CanTransition(st, models.StatusCancelled)
		require.NoError(t, err)
		require.True(t, ok, "status %s cannot reach cancelled", st)
	}
}

func TestHappyPathEdges(t *testing.T) {
	path := []models.JobStatus{
		models.StatusIntakeSubmitted,
		models.StatusScopeGenerated,
		models.StatusQuotePending,
		models.StatusQuoteApproved,
		models.StatusJobCreated,
		models.StatusInstallerAssigned,
		models.StatusScheduled,
		models.StatusInProgress,
		models.StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		ok, err := CanTransition(path[i], path[i+1])
		require.NoError(t, err)
		require.True(t, ok, "%s -> %s should be allowed", path[i], path[i+1])
	}
}

func TestQuoteRejectionBranch(t *testing.T) {
	ok, err := CanTransition(models.StatusQuotePending, models.StatusQuoteRejected)
	require.NoError(t, err)
	require.True(t, ok)

	// rejection is terminal, approval path cannot resume
	ok, err = CanTransition(models.StatusQuoteRejected, models.StatusQuoteApproved)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNoBackwardOrSkipEdges(t *testing.T) {
	cases := []struct{ from, to models.JobStatus }{
		{models.StatusScopeGenerated, models.StatusIntakeSubmitted},
		{models.StatusScopeGenerated, models.StatusQuoteApproved},
		{models.StatusIntakeSubmitted, models.StatusCompleted},
		{models.StatusCompleted, models.StatusInProgress},
	}
	for _, c := range cases {
		ok, err := CanTransition(c.from, c.to)
		require.NoError(t, err)
		require.False(t, ok, "%s -> %s should be rejected", c.from, c.to)
	}
}
