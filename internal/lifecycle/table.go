package lifecycle

import (
	"fmt"

	"homeops-platform/internal/models"
)

// transitions is the fixed job status graph. Every non-terminal status
// also reaches cancelled; terminal statuses have no outgoing edges.
var transitions = map[models.JobStatus][]models.JobStatus{
	models.StatusIntakeSubmitted:   {models.StatusScopeGenerated, models.StatusCancelled},
	models.StatusScopeGenerated:    {models.StatusQuotePending, models.StatusCancelled},
	models.StatusQuotePending:      {models.StatusQuoteApproved, models.StatusQuoteRejected, models.StatusCancelled},
	models.StatusQuoteApproved:     {models.StatusJobCreated, models.StatusCancelled},
	models.StatusQuoteRejected:     {},
	models.StatusJobCreated:        {models.StatusInstallerAssigned, models.StatusCancelled},
	models.StatusInstallerAssigned: {models.StatusScheduled, models.StatusCancelled},
	models.StatusScheduled:         {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:        {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:         {},
	models.StatusCancelled:         {},
}

// AllowedNext returns the statuses reachable from current in one step, in
// table order. Terminal statuses yield an empty slice. An input outside
// the enum fails ErrUnknownStatus.
func AllowedNext(current models.JobStatus) ([]models.JobStatus, error) {
	next, ok := transitions[current]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownStatus, current)
	}
	out := make([]models.JobStatus, len(next))
	copy(out, next)
	return out, nil
}

// CanTransition reports whether requested is reachable from current.
func CanTransition(current, requested models.JobStatus) (bool, error) {
	next, err := AllowedNext(current)
	if err != nil {
		return false, err
	}
	for _, s := range next {
		if s == requested {
			return true, nil
		}
	}
	return false, nil
}

// IsTerminal reports whether status has no outgoing edges.
func IsTerminal(status models.JobStatus) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}
