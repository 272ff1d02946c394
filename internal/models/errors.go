package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Callers branch with errors.Is; the HTTP layer
// maps the first four to 4xx responses and the rest to 5xx.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidEventState    = errors.New("invalid event state change")
	ErrNotRunning           = errors.New("workflow execution is not running")
	ErrUnknownStatus        = errors.New("unknown status")
	ErrHeartbeatUnavailable = errors.New("heartbeat unavailable")
)

// InvalidTransitionf wraps ErrInvalidTransition naming the offending pair.
func InvalidTransitionf(from, to JobStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// InvalidEventStatef wraps ErrInvalidEventState naming the offending change.
func InvalidEventStatef(current, requested EventStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidEventState, current, requested)
}
