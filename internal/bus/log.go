package bus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homeops-platform/internal/models"
	"homeops-platform/internal/telemetry"
)

// EventStore is the persistence surface of the event bus log.
type EventStore interface {
	InsertEvent(ctx context.Context, ev models.NewBusEvent) (models.BusEvent, error)
	GetEvent(ctx context.Context, id string) (models.BusEvent, error)
	SetEventStatus(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus) (models.BusEvent, bool, error)
	FailEvent(ctx context.Context, id string, errMsg string) (models.BusEvent, bool, error)
	PromoteRetryEvent(ctx context.Context, id string) (bool, error)
	ClaimPendingEvents(ctx context.Context, limit int) ([]models.BusEvent, error)
	CountPendingEvents(ctx context.Context) (int64, error)
}

// DeadLetters is the slice of the dead-letter handler the bus needs.
type DeadLetters interface {
	Record(ctx context.Context, ev models.BusEvent, failure error) (models.DeadLetter, error)
}

// Redelivery schedules retry-status events for future promotion.
type Redelivery interface {
	Schedule(ctx context.Context, eventID string, at time.Time) error
}

// Log is the append-only domain event record with guarded status
// transitions and a bounded retry budget.
type Log struct {
	store       EventStore
	deadLetters DeadLetters
	redelivery  Redelivery
	backoff     Backoff
	logger      *zap.SugaredLogger
}

// NewLog constructs the event bus log. redelivery may be nil when the
// caller promotes retry events itself (tests, single-shot tools).
func NewLog(st EventStore, dl DeadLetters, rd Redelivery, backoff Backoff, logger *zap.SugaredLogger) *Log {
	return &Log{store: st, deadLetters: dl, redelivery: rd, backoff: backoff, logger: logger}
}

// Publish appends a new event with status pending and retry_count 0.
func (l *Log) Publish(ctx context.Context, ev models.NewBusEvent) (models.BusEvent, error) {
	stored, err := l.store.InsertEvent(ctx, ev)
	if err != nil {
		return models.BusEvent{}, err
	}
	telemetry.EventsPublished.Inc()
	l.logger.Debugw("event published",
		"event_id", stored.ID, "event_type", stored.EventType, "source_module", stored.SourceModule)
	return stored, nil
}

// MarkProcessing moves pending -> processing.
func (l *Log) MarkProcessing(ctx context.Context, eventID string) (models.BusEvent, error) {
	return l.mark(ctx, eventID, []models.EventStatus{models.EventPending}, models.EventProcessing)
}

// MarkCompleted moves processing -> completed and stamps processed_at.
func (l *Log) MarkCompleted(ctx context.Context, eventID string) (models.BusEvent, error) {
	return l.mark(ctx, eventID, []models.EventStatus{models.EventProcessing}, models.EventCompleted)
}

func (l *Log) mark(ctx context.Context, eventID string, from []models.EventStatus, to models.EventStatus) (models.BusEvent, error) {
	ev, ok, err := l.store.SetEventStatus(ctx, eventID, from, to)
	if err != nil {
		return models.BusEvent{}, err
	}
	if !ok {
		current, err := l.store.GetEvent(ctx, eventID)
		if err != nil {
			return models.BusEvent{}, err
		}
		return models.BusEvent{}, models.InvalidEventStatef(current.Status, to)
	}
	return ev, nil
}

// MarkFailed applies the retry policy to a pending or processing event.
// While budget remains the event lands on retry and is scheduled for
// redelivery with exponential backoff; once retry_count would exceed
// max_retries the event lands on failed and exactly one dead letter is
// recorded. A dead-letter write failure is fatal for this event's
// pipeline and is returned to the caller.
func (l *Log) MarkFailed(ctx context.Context, eventID string, failure error) (models.BusEvent, error) {
	ev, ok, err := l.store.FailEvent(ctx, eventID, failure.Error())
	if err != nil {
		return models.BusEvent{}, err
	}
	if !ok {
		current, err := l.store.GetEvent(ctx, eventID)
		if err != nil {
			return models.BusEvent{}, err
		}
		return models.BusEvent{}, models.InvalidEventStatef(current.Status, models.EventFailed)
	}

	if ev.Status == models.EventFailed {
		if _, dlErr := l.deadLetters.Record(ctx, ev, failure); dlErr != nil {
			return models.BusEvent{}, fmt.Errorf("event %s exhausted retries: %w", eventID, dlErr)
		}
		telemetry.EventsDeadLettered.Inc()
		l.logger.Errorw("event failed terminally",
			"event_id", eventID, "event_type", ev.EventType, "retry_count", ev.RetryCount, "error", failure)
		return ev, nil
	}

	delay := l.backoff.Delay(ev.RetryCount)
	if l.redelivery != nil {
		if err := l.redelivery.Schedule(ctx, eventID, time.Now().Add(delay)); err != nil {
			// The event stays in retry status; the promotion fallback cron
			// picks up stragglers the scheduler missed.
			l.logger.Warnw("schedule redelivery failed", "event_id", eventID, "error", err)
		}
	}
	telemetry.EventsRetried.Inc()
	l.logger.Infow("event scheduled for retry",
		"event_id", eventID, "retry_count", ev.RetryCount, "delay", delay, "error", failure)
	return ev, nil
}

// Promote returns a retry event to pending for redelivery.
func (l *Log) Promote(ctx context.Context, eventID string) (bool, error) {
	return l.store.PromoteRetryEvent(ctx, eventID)
}

// Claim atomically moves a batch of pending events to processing.
func (l *Log) Claim(ctx context.Context, limit int) ([]models.BusEvent, error) {
	return l.store.ClaimPendingEvents(ctx, limit)
}

// PendingCount reports the current bus backlog.
func (l *Log) PendingCount(ctx context.Context) (int64, error) {
	return l.store.CountPendingEvents(ctx)
}

// Get fetches one event by id.
func (l *Log) Get(ctx context.Context, eventID string) (models.BusEvent, error) {
	return l.store.GetEvent(ctx, eventID)
}
