package deadletter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homeops-platform/internal/models"
	"homeops-platform/internal/store"
)

// Store is the persistence surface the handler needs.
type Store interface {
	InsertDeadLetter(ctx context.Context, dl models.DeadLetter) (models.DeadLetter, error)
	ListDeadLetters(ctx context.Context, f store.DeadLetterFilter) ([]models.DeadLetter, error)
	CountDeadLetters(ctx context.Context) (int64, error)
}

// Handler is the sole writer of dead-letter records. Records are a
// permanent audit trail: there is no update or delete path, and any
// future purge is an external administrative operation.
type Handler struct {
	store  Store
	logger *zap.SugaredLogger
}

// NewHandler constructs a dead-letter handler.
func NewHandler(st Store, logger *zap.SugaredLogger) *Handler {
	return &Handler{store: st, logger: logger}
}

// Record captures a terminally failed event. A write failure here is
// propagated, not swallowed: losing a dead letter loses the audit trail
// silently, so the caller must treat it as fatal for that event.
func (h *Handler) Record(ctx context.Context, ev models.BusEvent, failure error) (models.DeadLetter, error) {
	eventID := ev.ID
	dl := models.DeadLetter{
		EventID:      &eventID,
		EventType:    ev.EventType,
		EventName:    ev.EventName,
		SourceModule: ev.SourceModule,
		Payload:      ev.Payload,
		ErrorMessage: failure.Error(),
		RetryCount:   ev.RetryCount,
		FailedAt:     time.Now().UTC(),
	}
	stored, err := h.store.InsertDeadLetter(ctx, dl)
	if err != nil {
		return models.DeadLetter{}, fmt.Errorf("record dead letter for event %s: %w", ev.ID, err)
	}
	h.logger.Warnw("dead letter recorded",
		"event_id", ev.ID, "event_type", ev.EventType,
		"source_module", ev.SourceModule, "retry_count", ev.RetryCount)
	return stored, nil
}

// RecordOrphan captures a failure with no originating bus event.
func (h *Handler) RecordOrphan(ctx context.Context, eventType, eventName, sourceModule string, payload []byte, failure error) (models.DeadLetter, error) {
	dl := models.DeadLetter{
		EventType:    eventType,
		EventName:    eventName,
		SourceModule: sourceModule,
		Payload:      payload,
		ErrorMessage: failure.Error(),
		FailedAt:     time.Now().UTC(),
	}
	stored, err := h.store.InsertDeadLetter(ctx, dl)
	if err != nil {
		return models.DeadLetter{}, fmt.Errorf("record orphan dead letter: %w", err)
	}
	return stored, nil
}

// List returns dead letters matching the filter, newest first.
func (h *Handler) List(ctx context.Context, f store.DeadLetterFilter) ([]models.DeadLetter, error) {
	return h.store.ListDeadLetters(ctx, f)
}

// Count returns the total dead-letter count.
func (h *Handler) Count(ctx context.Context) (int64, error) {
	return h.store.CountDeadLetters(ctx)
}
