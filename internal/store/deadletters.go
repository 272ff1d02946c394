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

const deadLetterColumns = `id, event_id, event_type, event_name, source_module, payload,
	error_message, error_stack, retry_count, failed_at`

// InsertDeadLetter appends one immutable dead-letter row. The partial
// unique index on event_id backstops the exactly-once invariant for
// event-sourced failures; a duplicate insert returns the existing row.
func (s *Store) InsertDeadLetter(ctx context.Context, dl models.DeadLetter) (models.DeadLetter, error) {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.Payload == nil {
		dl.Payload = []byte("{}")
	}
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO dead_letters (id, event_id, event_type, event_name, source_module, payload, error_message, error_stack, retry_count, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) WHERE event_id IS NOT NULL DO NOTHING
		RETURNING `+deadLetterColumns+`
	`, dl.ID, dl.EventID, dl.EventType, dl.EventName, dl.SourceModule, []byte(dl.Payload),
		dl.ErrorMessage, dl.ErrorStack, dl.RetryCount, dl.FailedAt)

	out, err := scanDeadLetter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict path: a dead letter for this event already exists.
		return s.getDeadLetterByEvent(ctx, dl.EventID)
	}
	if err != nil {
		return models.DeadLetter{}, fmt.Errorf("insert dead letter: %w", err)
	}
	return out, nil
}

func (s *Store) getDeadLetterByEvent(ctx context.Context, eventID *string) (models.DeadLetter, error) {
	if eventID == nil {
		return models.DeadLetter{}, fmt.Errorf("dead letter: %w", models.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+deadLetterColumns+` FROM dead_letters WHERE event_id = $1
	`, *eventID)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DeadLetter{}, fmt.Errorf("dead letter for event %s: %w", *eventID, models.ErrNotFound)
	}
	return dl, err
}

// DeadLetterFilter narrows ListDeadLetters by module and failure window.
type DeadLetterFilter struct {
	SourceModule string
	Since        *time.Time
	Until        *time.Time
	Limit        int
}

// ListDeadLetters returns matching rows, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, f DeadLetterFilter) ([]models.DeadLetter, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deadLetterColumns+` FROM dead_letters
		WHERE ($1 = '' OR source_module = $1)
		  AND ($2::timestamptz IS NULL OR failed_at >= $2)
		  AND ($3::timestamptz IS NULL OR failed_at < $3)
		ORDER BY failed_at DESC LIMIT $4
	`, f.SourceModule, f.Since, f.Until, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]models.DeadLetter, 0)
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// CountDeadLetters returns the total dead-letter count.
func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

func scanDeadLetter(row pgx.Row) (models.DeadLetter, error) {
	var dl models.DeadLetter
	var payload []byte
	if err := row.Scan(&dl.ID, &dl.EventID, &dl.EventType, &dl.EventName, &dl.SourceModule,
		&payload, &dl.ErrorMessage, &dl.ErrorStack, &dl.RetryCount, &dl.FailedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DeadLetter{}, err
		}
		return models.DeadLetter{}, fmt.Errorf("scan dead letter: %w", err)
	}
	dl.Payload = payload
	return dl, nil
}
