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

const eventColumns = `id, event_type, event_name, source_module, target_modules, payload,
	status, retry_count, max_retries, last_error, processed_at, created_at, updated_at`

// InsertEvent appends a new bus event in status pending with retry_count 0.
func (s *Store) InsertEvent(ctx context.Context, ev models.NewBusEvent) (models.BusEvent, error) {
	return insertEvent(ctx, s.pool, ev)
}

func insertEvent(ctx context.Context, q querier, ev models.NewBusEvent) (models.BusEvent, error) {
	if ev.MaxRetries <= 0 {
		ev.MaxRetries = 3
	}
	if ev.Payload == nil {
		ev.Payload = []byte("{}")
	}
	if ev.TargetModules == nil {
		ev.TargetModules = []string{}
	}

	id := uuid.New().String()
	row := q.QueryRow(ctx, `
		INSERT INTO bus_events (id, event_type, event_name, source_module, target_modules, payload, status, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		RETURNING `+eventColumns+`
	`, id, ev.EventType, ev.EventName, ev.SourceModule, ev.TargetModules, []byte(ev.Payload),
		models.EventPending, ev.MaxRetries)

	out, err := scanEvent(row)
	if err != nil {
		return models.BusEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return out, nil
}

// GetEvent fetches one bus event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (models.BusEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM bus_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BusEvent{}, fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	return ev, err
}

// SetEventStatus moves an event to the requested status only when its
// current status is one of from. The bool reports whether the guard held.
func (s *Store) SetEventStatus(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus) (models.BusEvent, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE bus_events
		SET status = $3,
		    processed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE processed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+eventColumns+`
	`, id, statusStrings(from), to)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BusEvent{}, false, nil
	}
	if err != nil {
		return models.BusEvent{}, false, err
	}
	return ev, true, nil
}

// FailEvent applies the retry policy in one conditional statement so
// concurrent failure handlers cannot double-increment: the counter bumps
// and the status lands on retry while budget remains, failed once the
// budget is exhausted.
func (s *Store) FailEvent(ctx context.Context, id string, errMsg string) (models.BusEvent, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE bus_events
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 <= max_retries THEN 'retry' ELSE 'failed' END,
		    last_error = $2,
		    processed_at = CASE WHEN retry_count + 1 <= max_retries THEN processed_at ELSE NOW() END,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING `+eventColumns+`
	`, id, errMsg)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BusEvent{}, false, nil
	}
	if err != nil {
		return models.BusEvent{}, false, err
	}
	return ev, true, nil
}

// PromoteRetryEvent returns a retry event to pending for redelivery.
func (s *Store) PromoteRetryEvent(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bus_events SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'retry'
	`, id)
	if err != nil {
		return false, fmt.Errorf("promote retry event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimPendingEvents atomically moves a batch of pending events to
// processing and returns them, oldest first. SKIP LOCKED keeps
// concurrent dispatchers off each other's claims.
func (s *Store) ClaimPendingEvents(ctx context.Context, limit int) ([]models.BusEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE bus_events SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM bus_events
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns+`
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}
	defer rows.Close()

	events := make([]models.BusEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// StaleRetryEvents returns retry events untouched for longer than age.
// They are stragglers whose redelivery schedule was lost; the promotion
// sweep returns them to pending.
func (s *Store) StaleRetryEvents(ctx context.Context, age time.Duration, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM bus_events
		WHERE status = 'retry' AND updated_at < NOW() - $1::interval
		ORDER BY updated_at LIMIT $2
	`, age.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("stale retry events: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale retry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountPendingEvents counts the event-bus backlog (pending plus retry).
func (s *Store) CountPendingEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM bus_events WHERE status IN ('pending', 'retry')
	`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}

func scanEvent(row pgx.Row) (models.BusEvent, error) {
	var ev models.BusEvent
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.EventType, &ev.EventName, &ev.SourceModule, &ev.TargetModules,
		&payload, &ev.Status, &ev.RetryCount, &ev.MaxRetries, &ev.LastError, &ev.ProcessedAt,
		&ev.CreatedAt, &ev.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BusEvent{}, err
		}
		return models.BusEvent{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Payload = payload
	return ev, nil
}

func statusStrings(in []models.EventStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
