package store

import (
	"context"
	"fmt"

	"homeops-platform/internal/models"
)

// UpsertModuleHealth records the latest probe result for a module.
func (s *Store) UpsertModuleHealth(ctx context.Context, h models.ModuleHealth) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO module_health (module, status, response_time_ms, detail, checked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (module) DO UPDATE
		SET status = EXCLUDED.status,
		    response_time_ms = EXCLUDED.response_time_ms,
		    detail = EXCLUDED.detail,
		    checked_at = EXCLUDED.checked_at
	`, h.Module, h.Status, h.ResponseTimeMS, h.Detail, h.CheckedAt)
	if err != nil {
		return fmt.Errorf("upsert module health: %w", err)
	}
	return nil
}

// ListModuleHealth returns the latest probe result per module.
func (s *Store) ListModuleHealth(ctx context.Context) ([]models.ModuleHealth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT module, status, response_time_ms, detail, checked_at
		FROM module_health ORDER BY module
	`)
	if err != nil {
		return nil, fmt.Errorf("list module health: %w", err)
	}
	defer rows.Close()

	out := make([]models.ModuleHealth, 0)
	for rows.Next() {
		var h models.ModuleHealth
		if err := rows.Scan(&h.Module, &h.Status, &h.ResponseTimeMS, &h.Detail, &h.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan module health: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
