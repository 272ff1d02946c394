package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"homeops-platform/internal/models"
)

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	Tenant      string
	InstallerID *string
	Materials   []models.MaterialSelection
}

// CreateJob inserts a job in the initial intake_submitted status.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.Materials == nil {
		p.Materials = []models.MaterialSelection{}
	}
	materialsJSON, err := json.Marshal(p.Materials)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal materials: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, tenant, status, installer_id, materials, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, p.Tenant, models.StatusIntakeSubmitted, p.InstallerID, materialsJSON, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:          id,
		Tenant:      p.Tenant,
		Status:      models.StatusIntakeSubmitted,
		InstallerID: p.InstallerID,
		Materials:   p.Materials,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

const jobColumns = `id, tenant, status, installer_id, materials, created_at, updated_at, deleted_at`

// GetActiveJob fetches a job by id, excluding soft-deleted rows.
func (s *Store) GetActiveJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND deleted_at IS NULL
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return job, err
}

// ListJobs returns active jobs for a tenant, newest first.
func (s *Store) ListJobs(ctx context.Context, tenant string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE tenant = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2
	`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SoftDeleteJob stamps deleted_at; the row stays for auditing but leaves
// every active-state query.
func (s *Store) SoftDeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("soft delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// SwapJobStatus applies from -> to only while the stored status still
// equals from, inserting the lifecycle event in the same transaction.
// The returned bool is false when another transition won the race.
func (s *Store) SwapJobStatus(ctx context.Context, id string, from, to models.JobStatus, event models.NewBusEvent) (models.Job, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	row := tx.QueryRow(ctx, `
		UPDATE jobs SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
		RETURNING `+jobColumns+`
	`, id, from, to)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}

	if _, err := insertEvent(ctx, tx, event); err != nil {
		return models.Job{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit: %w", err)
	}
	return job, true, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var materialsJSON []byte

	if err := row.Scan(&job.ID, &job.Tenant, &job.Status, &job.InstallerID, &materialsJSON,
		&job.CreatedAt, &job.UpdatedAt, &job.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(materialsJSON, &job.Materials); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal materials: %w", err)
	}
	return job, nil
}
