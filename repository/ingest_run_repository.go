package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amirariff91/lawkita-sub001/models"
)

// IngestRunRepository records pipeline runs for the admin dashboard
type IngestRunRepository struct {
	db *pgxpool.Pool
}

// NewIngestRunRepository creates a new ingest run repository
func NewIngestRunRepository(db *pgxpool.Pool) *IngestRunRepository {
	return &IngestRunRepository{db: db}
}

// Create inserts a run in its initial running state
func (r *IngestRunRepository) Create(ctx context.Context, run *models.IngestRun) error {
	query := `
		INSERT INTO ingest_runs (id, source, dry_run, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, run.ID, run.Source, run.DryRun, run.Status, run.StartedAt)
	return err
}

// Finish records the final counts and status of a run
func (r *IngestRunRepository) Finish(ctx context.Context, run *models.IngestRun) error {
	query := `
		UPDATE ingest_runs SET
			status = $2,
			processed = $3,
			created = $4,
			updated = $5,
			skipped = $6,
			errors = $7,
			duration_ms = $8,
			completed_at = $9
		WHERE id = $1`

	_, err := r.db.Exec(
		ctx, query,
		run.ID,
		run.Status,
		run.Processed,
		run.Created,
		run.Updated,
		run.Skipped,
		run.Errors,
		run.DurationMs,
		run.CompletedAt,
	)
	return err
}

// GetByID retrieves a run by ID
func (r *IngestRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error) {
	run := &models.IngestRun{}
	query := `
		SELECT id, source, dry_run, status, processed, created, updated,
			skipped, errors, duration_ms, started_at, completed_at
		FROM ingest_runs
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Source,
		&run.DryRun,
		&run.Status,
		&run.Processed,
		&run.Created,
		&run.Updated,
		&run.Skipped,
		&run.Errors,
		&run.DurationMs,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRecent retrieves the most recent runs, newest first
func (r *IngestRunRepository) ListRecent(ctx context.Context, limit int) ([]*models.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, source, dry_run, status, processed, created, updated,
			skipped, errors, duration_ms, started_at, completed_at
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.IngestRun
	for rows.Next() {
		run := &models.IngestRun{}
		err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.DryRun,
			&run.Status,
			&run.Processed,
			&run.Created,
			&run.Updated,
			&run.Skipped,
			&run.Errors,
			&run.DurationMs,
			&run.StartedAt,
			&run.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
