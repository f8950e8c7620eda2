package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amirariff91/lawkita-sub001/models"
)

// CaseRepository handles database operations for canonical legal cases
type CaseRepository struct {
	db *pgxpool.Pool
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool) *CaseRepository {
	return &CaseRepository{db: db}
}

// Upsert inserts or updates a case keyed by its canonical key and reports
// whether a new row was created. The upsert is a single statement, so two
// concurrent writers cannot lose each other's row; the xmax trick
// distinguishes insert from update.
func (r *CaseRepository) Upsert(ctx context.Context, mc *models.MergedCase) (bool, error) {
	query := `
		INSERT INTO legal_cases (
			id, canonical_key, canonical_name, alternative_names, category,
			status, court, judges, lawyers, key_dates, charges, verdict,
			summary, confidence, source_count, source_urls, published,
			review_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (canonical_key) DO UPDATE SET
			canonical_name = EXCLUDED.canonical_name,
			alternative_names = EXCLUDED.alternative_names,
			category = EXCLUDED.category,
			status = EXCLUDED.status,
			court = EXCLUDED.court,
			judges = EXCLUDED.judges,
			lawyers = EXCLUDED.lawyers,
			key_dates = EXCLUDED.key_dates,
			charges = EXCLUDED.charges,
			verdict = EXCLUDED.verdict,
			summary = EXCLUDED.summary,
			confidence = EXCLUDED.confidence,
			source_count = EXCLUDED.source_count,
			source_urls = EXCLUDED.source_urls,
			published = EXCLUDED.published,
			review_status = EXCLUDED.review_status,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS created`

	var created bool
	err := r.db.QueryRow(
		ctx, query,
		mc.ID,
		mc.CanonicalKey,
		mc.CanonicalName,
		mc.AlternativeNames,
		mc.Category,
		mc.Status,
		mc.Court,
		mc.Judges,
		mc.Lawyers,
		mc.KeyDates,
		mc.Charges,
		mc.Verdict,
		mc.Summary,
		mc.Confidence,
		mc.SourceCount,
		mc.SourceURLs,
		mc.Published,
		mc.ReviewStatus,
	).Scan(&mc.ID, &mc.CreatedAt, &mc.UpdatedAt, &created)

	return created, err
}

// FindByKey retrieves a case by canonical key, returning (nil, nil) when
// no record exists.
func (r *CaseRepository) FindByKey(ctx context.Context, key string) (*models.MergedCase, error) {
	mc := &models.MergedCase{}
	query := `
		SELECT id, canonical_key, canonical_name, alternative_names, category,
			status, court, judges, lawyers, key_dates, charges, verdict,
			summary, confidence, source_count, source_urls, published,
			review_status, created_at, updated_at
		FROM legal_cases
		WHERE canonical_key = $1`

	err := r.db.QueryRow(ctx, query, key).Scan(
		&mc.ID,
		&mc.CanonicalKey,
		&mc.CanonicalName,
		&mc.AlternativeNames,
		&mc.Category,
		&mc.Status,
		&mc.Court,
		&mc.Judges,
		&mc.Lawyers,
		&mc.KeyDates,
		&mc.Charges,
		&mc.Verdict,
		&mc.Summary,
		&mc.Confidence,
		&mc.SourceCount,
		&mc.SourceURLs,
		&mc.Published,
		&mc.ReviewStatus,
		&mc.CreatedAt,
		&mc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// ListForReview retrieves unpublished cases awaiting moderator review,
// highest confidence first.
func (r *CaseRepository) ListForReview(ctx context.Context, limit int) ([]*models.MergedCase, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, canonical_key, canonical_name, alternative_names, category,
			status, court, judges, lawyers, key_dates, charges, verdict,
			summary, confidence, source_count, source_urls, published,
			review_status, created_at, updated_at
		FROM legal_cases
		WHERE review_status = $1
		ORDER BY confidence DESC, updated_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, models.ReviewStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*models.MergedCase
	for rows.Next() {
		mc := &models.MergedCase{}
		err := rows.Scan(
			&mc.ID,
			&mc.CanonicalKey,
			&mc.CanonicalName,
			&mc.AlternativeNames,
			&mc.Category,
			&mc.Status,
			&mc.Court,
			&mc.Judges,
			&mc.Lawyers,
			&mc.KeyDates,
			&mc.Charges,
			&mc.Verdict,
			&mc.Summary,
			&mc.Confidence,
			&mc.SourceCount,
			&mc.SourceURLs,
			&mc.Published,
			&mc.ReviewStatus,
			&mc.CreatedAt,
			&mc.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		cases = append(cases, mc)
	}

	return cases, rows.Err()
}
