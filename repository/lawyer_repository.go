package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amirariff91/lawkita-sub001/models"
)

// LawyerRepository exposes the canonical professional registry owned by
// the directory product. The pipeline only reads from it.
type LawyerRepository struct {
	db *pgxpool.Pool
}

// NewLawyerRepository creates a new lawyer repository
func NewLawyerRepository(db *pgxpool.Pool) *LawyerRepository {
	return &LawyerRepository{db: db}
}

// Search returns registry candidates whose name contains the fragment,
// case-insensitively. This is the candidate lookup consumed by the
// entity resolver.
func (r *LawyerRepository) Search(ctx context.Context, nameFragment string) ([]models.LawyerCandidate, error) {
	query := `
		SELECT id, name
		FROM lawyers
		WHERE name ILIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT 20`

	rows, err := r.db.Query(ctx, query, nameFragment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []models.LawyerCandidate
	for rows.Next() {
		var c models.LawyerCandidate
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}
