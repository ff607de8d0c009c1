package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/formacenter/cfm-api/internal/models"
)

// TrainerRepository provides read access to trainers.
type TrainerRepository struct {
	db *sqlx.DB
}

// NewTrainerRepository constructs the repository.
func NewTrainerRepository(db *sqlx.DB) *TrainerRepository {
	return &TrainerRepository{db: db}
}

// FindByID returns a trainer by its ID.
func (r *TrainerRepository) FindByID(ctx context.Context, id string) (*models.Trainer, error) {
	const query = `SELECT id, full_name, email, specialty, created_at, updated_at FROM trainers WHERE id = $1`
	var trainer models.Trainer
	if err := r.db.GetContext(ctx, &trainer, query, id); err != nil {
		return nil, err
	}
	return &trainer, nil
}
