package repository

import (
	"context"
	"fmt"

	"github.com/tullo/moderation/internal/database"
	"github.com/tullo/moderation/internal/models"
)

type FlagRepository struct {
	db *database.DB
}

func NewFlagRepository(db *database.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

// Create persists an immutable flag record
func (r *FlagRepository) Create(ctx context.Context, flag *models.Flag) error {
	query := `
		INSERT INTO content_flags (id, source_type, target_content_id, reporter_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		flag.ID,
		flag.SourceType,
		flag.TargetContentID,
		flag.ReporterID,
		flag.Reason,
		flag.CreatedAt,
	).Scan(&flag.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create flag: %w", err)
	}
	return nil
}
