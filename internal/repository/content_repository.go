package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tullo/moderation/internal/database"
	"github.com/tullo/moderation/internal/models"
)

type ContentRepository struct {
	db *database.DB
}

func NewContentRepository(db *database.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// IncrementFlagCount bumps the flag counter in a single statement and returns
// the new count together with the status observed before the increment.
// The row lock in the CTE serializes concurrent flags on the same content.
func (r *ContentRepository) IncrementFlagCount(ctx context.Context, sourceType models.SourceType, id uuid.UUID) (*models.FlagCountUpdate, error) {
	query := `
		WITH prior AS (
			SELECT id, status FROM moderated_content
			WHERE id = $1 AND source_type = $2
			FOR UPDATE
		)
		UPDATE moderated_content c
		SET flag_count = c.flag_count + 1, updated_at = NOW()
		FROM prior
		WHERE c.id = prior.id
		RETURNING c.id, c.parent_id, c.body, c.attachments, c.flag_count, prior.status
	`

	u := &models.FlagCountUpdate{}
	var attachments []string
	err := r.db.QueryRowContext(ctx, query, id, sourceType).Scan(
		&u.ContentID,
		&u.ParentID,
		&u.Body,
		pq.Array(&attachments),
		&u.FlagCount,
		&u.PriorStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment flag count: %w", err)
	}
	u.Attachments = attachments
	return u, nil
}

// MarkPendingReview moves visible content to pending_review. It reports
// whether this call changed the status.
func (r *ContentRepository) MarkPendingReview(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE moderated_content
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, id, models.ContentPendingReview, models.ContentVisible)
	if err != nil {
		return false, fmt.Errorf("failed to mark content pending review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// LockContainer locks the parent container once. It reports whether this
// call performed the lock.
func (r *ContentRepository) LockContainer(ctx context.Context, containerID uuid.UUID) (bool, error) {
	query := `
		UPDATE content_containers
		SET locked = true, locked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND locked = false
	`
	res, err := r.db.ExecContext(ctx, query, containerID)
	if err != nil {
		return false, fmt.Errorf("failed to lock container: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// GetByID retrieves content by ID
func (r *ContentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	query := `
		SELECT id, source_type, parent_id, body, attachments, flag_count, status, created_at, updated_at
		FROM moderated_content
		WHERE id = $1
	`

	c := &models.Content{}
	var attachments []string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.SourceType,
		&c.ParentID,
		&c.Body,
		pq.Array(&attachments),
		&c.FlagCount,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	c.Attachments = attachments
	return c, nil
}
