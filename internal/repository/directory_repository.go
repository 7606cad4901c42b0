package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/database"
	"github.com/tullo/moderation/internal/models"
)

// DirectoryRepository lists the identities that review cases.
type DirectoryRepository struct {
	db *database.DB
}

func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ListModerators returns one page of moderator and admin users.
func (r *DirectoryRepository) ListModerators(ctx context.Context, limit, offset int) ([]models.User, error) {
	query := `
		SELECT id, email, display_name, role, created_at, updated_at
		FROM users
		WHERE role IN ($1, $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.QueryContext(ctx, query, models.RoleModerator, models.RoleAdmin, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query moderators: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan moderator: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ModeratorIDs is ListModerators reduced to ids.
func (r *DirectoryRepository) ModeratorIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	users, err := r.ListModerators(ctx, limit, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
