package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// User is a directory entry. Only moderators and admins receive case
// notifications.
type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        string    `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// IsModerator reports whether a role may review cases.
func IsModerator(role string) bool {
	return role == RoleModerator || role == RoleAdmin
}
