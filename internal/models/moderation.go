package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCaseEscalated = "case_escalated"
	ActionCaseClaimed   = "case_claimed"
	ActionCaseResolved  = "case_resolved"
)

// ModerationLog records state changes applied to a case by moderators or
// the escalation sweep. Cases are never deleted; this is their audit trail.
type ModerationLog struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	CaseID      uuid.UUID      `json:"case_id" db:"case_id"`
	Action      string         `json:"action" db:"action"`
	ModeratorID *uuid.UUID     `json:"moderator_id,omitempty" db:"moderator_id"`
	FromState   CaseState      `json:"from_state" db:"from_state"`
	ToState     CaseState      `json:"to_state" db:"to_state"`
	Reason      *string        `json:"reason,omitempty" db:"reason"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}
