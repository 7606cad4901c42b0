package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationCaseOpened    NotificationKind = "case_opened"
	NotificationCaseUpdated   NotificationKind = "case_updated"
	NotificationCaseEscalated NotificationKind = "case_escalated"
)

type NotificationSeverity string

const (
	SeverityNormal   NotificationSeverity = "normal"
	SeverityElevated NotificationSeverity = "elevated"
)

// NotificationPayload describes one case event to fan out to moderators.
type NotificationPayload struct {
	CaseID     uuid.UUID            `json:"case_id"`
	Kind       NotificationKind     `json:"kind"`
	Severity   NotificationSeverity `json:"severity"`
	SourceType SourceType           `json:"source_type"`
	SourceID   uuid.UUID            `json:"source_id"`
	Title      string               `json:"title"`
	Body       string               `json:"body"`
	Snapshot   *SnapshotEvidence    `json:"snapshot,omitempty"`
}

// Notification is one record per (recipient, event).
type Notification struct {
	ID          uuid.UUID            `json:"id" db:"id"`
	RecipientID uuid.UUID            `json:"recipient_id" db:"recipient_id"`
	CaseID      uuid.UUID            `json:"case_id" db:"case_id"`
	Kind        NotificationKind     `json:"kind" db:"kind"`
	Severity    NotificationSeverity `json:"severity" db:"severity"`
	Title       string               `json:"title" db:"title"`
	Body        string               `json:"body" db:"body"`
	Payload     NotificationPayload  `json:"payload" db:"data"`
	ReadAt      *time.Time           `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
}

// NotificationPush is published on Redis for live delivery.
type NotificationPush struct {
	RecipientID  uuid.UUID    `json:"recipient_id"`
	Notification Notification `json:"notification"`
}
