package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidEvent marks malformed intake events. It is the only error
	// intake returns to its callers.
	ErrInvalidEvent      = errors.New("invalid moderation event")
	ErrUnknownSourceType = fmt.Errorf("%w: unknown source type", ErrInvalidEvent)
)

const maxReasonLength = 500

// Flag is a user report against a piece of content. Immutable once created.
type Flag struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	SourceType      SourceType `json:"source_type" db:"source_type"`
	TargetContentID uuid.UUID  `json:"target_content_id" db:"target_content_id"`
	ReporterID      uuid.UUID  `json:"reporter_id" db:"reporter_id"`
	Reason          string     `json:"reason" db:"reason"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// FlagCreatedEvent is the inbound "flag created" trigger.
type FlagCreatedEvent struct {
	SourceType string    `json:"source_type" binding:"required"`
	SourceID   uuid.UUID `json:"source_id" binding:"required"`
	ReporterID uuid.UUID `json:"reporter_id"`
	Reason     string    `json:"reason" binding:"required"`
}

func (e *FlagCreatedEvent) Validate() error {
	if _, err := ParseSourceType(e.SourceType); err != nil {
		return err
	}
	if e.SourceID == uuid.Nil {
		return fmt.Errorf("%w: source_id is required", ErrInvalidEvent)
	}
	if e.ReporterID == uuid.Nil {
		return fmt.Errorf("%w: reporter_id is required", ErrInvalidEvent)
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidEvent)
	}
	if len(reason) > maxReasonLength {
		return fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidEvent, maxReasonLength)
	}
	return nil
}

// IntakeMessage is one queued intake envelope (a JSON WSMessage) and the
// stream entry ID used to acknowledge it.
type IntakeMessage struct {
	ID   string
	Data string
}

// AutoSignalEvent is raised by automated detectors (e.g. policy-sensitive media).
type AutoSignalEvent struct {
	SourceType string           `json:"source_type" binding:"required"`
	SourceID   uuid.UUID        `json:"source_id" binding:"required"`
	Evidence   AutoFlagEvidence `json:"evidence_meta"`
}

func (e *AutoSignalEvent) Validate() error {
	if _, err := ParseSourceType(e.SourceType); err != nil {
		return err
	}
	if e.SourceID == uuid.Nil {
		return fmt.Errorf("%w: source_id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Evidence.Label) == "" {
		return fmt.Errorf("%w: evidence_meta.label is required", ErrInvalidEvent)
	}
	return nil
}
