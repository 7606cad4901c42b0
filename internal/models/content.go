package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies the kind of content a flag or case refers to.
type SourceType string

const (
	SourcePost    SourceType = "post"
	SourceComment SourceType = "comment"
	SourceMessage SourceType = "message"
)

// Valid reports whether s is one of the known source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourcePost, SourceComment, SourceMessage:
		return true
	}
	return false
}

// ParseSourceType validates a raw source type.
func ParseSourceType(raw string) (SourceType, error) {
	st := SourceType(raw)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, raw)
	}
	return st, nil
}

type ContentStatus string

const (
	ContentVisible       ContentStatus = "visible"
	ContentPendingReview ContentStatus = "pending_review"
	ContentHidden        ContentStatus = "hidden"
)

// Content is the moderation view of a post, comment or message.
type Content struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	SourceType  SourceType    `json:"source_type" db:"source_type"`
	ParentID    *uuid.UUID    `json:"parent_id,omitempty" db:"parent_id"`
	Body        string        `json:"body" db:"body"`
	Attachments []string      `json:"attachments,omitempty" db:"attachments"`
	FlagCount   int           `json:"flag_count" db:"flag_count"`
	Status      ContentStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// FlagCountUpdate is the outcome of one atomic flag counter increment.
// PriorStatus is the status observed before the increment was applied.
type FlagCountUpdate struct {
	ContentID   uuid.UUID
	ParentID    *uuid.UUID
	Body        string
	Attachments []string
	FlagCount   int
	PriorStatus ContentStatus
}
