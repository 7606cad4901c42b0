package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CaseState string

const (
	CaseOpen      CaseState = "open"
	CaseInReview  CaseState = "in_review"
	CaseResolved  CaseState = "resolved"
	CaseEscalated CaseState = "escalated"
)

var ErrInvalidTransition = errors.New("invalid case state transition")

func (s CaseState) Valid() bool {
	switch s {
	case CaseOpen, CaseInReview, CaseResolved, CaseEscalated:
		return true
	}
	return false
}

// Active cases are unique per (source type, source id).
func (s CaseState) Active() bool {
	return s != CaseResolved
}

// transitions lists every allowed edge of the case state machine.
// open -> escalated is only taken by the escalation sweep.
var transitions = map[CaseState][]CaseState{
	CaseOpen:      {CaseInReview, CaseEscalated},
	CaseInReview:  {CaseResolved},
	CaseEscalated: {CaseResolved},
}

// ModerationCase tracks the investigation of one piece of flagged content.
type ModerationCase struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	SourceType          SourceType      `json:"source_type" db:"source_type"`
	SourceID            uuid.UUID       `json:"source_id" db:"source_id"`
	State               CaseState       `json:"state" db:"state"`
	Evidence            []EvidenceEntry `json:"evidence" db:"evidence"`
	AssignedModeratorID *uuid.UUID      `json:"assigned_moderator_id,omitempty" db:"assigned_moderator_id"`
	FirstResponseAt     *time.Time      `json:"first_response_at,omitempty" db:"first_response_at"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	Version             int             `json:"version" db:"version"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// CanTransitionTo checks the state machine rules.
func (c *ModerationCase) CanTransitionTo(next CaseState) error {
	for _, allowed := range transitions[c.State] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, next)
}

// LatestSnapshot returns the most recent message_snapshot evidence, if any.
func (c *ModerationCase) LatestSnapshot() *SnapshotEvidence {
	for i := len(c.Evidence) - 1; i >= 0; i-- {
		if c.Evidence[i].Type == EvidenceMessageSnapshot && c.Evidence[i].Snapshot != nil {
			s := *c.Evidence[i].Snapshot
			return &s
		}
	}
	return nil
}

// EscalationCutoff is the creation time before which an open case is stale.
// The escalation sweep and the dashboard both derive staleness from it.
func EscalationCutoff(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}

// CaseSummary is the compact form used in listings and dashboards.
type CaseSummary struct {
	ID         uuid.UUID  `json:"id"`
	SourceType SourceType `json:"source_type"`
	SourceID   uuid.UUID  `json:"source_id"`
	State      CaseState  `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (c *ModerationCase) Summary() CaseSummary {
	return CaseSummary{
		ID:         c.ID,
		SourceType: c.SourceType,
		SourceID:   c.SourceID,
		State:      c.State,
		CreatedAt:  c.CreatedAt,
	}
}
