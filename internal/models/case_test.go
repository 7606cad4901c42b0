package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestModerationCase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    CaseState
		to      CaseState
		wantErr bool
	}{
		{CaseOpen, CaseInReview, false},
		{CaseOpen, CaseEscalated, false},
		{CaseOpen, CaseResolved, true},
		{CaseInReview, CaseResolved, false},
		{CaseInReview, CaseEscalated, true},
		{CaseInReview, CaseOpen, true},
		{CaseEscalated, CaseResolved, false},
		{CaseEscalated, CaseOpen, true},
		{CaseEscalated, CaseInReview, true},
		{CaseResolved, CaseOpen, true},
		{CaseResolved, CaseInReview, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			c := &ModerationCase{State: tt.from}
			err := c.CanTransitionTo(tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CanTransitionTo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestCaseState_Active(t *testing.T) {
	for _, s := range []CaseState{CaseOpen, CaseInReview, CaseEscalated} {
		if !s.Active() {
			t.Errorf("Expected %s to be active", s)
		}
	}
	if CaseResolved.Active() {
		t.Error("Expected resolved not to be active")
	}
}

func TestModerationCase_LatestSnapshot(t *testing.T) {
	at := time.Now()
	c := &ModerationCase{Evidence: []EvidenceEntry{
		NewSnapshotEvidence("first", nil, 1, at),
		NewFlagEvidence(uuid.New(), "spam", at),
		NewSnapshotEvidence("second", nil, 2, at),
		NewFlagEvidence(uuid.New(), "spam", at),
	}}

	snap := c.LatestSnapshot()
	if snap == nil || snap.Body != "second" {
		t.Fatalf("Expected latest snapshot, got %+v", snap)
	}

	if (&ModerationCase{}).LatestSnapshot() != nil {
		t.Error("Expected nil snapshot for case without evidence")
	}
}

func TestEscalationCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := EscalationCutoff(now, 15*time.Minute)
	want := time.Date(2024, 5, 1, 11, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("EscalationCutoff() = %v, want %v", got, want)
	}
}
