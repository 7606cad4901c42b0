package moderator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

type failingPublisher struct{}

func (failingPublisher) PublishNotification(context.Context, models.Notification) error {
	return errors.New("redis down")
}

func testPayload() models.NotificationPayload {
	c := &models.ModerationCase{ID: uuid.New(), SourceType: models.SourcePost, SourceID: uuid.New(), State: models.CaseOpen}
	return CasePayload(c, models.NotificationCaseOpened, models.SeverityNormal)
}

func TestNotifier_OneRecipientFailureIsIsolated(t *testing.T) {
	store := &memNotifications{failFor: map[uuid.UUID]bool{}}
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	store.failFor[ids[1]] = true
	tel := &recordingTelemetry{}

	n := NewNotifier(store, staticDirectory{}, failingPublisher{}, tel, 100, 2, metrics.New(nil), zap.NewNop())
	n.Notify(context.Background(), ids, testPayload())

	assert.Len(t, store.records, 3)
	assert.Len(t, tel.deliveries, 3)
	for _, r := range store.records {
		assert.NotEqual(t, ids[1], r.RecipientID)
	}
}

func TestNotifier_ResolvesDirectory(t *testing.T) {
	tests := []struct {
		name string
		dir  staticDirectory
		want int
	}{
		{"moderators found", staticDirectory{ids: []uuid.UUID{uuid.New(), uuid.New()}}, 2},
		{"no moderators", staticDirectory{}, 0},
		{"directory down", staticDirectory{err: errors.New("timeout")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memNotifications{}
			n := NewNotifier(store, tt.dir, nil, nil, 100, 4, metrics.New(nil), zap.NewNop())
			n.Notify(context.Background(), nil, testPayload())
			assert.Len(t, store.records, tt.want)
		})
	}
}

func TestNotifier_DirectoryLimit(t *testing.T) {
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
	}
	store := &memNotifications{}
	n := NewNotifier(store, staticDirectory{ids: ids}, nil, nil, 3, 4, metrics.New(nil), zap.NewNop())
	n.Notify(context.Background(), nil, testPayload())
	assert.Len(t, store.records, 3)
}

func TestCasePayload_UsesLatestSnapshot(t *testing.T) {
	now := time.Now()
	c := &models.ModerationCase{
		ID:         uuid.New(),
		SourceType: models.SourceMessage,
		SourceID:   uuid.New(),
		State:      models.CaseEscalated,
		Evidence: []models.EvidenceEntry{
			models.NewSnapshotEvidence("v1", nil, 1, now),
			models.NewFlagEvidence(uuid.New(), "spam", now),
			models.NewSnapshotEvidence("v2", nil, 2, now),
		},
	}
	p := CasePayload(c, models.NotificationCaseEscalated, models.SeverityElevated)
	assert.Equal(t, "Moderation case escalated", p.Title)
	assert.Equal(t, models.SeverityElevated, p.Severity)
	if assert.NotNil(t, p.Snapshot) {
		assert.Equal(t, "v2", p.Snapshot.Body)
	}
}
