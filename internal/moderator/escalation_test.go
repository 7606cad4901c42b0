package moderator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/moderation/internal/models"
)

func seedCase(t *testing.T, e *engine, state models.CaseState, age time.Duration) *models.ModerationCase {
	t.Helper()
	ev := []models.EvidenceEntry{
		models.NewFlagEvidence(uuid.New(), "spam", time.Now()),
		models.NewSnapshotEvidence("offending text", nil, 1, time.Now()),
	}
	c, created := e.registry.EnsureCase(context.Background(), models.SourceMessage, uuid.New(), ev, state)
	require.NotNil(t, c)
	require.True(t, created)
	e.cases.setCreatedAt(c.ID, time.Now().Add(-age))
	return c
}

func TestSweep_EscalatesStaleOpenOnce(t *testing.T) {
	e := newEngine(3)
	ctx := context.Background()
	stale := seedCase(t, e, models.CaseOpen, 20*time.Minute)

	n, err := e.escalator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.cases.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseEscalated, got.State)

	escalations := e.notifications.byKind(models.NotificationCaseEscalated)
	require.Len(t, escalations, 3)
	assert.Equal(t, models.SeverityElevated, escalations[0].Severity)
	require.NotNil(t, escalations[0].Payload.Snapshot)
	assert.Equal(t, "offending text", escalations[0].Payload.Snapshot.Body)
	require.Len(t, e.audit.logs, 1)
	assert.Equal(t, models.ActionCaseEscalated, e.audit.logs[0].Action)

	// second run is a no-op
	n, err = e.escalator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, e.notifications.byKind(models.NotificationCaseEscalated), 3)
}

func TestSweep_IgnoresInReviewAndFreshCases(t *testing.T) {
	e := newEngine(1)
	ctx := context.Background()
	inReview := seedCase(t, e, models.CaseInReview, 2*time.Hour)
	fresh := seedCase(t, e, models.CaseOpen, 5*time.Minute)

	n, err := e.escalator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, _ := e.cases.GetByID(ctx, inReview.ID)
	assert.Equal(t, models.CaseInReview, got.State)
	got, _ = e.cases.GetByID(ctx, fresh.ID)
	assert.Equal(t, models.CaseOpen, got.State)
}

func TestSweep_BoundedBatch(t *testing.T) {
	e := newEngine(1)
	e.escalator.batchSize = 2
	for i := 0; i < 5; i++ {
		seedCase(t, e, models.CaseOpen, time.Hour+time.Duration(i)*time.Minute)
	}

	n, err := e.escalator.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.escalator.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSweep_StopsOnCancelledContext(t *testing.T) {
	e := newEngine(1)
	seedCase(t, e, models.CaseOpen, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := e.escalator.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}
