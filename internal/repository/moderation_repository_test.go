package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/moderation/internal/models"
)

func TestModerationRepository_AddLog(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewModerationRepository(db)
	now := time.Now()
	reason := "open longer than 15m0s"

	entry := &models.ModerationLog{
		CaseID:    uuid.New(),
		Action:    models.ActionCaseEscalated,
		FromState: models.CaseOpen,
		ToState:   models.CaseEscalated,
		Reason:    &reason,
	}
	mock.ExpectQuery(`INSERT INTO moderation_logs`).
		WithArgs(sqlmock.AnyArg(), entry.CaseID, entry.Action, sqlmock.AnyArg(), entry.FromState, entry.ToState, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	require.NoError(t, repo.AddLog(context.Background(), entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, now, entry.CreatedAt)
}

func TestModerationRepository_GetLogsByCase(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewModerationRepository(db)
	caseID, moderatorID := uuid.New(), uuid.New()

	rows := sqlmock.NewRows([]string{"id", "case_id", "action", "moderator_id", "from_state", "to_state", "reason", "metadata", "created_at"}).
		AddRow(uuid.NewString(), caseID.String(), models.ActionCaseClaimed, moderatorID.String(), "open", "in_review", nil, nil, time.Now()).
		AddRow(uuid.NewString(), caseID.String(), models.ActionCaseEscalated, nil, "open", "escalated", "stale", `{"sweep":true}`, time.Now())
	mock.ExpectQuery(`FROM moderation_logs WHERE case_id = \$1`).
		WithArgs(caseID, 50).
		WillReturnRows(rows)

	logs, err := repo.GetLogsByCase(context.Background(), caseID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.NotNil(t, logs[0].ModeratorID)
	assert.Equal(t, moderatorID, *logs[0].ModeratorID)
	assert.Equal(t, models.CaseInReview, logs[0].ToState)
	assert.Nil(t, logs[1].ModeratorID)
	require.NotNil(t, logs[1].Reason)
	assert.Equal(t, "stale", *logs[1].Reason)
	assert.Equal(t, true, logs[1].Metadata["sweep"])
}
