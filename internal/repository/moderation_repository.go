package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/database"
	"github.com/tullo/moderation/internal/models"
)

// ModerationRepository keeps the audit trail of case state changes.
type ModerationRepository struct {
	db *database.DB
}

func NewModerationRepository(db *database.DB) *ModerationRepository {
	return &ModerationRepository{db: db}
}

// AddLog records a moderation action
func (r *ModerationRepository) AddLog(ctx context.Context, log *models.ModerationLog) error {
	meta := sql.NullString{}
	if log.Metadata != nil {
		if b, err := json.Marshal(log.Metadata); err == nil {
			meta = sql.NullString{String: string(b), Valid: true}
		}
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	query := `INSERT INTO moderation_logs (id, case_id, action, moderator_id, from_state, to_state, reason, metadata, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query, log.ID, log.CaseID, log.Action, log.ModeratorID, log.FromState, log.ToState, log.Reason, meta).Scan(&log.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert moderation log: %w", err)
	}
	return nil
}

func (r *ModerationRepository) GetLogsByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]models.ModerationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, case_id, action, moderator_id, from_state, to_state, reason, metadata, created_at FROM moderation_logs WHERE case_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query moderation logs: %w", err)
	}
	defer rows.Close()

	res := []models.ModerationLog{}
	for rows.Next() {
		var m models.ModerationLog
		var meta sql.NullString
		if err := rows.Scan(&m.ID, &m.CaseID, &m.Action, &m.ModeratorID, &m.FromState, &m.ToState, &m.Reason, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan moderation log: %w", err)
		}
		if meta.Valid {
			var mm map[string]any
			_ = json.Unmarshal([]byte(meta.String), &mm)
			m.Metadata = mm
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
