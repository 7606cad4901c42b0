package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tullo/moderation/internal/database"
	"github.com/tullo/moderation/internal/models"
)

// TelemetryRepository stores SLA samples, breach audit records and daily reports.
type TelemetryRepository struct {
	db *database.DB
}

func NewTelemetryRepository(db *database.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// InsertSample appends one sample.
func (r *TelemetryRepository) InsertSample(ctx context.Context, s *models.SlaSample) error {
	query := `
		INSERT INTO sla_samples (id, subject_id, metric_kind, value, within_threshold, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.SubjectID, s.MetricKind, s.Value, s.WithinThreshold, s.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sla sample: %w", err)
	}
	return nil
}

// ListSamples returns samples of one kind captured in [from, to), oldest first.
func (r *TelemetryRepository) ListSamples(ctx context.Context, kind models.MetricKind, from, to time.Time) ([]models.SlaSample, error) {
	query := `
		SELECT id, subject_id, metric_kind, value, within_threshold, captured_at
		FROM sla_samples
		WHERE metric_kind = $1 AND captured_at >= $2 AND captured_at < $3
		ORDER BY captured_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sla samples: %w", err)
	}
	defer rows.Close()

	res := []models.SlaSample{}
	for rows.Next() {
		var s models.SlaSample
		if err := rows.Scan(&s.ID, &s.SubjectID, &s.MetricKind, &s.Value, &s.WithinThreshold, &s.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sla sample: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertBreach writes the audit copy of a breach alert.
func (r *TelemetryRepository) InsertBreach(ctx context.Context, a *models.BreachAlert) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("failed to encode breach details: %w", err)
	}
	query := `INSERT INTO sla_breaches (id, type, severity, details, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, a.ID, a.Type, a.Severity, details, a.Timestamp); err != nil {
		return fmt.Errorf("failed to insert sla breach: %w", err)
	}
	return nil
}

// SaveDailyReport stores a report, replacing any earlier one for that date.
func (r *TelemetryRepository) SaveDailyReport(ctx context.Context, report *models.DailyReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode daily report: %w", err)
	}
	query := `
		INSERT INTO sla_daily_reports (report_date, report, generated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (report_date) DO UPDATE SET report = EXCLUDED.report, generated_at = EXCLUDED.generated_at
	`
	if _, err := r.db.ExecContext(ctx, query, report.Date, raw, report.GeneratedAt); err != nil {
		return fmt.Errorf("failed to save daily report: %w", err)
	}
	return nil
}

// GetDailyReport loads a stored report by date (YYYY-MM-DD).
func (r *TelemetryRepository) GetDailyReport(ctx context.Context, date string) (*models.DailyReport, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT report FROM sla_daily_reports WHERE report_date = $1`, date).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily report: %w", err)
	}
	report := &models.DailyReport{}
	if err := json.Unmarshal(raw, report); err != nil {
		return nil, fmt.Errorf("failed to decode daily report: %w", err)
	}
	return report, nil
}
