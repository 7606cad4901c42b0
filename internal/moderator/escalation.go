package moderator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
	"go.uber.org/zap"
)

// Escalator promotes open cases older than the escalation window. Only open
// cases are considered, so a case is escalated and re-notified at most once.
type Escalator struct {
	cases     CaseStore
	notifier  *Notifier
	audit     AuditLog
	window    time.Duration
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewEscalator(cases CaseStore, notifier *Notifier, audit AuditLog, window time.Duration, batchSize int, m *metrics.Metrics, logger *zap.Logger) *Escalator {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Escalator{
		cases:     cases,
		notifier:  notifier,
		audit:     audit,
		window:    window,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.With(zap.String("mod", "escalation")),
		now:       time.Now,
	}
}

// Sweep escalates one batch of stale open cases and returns how many moved.
func (e *Escalator) Sweep(ctx context.Context) (int, error) {
	cutoff := models.EscalationCutoff(e.now(), e.window)
	stale, err := e.cases.ListStaleOpen(ctx, cutoff, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale cases: %w", err)
	}

	escalated := 0
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		log := e.logger.With(zap.String("case_id", c.ID.String()))

		updated, err := e.cases.Transition(ctx, c.ID, models.CaseOpen, models.CaseEscalated, repository.TransitionParams{})
		if errors.Is(err, repository.ErrStaleCase) {
			log.Debug("case left open state before escalation")
			continue
		}
		if err != nil {
			log.Error("failed to escalate case", zap.Error(err))
			continue
		}
		escalated++
		e.metrics.Escalations.Inc()
		log.Info("case escalated", zap.Time("created_at", c.CreatedAt))

		if e.audit != nil {
			reason := fmt.Sprintf("open longer than %s", e.window)
			if err := e.audit.AddLog(ctx, &models.ModerationLog{
				CaseID:    c.ID,
				Action:    models.ActionCaseEscalated,
				FromState: models.CaseOpen,
				ToState:   models.CaseEscalated,
				Reason:    &reason,
			}); err != nil {
				log.Warn("failed to write audit log", zap.Error(err))
			}
		}

		e.notifier.Notify(ctx, nil, CasePayload(updated, models.NotificationCaseEscalated, models.SeverityElevated))
	}

	return escalated, nil
}
