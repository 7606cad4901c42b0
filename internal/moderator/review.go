package moderator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
	"go.uber.org/zap"
)

// Reviewer applies human moderator actions to cases.
type Reviewer struct {
	cases     CaseStore
	audit     AuditLog
	telemetry Telemetry
	logger    *zap.Logger
	now       func() time.Time
}

func NewReviewer(cases CaseStore, audit AuditLog, telemetry Telemetry, logger *zap.Logger) *Reviewer {
	return &Reviewer{
		cases:     cases,
		audit:     audit,
		telemetry: telemetry,
		logger:    logger.With(zap.String("mod", "review")),
		now:       time.Now,
	}
}

// Claim moves an open case into review and assigns it to moderatorID.
func (r *Reviewer) Claim(ctx context.Context, caseID, moderatorID uuid.UUID) (*models.ModerationCase, error) {
	now := r.now().UTC()
	return r.transition(ctx, caseID, moderatorID, models.CaseInReview, models.ActionCaseClaimed, "", func(c *models.ModerationCase) repository.TransitionParams {
		return repository.TransitionParams{ModeratorID: &moderatorID, FirstResponseAt: &now}
	})
}

// Resolve closes an in_review or escalated case. Resolution also counts as
// the first response when none was recorded.
func (r *Reviewer) Resolve(ctx context.Context, caseID, moderatorID uuid.UUID, reason string) (*models.ModerationCase, error) {
	now := r.now().UTC()
	return r.transition(ctx, caseID, moderatorID, models.CaseResolved, models.ActionCaseResolved, reason, func(c *models.ModerationCase) repository.TransitionParams {
		p := repository.TransitionParams{FirstResponseAt: &now, ResolvedAt: &now}
		if c.AssignedModeratorID == nil {
			p.ModeratorID = &moderatorID
		}
		return p
	})
}

func (r *Reviewer) transition(ctx context.Context, caseID, moderatorID uuid.UUID, to models.CaseState, action, reason string, params func(*models.ModerationCase) repository.TransitionParams) (*models.ModerationCase, error) {
	c, err := r.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := c.CanTransitionTo(to); err != nil {
		return nil, err
	}

	updated, err := r.cases.Transition(ctx, caseID, c.State, to, params(c))
	if errors.Is(err, repository.ErrStaleCase) {
		return nil, fmt.Errorf("%w: case is no longer %s", models.ErrInvalidTransition, c.State)
	}
	if err != nil {
		return nil, err
	}

	log := r.logger.With(zap.String("case_id", caseID.String()), zap.String("moderator_id", moderatorID.String()))
	log.Info("case transitioned", zap.String("from", string(c.State)), zap.String("to", string(to)))

	entry := &models.ModerationLog{
		CaseID:      caseID,
		Action:      action,
		ModeratorID: &moderatorID,
		FromState:   c.State,
		ToState:     to,
	}
	if reason != "" {
		entry.Reason = &reason
	}
	if err := r.audit.AddLog(ctx, entry); err != nil {
		log.Warn("failed to write audit log", zap.Error(err))
	}

	if r.telemetry != nil {
		r.telemetry.TrackCase(ctx, updated.ID.String(), updated.CreatedAt, updated.FirstResponseAt, updated.ResolvedAt)
	}
	return updated, nil
}
