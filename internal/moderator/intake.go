package moderator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
	"go.uber.org/zap"
)

// Intake turns flag and auto-signal events into content state changes and
// cases. Only validation errors are returned; every later step fails open.
type Intake struct {
	content   ContentStore
	flags     FlagStore
	registry  *Registry
	notifier  *Notifier
	telemetry Telemetry
	threshold int
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewIntake(content ContentStore, flags FlagStore, registry *Registry, notifier *Notifier, telemetry Telemetry, flagThreshold int, m *metrics.Metrics, logger *zap.Logger) *Intake {
	return &Intake{
		content:   content,
		flags:     flags,
		registry:  registry,
		notifier:  notifier,
		telemetry: telemetry,
		threshold: flagThreshold,
		metrics:   m,
		logger:    logger.With(zap.String("mod", "intake")),
		now:       time.Now,
	}
}

// SubmitFlag validates a "flag created" event, stores the flag and runs the
// threshold evaluation.
func (in *Intake) SubmitFlag(ctx context.Context, ev models.FlagCreatedEvent) (*models.Flag, error) {
	if err := ev.Validate(); err != nil {
		in.metrics.FlagsTotal.WithLabelValues("flag", "invalid").Inc()
		return nil, err
	}
	sourceType, _ := models.ParseSourceType(ev.SourceType)

	flag := &models.Flag{
		ID:              uuid.New(),
		SourceType:      sourceType,
		TargetContentID: ev.SourceID,
		ReporterID:      ev.ReporterID,
		Reason:          strings.TrimSpace(ev.Reason),
		CreatedAt:       in.now().UTC(),
	}
	if err := in.flags.Create(ctx, flag); err != nil {
		in.logger.Warn("failed to persist flag", zap.String("flag_id", flag.ID.String()), zap.Error(err))
	}

	in.OnFlagCreated(ctx, flag)
	return flag, nil
}

// OnFlagCreated applies one flag: bump the counter, update visibility and the
// container lock, then record evidence on the case and notify moderators.
func (in *Intake) OnFlagCreated(ctx context.Context, flag *models.Flag) {
	log := in.logger.With(
		zap.String("flag_id", flag.ID.String()),
		zap.String("source_type", string(flag.SourceType)),
		zap.String("source_id", flag.TargetContentID.String()),
	)
	now := in.now().UTC()

	update, err := in.content.IncrementFlagCount(ctx, flag.SourceType, flag.TargetContentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		in.metrics.FlagsTotal.WithLabelValues("flag", "unknown_content").Inc()
		log.Warn("flag targets unknown content")
		return
	case err != nil:
		log.Error("failed to update flag counter", zap.Error(err))
	default:
		in.applyThreshold(ctx, update, log)
	}

	evidence := []models.EvidenceEntry{models.NewFlagEvidence(flag.ReporterID, flag.Reason, now)}
	if update != nil {
		evidence = append(evidence, models.NewSnapshotEvidence(update.Body, update.Attachments, update.FlagCount, now))
	}

	c, created := in.registry.EnsureCase(ctx, flag.SourceType, flag.TargetContentID, evidence, models.CaseOpen)
	if c == nil {
		in.metrics.FlagsTotal.WithLabelValues("flag", "case_skipped").Inc()
		return
	}
	in.metrics.FlagsTotal.WithLabelValues("flag", "ok").Inc()
	in.afterCase(ctx, c, created)
}

// applyThreshold moves content to pending_review on the first flag, or when
// it crosses the threshold while visible again, and locks the parent
// container exactly when the counter reaches the threshold.
func (in *Intake) applyThreshold(ctx context.Context, u *models.FlagCountUpdate, log *zap.Logger) {
	log = log.With(zap.Int("flag_count", u.FlagCount))

	if u.FlagCount == 1 || (u.FlagCount >= in.threshold && u.PriorStatus == models.ContentVisible) {
		changed, err := in.content.MarkPendingReview(ctx, u.ContentID)
		if err != nil {
			log.Error("failed to mark content pending review", zap.Error(err))
		} else if changed {
			log.Info("content pending review")
		}
	}

	if u.FlagCount == in.threshold && u.ParentID != nil {
		locked, err := in.content.LockContainer(ctx, *u.ParentID)
		if err != nil {
			log.Error("failed to lock container", zap.String("container_id", u.ParentID.String()), zap.Error(err))
		} else if locked {
			log.Info("container locked", zap.String("container_id", u.ParentID.String()))
		}
	}
}

// OnAutoSignal opens (or extends) a case straight into in_review for an
// automated detection, bypassing the flag counter.
func (in *Intake) OnAutoSignal(ctx context.Context, ev models.AutoSignalEvent) error {
	if err := ev.Validate(); err != nil {
		in.metrics.FlagsTotal.WithLabelValues("signal", "invalid").Inc()
		return err
	}
	sourceType, _ := models.ParseSourceType(ev.SourceType)

	evidence := []models.EvidenceEntry{models.NewAutoFlagEvidence(ev.Evidence, in.now().UTC())}
	c, created := in.registry.EnsureCase(ctx, sourceType, ev.SourceID, evidence, models.CaseInReview)
	if c == nil {
		in.metrics.FlagsTotal.WithLabelValues("signal", "case_skipped").Inc()
		return nil
	}
	in.metrics.FlagsTotal.WithLabelValues("signal", "ok").Inc()
	in.afterCase(ctx, c, created)
	return nil
}

func (in *Intake) afterCase(ctx context.Context, c *models.ModerationCase, created bool) {
	kind := models.NotificationCaseUpdated
	if created {
		kind = models.NotificationCaseOpened
	}
	in.notifier.Notify(ctx, nil, CasePayload(c, kind, models.SeverityNormal))

	if created && in.telemetry != nil {
		in.telemetry.TrackCase(ctx, c.ID.String(), c.CreatedAt, c.FirstResponseAt, c.ResolvedAt)
	}
}
