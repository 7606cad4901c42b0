package moderator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Notifier fans a case event out to moderators, one record per recipient.
// Delivery is best effort and may duplicate on repeated triggers.
type Notifier struct {
	store       NotificationStore
	directory   Directory
	publisher   Publisher
	telemetry   Telemetry
	limit       int
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewNotifier builds a Notifier. publisher and telemetry may be nil.
func NewNotifier(store NotificationStore, directory Directory, publisher Publisher, telemetry Telemetry, directoryLimit, concurrency int, m *metrics.Metrics, logger *zap.Logger) *Notifier {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Notifier{
		store:       store,
		directory:   directory,
		publisher:   publisher,
		telemetry:   telemetry,
		limit:       directoryLimit,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With(zap.String("mod", "notifier")),
		now:         time.Now,
	}
}

// Notify delivers payload to moderatorIDs, or to the directory's moderators
// when none are given. Per-recipient failures are logged and skipped.
func (n *Notifier) Notify(ctx context.Context, moderatorIDs []uuid.UUID, payload models.NotificationPayload) {
	log := n.logger.With(zap.String("case_id", payload.CaseID.String()), zap.String("kind", string(payload.Kind)))

	if len(moderatorIDs) == 0 {
		ids, err := n.directory.ModeratorIDs(ctx, n.limit)
		if err != nil {
			log.Error("moderator lookup failed, skipping notifications", zap.Error(err))
			return
		}
		moderatorIDs = ids
	}
	if len(moderatorIDs) == 0 {
		log.Warn("no moderators configured, skipping notifications")
		return
	}

	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for _, recipient := range moderatorIDs {
		recipient := recipient
		g.Go(func() error {
			n.deliver(ctx, recipient, payload, log)
			return nil
		})
	}
	_ = g.Wait()
}

func (n *Notifier) deliver(ctx context.Context, recipient uuid.UUID, payload models.NotificationPayload, log *zap.Logger) {
	log = log.With(zap.String("recipient", recipient.String()))
	defer func() {
		if r := recover(); r != nil {
			n.metrics.Notifications.WithLabelValues(string(payload.Kind), "error").Inc()
			log.Error("notification delivery panicked", zap.Any("panic", r))
		}
	}()

	start := n.now()
	rec := &models.Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		CaseID:      payload.CaseID,
		Kind:        payload.Kind,
		Severity:    payload.Severity,
		Title:       payload.Title,
		Body:        payload.Body,
		Payload:     payload,
	}
	err := n.store.Create(ctx, rec)
	n.metrics.Notifications.WithLabelValues(string(payload.Kind), metrics.Result(err)).Inc()
	if err != nil {
		log.Warn("failed to write notification", zap.Error(err))
		return
	}

	if n.publisher != nil {
		if err := n.publisher.PublishNotification(ctx, *rec); err != nil {
			log.Debug("live push failed", zap.Error(err))
		}
	}
	if n.telemetry != nil {
		n.telemetry.TrackDelivery(ctx, rec.ID.String(), n.now().Sub(start).Milliseconds())
	}
}

// CasePayload builds the fan-out payload for a case event.
func CasePayload(c *models.ModerationCase, kind models.NotificationKind, severity models.NotificationSeverity) models.NotificationPayload {
	var title string
	switch kind {
	case models.NotificationCaseOpened:
		title = "New moderation case"
	case models.NotificationCaseEscalated:
		title = "Moderation case escalated"
	default:
		title = "Moderation case updated"
	}

	return models.NotificationPayload{
		CaseID:     c.ID,
		Kind:       kind,
		Severity:   severity,
		SourceType: c.SourceType,
		SourceID:   c.SourceID,
		Title:      title,
		Body:       fmt.Sprintf("%s %s is %s with %d evidence entries", c.SourceType, c.SourceID, c.State, len(c.Evidence)),
		Snapshot:   c.LatestSnapshot(),
	}
}
