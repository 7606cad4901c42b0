package moderator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
)

// CaseStore is implemented by repository.CaseRepository.
type CaseStore interface {
	FindActive(ctx context.Context, sourceType models.SourceType, sourceID uuid.UUID) (*models.ModerationCase, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ModerationCase, error)
	Create(ctx context.Context, c *models.ModerationCase) error
	UpdateEvidence(ctx context.Context, c *models.ModerationCase, evidence []models.EvidenceEntry) error
	ListStaleOpen(ctx context.Context, cutoff time.Time, limit int) ([]*models.ModerationCase, error)
	Transition(ctx context.Context, id uuid.UUID, from, to models.CaseState, p repository.TransitionParams) (*models.ModerationCase, error)
}

// ContentStore is implemented by repository.ContentRepository.
type ContentStore interface {
	IncrementFlagCount(ctx context.Context, sourceType models.SourceType, id uuid.UUID) (*models.FlagCountUpdate, error)
	MarkPendingReview(ctx context.Context, id uuid.UUID) (bool, error)
	LockContainer(ctx context.Context, containerID uuid.UUID) (bool, error)
}

type FlagStore interface {
	Create(ctx context.Context, flag *models.Flag) error
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Directory resolves the moderator set.
type Directory interface {
	ModeratorIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Publisher pushes stored notifications to live subscribers.
type Publisher interface {
	PublishNotification(ctx context.Context, n models.Notification) error
}

// Telemetry records SLA samples. Implementations never fail the caller.
type Telemetry interface {
	TrackDelivery(ctx context.Context, subjectID string, latencyMs int64)
	TrackCase(ctx context.Context, caseID string, createdAt time.Time, firstResponseAt, resolvedAt *time.Time)
}

type AuditLog interface {
	AddLog(ctx context.Context, log *models.ModerationLog) error
}
