package moderator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
	"go.uber.org/zap"
)

const maxEnsureAttempts = 10

// Registry is the get-or-create store front for moderation cases. At most one
// active case exists per source; the database unique index is the arbiter
// and conflicts are resolved by looking the winner up again.
type Registry struct {
	cases   CaseStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRegistry(cases CaseStore, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		cases:   cases,
		metrics: m,
		logger:  logger.With(zap.String("mod", "case_registry")),
	}
}

// EnsureCase returns the active case for the source, merging evidence into
// it, or creates one in initialState. created reports which path was taken.
// A nil case means the case step failed; the failure has been logged.
func (r *Registry) EnsureCase(ctx context.Context, sourceType models.SourceType, sourceID uuid.UUID, evidence []models.EvidenceEntry, initialState models.CaseState) (c *models.ModerationCase, created bool) {
	log := r.logger.With(
		zap.String("source_type", string(sourceType)),
		zap.String("source_id", sourceID.String()),
	)

	for attempt := 1; attempt <= maxEnsureAttempts; attempt++ {
		existing, err := r.cases.FindActive(ctx, sourceType, sourceID)
		switch {
		case err == nil:
			merged, err := r.merge(ctx, existing, evidence)
			if errors.Is(err, repository.ErrStaleCase) {
				r.metrics.CaseConflicts.Inc()
				log.Debug("evidence merge lost a race, retrying", zap.Int("attempt", attempt))
				conflictBackoff(ctx, attempt)
				continue
			}
			if err != nil {
				log.Error("failed to merge case evidence", zap.String("case_id", existing.ID.String()), zap.Error(err))
				return nil, false
			}
			return merged, false

		case !errors.Is(err, repository.ErrNotFound):
			log.Error("case lookup failed", zap.Error(err))
			return nil, false
		}

		fresh := &models.ModerationCase{
			ID:         uuid.New(),
			SourceType: sourceType,
			SourceID:   sourceID,
			State:      initialState,
			Evidence:   models.DedupEvidence(evidence),
		}
		err = r.cases.Create(ctx, fresh)
		if errors.Is(err, repository.ErrActiveCaseExists) {
			r.metrics.CaseConflicts.Inc()
			log.Debug("concurrent case create, merging into winner", zap.Int("attempt", attempt))
			conflictBackoff(ctx, attempt)
			continue
		}
		if err != nil {
			log.Error("failed to create case", zap.Error(err))
			return nil, false
		}

		r.metrics.CasesCreated.WithLabelValues(string(sourceType), string(initialState)).Inc()
		log.Info("case created", zap.String("case_id", fresh.ID.String()), zap.String("state", string(initialState)))
		return fresh, true
	}

	log.Error("gave up resolving case after repeated conflicts")
	return nil, false
}

// merge appends unseen evidence. Nothing is written when every entry is a
// duplicate. The case state is never changed here.
func (r *Registry) merge(ctx context.Context, c *models.ModerationCase, incoming []models.EvidenceEntry) (*models.ModerationCase, error) {
	merged, added := models.MergeEvidence(c.Evidence, incoming)
	if added == 0 {
		return c, nil
	}
	if err := r.cases.UpdateEvidence(ctx, c, merged); err != nil {
		return nil, err
	}
	r.metrics.EvidenceAppended.Add(float64(added))
	return c, nil
}

// conflictBackoff sleeps a short random interval that grows with attempt.
func conflictBackoff(ctx context.Context, attempt int) {
	d := time.Duration(rand.Intn(attempt*2)+1) * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
