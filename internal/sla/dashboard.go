package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/tullo/moderation/internal/models"
)

const needsEscalationLimit = 100

// CaseReader is implemented by repository.CaseRepository.
type CaseReader interface {
	CountByState(ctx context.Context) (map[models.CaseState]int, error)
	ListStaleOpen(ctx context.Context, cutoff time.Time, limit int) ([]*models.ModerationCase, error)
}

// Dashboard computes the real-time SLA view.
type Dashboard struct {
	cases            CaseReader
	samples          Store
	th               Thresholds
	escalationWindow time.Duration
	now              func() time.Time
}

func NewDashboard(cases CaseReader, samples Store, th Thresholds, escalationWindow time.Duration) *Dashboard {
	return &Dashboard{
		cases:            cases,
		samples:          samples,
		th:               th,
		escalationWindow: escalationWindow,
		now:              time.Now,
	}
}

// GetDashboardMetrics returns case counts, the cases the next escalation
// sweep would pick up, and rolling 24h delivery and response figures.
func (d *Dashboard) GetDashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error) {
	now := d.now().UTC()

	counts, err := d.cases.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}

	stale, err := d.cases.ListStaleOpen(ctx, models.EscalationCutoff(now, d.escalationWindow), needsEscalationLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale cases: %w", err)
	}
	needs := make([]models.CaseSummary, 0, len(stale))
	for _, c := range stale {
		needs = append(needs, c.Summary())
	}

	from := now.Add(-24 * time.Hour)
	delivery, err := d.samples.ListSamples(ctx, models.MetricDeliveryLatency, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery samples: %w", err)
	}
	responses, err := d.samples.ListSamples(ctx, models.MetricResponseTime, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load response samples: %w", err)
	}

	stats := DeliveryStatsOf(delivery)
	timing := CaseTimingStatsOf(responses, nil, d.th.ReportEscalationMinutes)

	return &models.DashboardMetrics{
		OpenCases:              counts[models.CaseOpen],
		InReviewCases:          counts[models.CaseInReview],
		EscalatedCases:         counts[models.CaseEscalated],
		NeedsEscalation:        needs,
		DeliverySuccessRate24h: stats.CompliancePercent,
		AvgResponseMinutes24h:  timing.MeanResponseMinutes,
		SLAStatus:              Status(stats.CompliancePercent, d.th.HealthySuccessRate),
		GeneratedAt:            now,
	}, nil
}

// Status is healthy when rate reaches the healthy threshold (inclusive).
func Status(rate, healthy float64) string {
	if rate >= healthy {
		return models.SLAStatusHealthy
	}
	return models.SLAStatusDegraded
}
