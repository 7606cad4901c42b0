package sla

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Reporter builds daily compliance reports from stored samples.
type Reporter struct {
	store   Store
	tracker *Tracker
	th      Thresholds
	logger  *zap.Logger
	now     func() time.Time
}

func NewReporter(store Store, tracker *Tracker, th Thresholds, logger *zap.Logger) *Reporter {
	return &Reporter{
		store:   store,
		tracker: tracker,
		th:      th,
		logger:  logger.With(zap.String("mod", "sla_report")),
		now:     time.Now,
	}
}

// DayWindow returns the UTC [start, end) window of the day containing t.
func DayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// GenerateDailyReport computes delivery and case timing statistics for the
// UTC day containing date.
func (r *Reporter) GenerateDailyReport(ctx context.Context, date time.Time) (*models.DailyReport, error) {
	from, to := DayWindow(date)

	delivery, err := r.store.ListSamples(ctx, models.MetricDeliveryLatency, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery samples: %w", err)
	}
	responses, err := r.store.ListSamples(ctx, models.MetricResponseTime, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load response samples: %w", err)
	}
	resolutions, err := r.store.ListSamples(ctx, models.MetricResolutionTime, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load resolution samples: %w", err)
	}

	return &models.DailyReport{
		Date:        from.Format(dateLayout),
		Delivery:    DeliveryStatsOf(delivery),
		Cases:       CaseTimingStatsOf(responses, resolutions, r.th.ReportEscalationMinutes),
		GeneratedAt: r.now().UTC(),
	}, nil
}

// RunDaily generates, stores and checks the report for the previous UTC day.
func (r *Reporter) RunDaily(ctx context.Context) error {
	day := r.now().UTC().AddDate(0, 0, -1)
	report, err := r.GenerateDailyReport(ctx, day)
	if err != nil {
		return err
	}
	if err := r.store.SaveDailyReport(ctx, report); err != nil {
		return err
	}

	r.logger.Info("daily sla report stored",
		zap.String("date", report.Date),
		zap.Int("deliveries", report.Delivery.Total),
		zap.Float64("compliance_percent", report.Delivery.CompliancePercent),
		zap.Int("cases", report.Cases.Cases))

	if report.Delivery.CompliancePercent < r.th.HealthySuccessRate && r.tracker != nil {
		r.tracker.TrackSLABreach(ctx, BreachDailyCompliance, map[string]any{
			"date":               report.Date,
			"compliance_percent": report.Delivery.CompliancePercent,
			"threshold_percent":  r.th.HealthySuccessRate,
			"total":              report.Delivery.Total,
		})
	}
	return nil
}

// DeliveryStatsOf summarises delivery-latency samples.
func DeliveryStatsOf(samples []models.SlaSample) models.DeliveryStats {
	values := make([]float64, 0, len(samples))
	compliant := 0
	for _, s := range samples {
		if s.WithinThreshold {
			compliant++
		}
		if s.Value != nil {
			values = append(values, *s.Value)
		}
	}
	sort.Float64s(values)

	return models.DeliveryStats{
		Total:             len(samples),
		Compliant:         compliant,
		CompliancePercent: SuccessRate(compliant, len(samples)),
		MeanLatencyMs:     mean(values),
		P95LatencyMs:      Percentile(values, 0.95),
		P99LatencyMs:      Percentile(values, 0.99),
	}
}

// CaseTimingStatsOf summarises case timing samples. A case may have several
// samples; the latest non-null value of each kind is used.
func CaseTimingStatsOf(responses, resolutions []models.SlaSample, escalationMinutes float64) models.CaseTimingStats {
	latestResponse := latestPerSubject(responses)
	latestResolution := latestPerSubject(resolutions)

	subjects := map[string]struct{}{}
	for _, s := range responses {
		subjects[s.SubjectID] = struct{}{}
	}
	for _, s := range resolutions {
		subjects[s.SubjectID] = struct{}{}
	}

	responseValues := make([]float64, 0, len(latestResponse))
	escalated := 0
	for _, v := range latestResponse {
		responseValues = append(responseValues, v)
		if v > escalationMinutes {
			escalated++
		}
	}
	resolutionValues := make([]float64, 0, len(latestResolution))
	for _, v := range latestResolution {
		resolutionValues = append(resolutionValues, v)
	}

	return models.CaseTimingStats{
		Cases:                   len(subjects),
		MeanResponseMinutes:     mean(responseValues),
		MeanResolutionMinutes:   mean(resolutionValues),
		EscalatedByResponseTime: escalated,
	}
}

// latestPerSubject expects samples sorted by capture time.
func latestPerSubject(samples []models.SlaSample) map[string]float64 {
	res := map[string]float64{}
	for _, s := range samples {
		if s.Value != nil {
			res[s.SubjectID] = *s.Value
		}
	}
	return res
}

// Percentile returns sorted[floor(n*p)], clamped to the last element.
// It does not interpolate. An empty input yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// SuccessRate is compliant/total as a percentage, 100 when total is 0.
func SuccessRate(compliant, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(compliant) * 100 / float64(total)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
