package sla

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/config"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

// Breach types raised by the tracker and the daily report.
const (
	BreachDelivery        = models.BreachTypeDelivery
	BreachResponse        = "response"
	BreachResolution      = "resolution"
	BreachDailyCompliance = "daily_compliance"
)

// Store is implemented by repository.TelemetryRepository.
type Store interface {
	InsertSample(ctx context.Context, s *models.SlaSample) error
	ListSamples(ctx context.Context, kind models.MetricKind, from, to time.Time) ([]models.SlaSample, error)
	InsertBreach(ctx context.Context, a *models.BreachAlert) error
	SaveDailyReport(ctx context.Context, report *models.DailyReport) error
}

// Thresholds are the fixed bounds samples are classified against.
type Thresholds struct {
	DeliveryMs              int64
	ResponseMinutes         float64
	ResolutionMinutes       float64
	ReportEscalationMinutes float64
	HealthySuccessRate      float64
}

func ThresholdsFromConfig(cfg config.SLAConfig) Thresholds {
	return Thresholds{
		DeliveryMs:              cfg.DeliveryThresholdMs,
		ResponseMinutes:         cfg.ResponseThresholdMinutes,
		ResolutionMinutes:       cfg.ResolutionThresholdMinutes,
		ReportEscalationMinutes: cfg.ReportEscalationMinutes,
		HealthySuccessRate:      cfg.HealthySuccessRate,
	}
}

// Tracker ingests SLA samples and raises breach alerts. None of its entry
// points return errors: telemetry never fails the operation it observes.
type Tracker struct {
	store         Store
	dispatcher    *Dispatcher
	th            Thresholds
	alertOnSample bool
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
	wg            sync.WaitGroup
}

func NewTracker(store Store, dispatcher *Dispatcher, th Thresholds, alertOnSample bool, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:         store,
		dispatcher:    dispatcher,
		th:            th,
		alertOnSample: alertOnSample,
		metrics:       m,
		logger:        logger.With(zap.String("mod", "sla")),
		now:           time.Now,
	}
}

// TrackDelivery records a notification delivery latency.
func (t *Tracker) TrackDelivery(ctx context.Context, subjectID string, latencyMs int64) {
	within := latencyMs <= t.th.DeliveryMs
	value := float64(latencyMs)
	t.record(ctx, subjectID, models.MetricDeliveryLatency, &value, within)

	if !within {
		t.logger.Warn("delivery latency over SLA",
			zap.String("subject_id", subjectID),
			zap.Int64("latency_ms", latencyMs),
			zap.Int64("threshold_ms", t.th.DeliveryMs))
		t.alertAsync(ctx, BreachDelivery, map[string]any{
			"subject_id":   subjectID,
			"latency_ms":   latencyMs,
			"threshold_ms": t.th.DeliveryMs,
		})
	}
}

// TrackCase records response and resolution times of a case. A missing
// timestamp yields a null value that is not counted as a breach.
func (t *Tracker) TrackCase(ctx context.Context, caseID string, createdAt time.Time, firstResponseAt, resolvedAt *time.Time) {
	response := minutesSince(createdAt, firstResponseAt)
	resolution := minutesSince(createdAt, resolvedAt)
	responseOK := response == nil || *response <= t.th.ResponseMinutes
	resolutionOK := resolution == nil || *resolution <= t.th.ResolutionMinutes

	t.record(ctx, caseID, models.MetricResponseTime, response, responseOK)
	t.record(ctx, caseID, models.MetricResolutionTime, resolution, resolutionOK)

	if !responseOK {
		t.logger.Warn("case response time over SLA",
			zap.String("case_id", caseID),
			zap.Float64("minutes", *response),
			zap.Float64("threshold_minutes", t.th.ResponseMinutes))
		t.alertAsync(ctx, BreachResponse, map[string]any{
			"case_id":           caseID,
			"minutes":           *response,
			"threshold_minutes": t.th.ResponseMinutes,
		})
	}
	if !resolutionOK {
		t.logger.Warn("case resolution time over SLA",
			zap.String("case_id", caseID),
			zap.Float64("minutes", *resolution),
			zap.Float64("threshold_minutes", t.th.ResolutionMinutes))
		t.alertAsync(ctx, BreachResolution, map[string]any{
			"case_id":           caseID,
			"minutes":           *resolution,
			"threshold_minutes": t.th.ResolutionMinutes,
		})
	}
}

// TrackSLABreach stores the breach and delivers it to every configured
// channel concurrently. Channel failures are reported in the results only.
func (t *Tracker) TrackSLABreach(ctx context.Context, breachType string, details map[string]any) []ChannelResult {
	alert := models.BreachAlert{
		ID:        uuid.New(),
		Type:      breachType,
		Severity:  models.SeverityForBreach(breachType),
		Details:   details,
		Timestamp: t.now().UTC(),
	}

	if err := t.store.InsertBreach(ctx, &alert); err != nil {
		t.logger.Error("failed to persist sla breach", zap.String("type", breachType), zap.Error(err))
	}
	if t.dispatcher == nil {
		return nil
	}
	return t.dispatcher.Dispatch(ctx, alert)
}

// Wait blocks until alerts raised from samples have been dispatched.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) alertAsync(ctx context.Context, breachType string, details map[string]any) {
	if !t.alertOnSample {
		return
	}
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.TrackSLABreach(ctx, breachType, details)
	}()
}

func (t *Tracker) record(ctx context.Context, subjectID string, kind models.MetricKind, value *float64, within bool) {
	sample := &models.SlaSample{
		ID:              uuid.New(),
		SubjectID:       subjectID,
		MetricKind:      kind,
		Value:           value,
		WithinThreshold: within,
		CapturedAt:      t.now().UTC(),
	}
	t.metrics.SLASamples.WithLabelValues(string(kind), strconv.FormatBool(within)).Inc()
	if err := t.store.InsertSample(ctx, sample); err != nil {
		t.logger.Warn("failed to persist sla sample",
			zap.String("subject_id", subjectID),
			zap.String("metric_kind", string(kind)),
			zap.Error(err))
	}
}

func minutesSince(from time.Time, to *time.Time) *float64 {
	if to == nil {
		return nil
	}
	m := to.Sub(from).Minutes()
	return &m
}
