package sla

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

type memStore struct {
	mu       sync.Mutex
	samples  []models.SlaSample
	breaches []models.BreachAlert
	reports  []models.DailyReport
	err      error
}

func (m *memStore) InsertSample(_ context.Context, s *models.SlaSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.samples = append(m.samples, *s)
	return nil
}

func (m *memStore) ListSamples(_ context.Context, kind models.MetricKind, from, to time.Time) ([]models.SlaSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	res := []models.SlaSample{}
	for _, s := range m.samples {
		if s.MetricKind == kind && !s.CapturedAt.Before(from) && s.CapturedAt.Before(to) {
			res = append(res, s)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CapturedAt.Before(res[j].CapturedAt) })
	return res, nil
}

func (m *memStore) InsertBreach(_ context.Context, a *models.BreachAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.breaches = append(m.breaches, *a)
	return nil
}

func (m *memStore) SaveDailyReport(_ context.Context, r *models.DailyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, *r)
	return nil
}

func (m *memStore) add(kind models.MetricKind, subject string, value *float64, within bool, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, models.SlaSample{
		ID:              uuid.New(),
		SubjectID:       subject,
		MetricKind:      kind,
		Value:           value,
		WithinThreshold: within,
		CapturedAt:      at,
	})
}

func (m *memStore) breachCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.breaches)
}

// funcChannel is a Channel backed by a function.
type funcChannel struct {
	name string
	fn   func(ctx context.Context) error
	mu   sync.Mutex
	sent []models.BreachAlert
}

func (f *funcChannel) Name() string { return f.name }

func (f *funcChannel) Send(ctx context.Context, a models.BreachAlert) error {
	f.mu.Lock()
	f.sent = append(f.sent, a)
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx)
}

func (f *funcChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var errChannelDown = errors.New("channel down")

func ptr(v float64) *float64 { return &v }

func defaultThresholds() Thresholds {
	return Thresholds{
		DeliveryMs:              5000,
		ResponseMinutes:         15,
		ResolutionMinutes:       120,
		ReportEscalationMinutes: 15,
		HealthySuccessRate:      99.5,
	}
}

func newTestTracker(store Store, channels []Channel, alertOnSample bool) *Tracker {
	m := metrics.New(nil)
	d := NewDispatcher(channels, time.Second, m, zap.NewNop())
	return NewTracker(store, d, defaultThresholds(), alertOnSample, m, zap.NewNop())
}
