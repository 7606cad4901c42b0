package models

import (
	"time"

	"github.com/google/uuid"
)

type MetricKind string

const (
	MetricDeliveryLatency MetricKind = "delivery-latency"
	MetricResponseTime    MetricKind = "response-time"
	MetricResolutionTime  MetricKind = "resolution-time"
)

// SlaSample is an append-only telemetry observation. Value is nil when the
// measured event has not happened yet (e.g. no first response).
type SlaSample struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	SubjectID       string     `json:"subject_id" db:"subject_id"`
	MetricKind      MetricKind `json:"metric_kind" db:"metric_kind"`
	Value           *float64   `json:"value" db:"value"`
	WithinThreshold bool       `json:"within_threshold" db:"within_threshold"`
	CapturedAt      time.Time  `json:"captured_at" db:"captured_at"`
}

type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

const BreachTypeDelivery = "delivery"

// SeverityForBreach: delivery breaches warn, everything else is critical.
func SeverityForBreach(breachType string) AlertSeverity {
	if breachType == BreachTypeDelivery {
		return AlertWarning
	}
	return AlertCritical
}

// BreachAlert is delivered to external channels. The persisted copy is an
// audit record only.
type BreachAlert struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Type      string         `json:"type" db:"type"`
	Severity  AlertSeverity  `json:"severity" db:"severity"`
	Details   map[string]any `json:"details" db:"details"`
	Timestamp time.Time      `json:"timestamp" db:"created_at"`
}

type DeliveryStats struct {
	Total             int     `json:"total"`
	Compliant         int     `json:"compliant"`
	CompliancePercent float64 `json:"compliance_percent"`
	MeanLatencyMs     float64 `json:"mean_latency_ms"`
	P95LatencyMs      float64 `json:"p95_latency_ms"`
	P99LatencyMs      float64 `json:"p99_latency_ms"`
}

type CaseTimingStats struct {
	Cases                 int     `json:"cases"`
	MeanResponseMinutes   float64 `json:"mean_response_minutes"`
	MeanResolutionMinutes float64 `json:"mean_resolution_minutes"`
	// EscalatedByResponseTime counts cases whose response time exceeded the
	// report threshold. It is not the number of cases in the escalated state.
	EscalatedByResponseTime int `json:"escalated_by_response_time"`
}

type DailyReport struct {
	Date        string          `json:"date"`
	Delivery    DeliveryStats   `json:"delivery"`
	Cases       CaseTimingStats `json:"cases"`
	GeneratedAt time.Time       `json:"generated_at"`
}

const (
	SLAStatusHealthy  = "healthy"
	SLAStatusDegraded = "degraded"
)

type DashboardMetrics struct {
	OpenCases              int           `json:"open_cases"`
	InReviewCases          int           `json:"in_review_cases"`
	EscalatedCases         int           `json:"escalated_cases"`
	NeedsEscalation        []CaseSummary `json:"needs_escalation"`
	DeliverySuccessRate24h float64       `json:"delivery_success_rate_24h"`
	AvgResponseMinutes24h  float64       `json:"avg_response_minutes_24h"`
	SLAStatus              string        `json:"sla_status"`
	GeneratedAt            time.Time     `json:"generated_at"`
}
