package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of the moderation engine.
type Metrics struct {
	FlagsTotal       *prometheus.CounterVec
	CasesCreated     *prometheus.CounterVec
	EvidenceAppended prometheus.Counter
	CaseConflicts    prometheus.Counter
	Escalations      prometheus.Counter
	Notifications    *prometheus.CounterVec
	SLASamples       *prometheus.CounterVec
	BreachDispatch   *prometheus.CounterVec
	JobRuns          *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg gets a private registry so
// tests and tools can build components without exporting anything.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		FlagsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_flags_total",
			Help: "Flag and auto-signal events by intake result.",
		}, []string{"kind", "result"}),

		CasesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_cases_created_total",
			Help: "Moderation cases created.",
		}, []string{"source_type", "state"}),

		EvidenceAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "moderation_evidence_appended_total",
			Help: "Evidence entries appended to existing cases after dedup.",
		}),

		CaseConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "moderation_case_conflicts_total",
			Help: "Create or merge conflicts resolved by re-lookup.",
		}),

		Escalations: f.NewCounter(prometheus.CounterOpts{
			Name: "moderation_escalations_total",
			Help: "Cases moved from open to escalated by the sweep.",
		}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_notifications_total",
			Help: "Notification records by write result.",
		}, []string{"kind", "result"}),

		SLASamples: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_sla_samples_total",
			Help: "SLA samples recorded.",
		}, []string{"metric_kind", "within_threshold"}),

		BreachDispatch: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_breach_dispatch_total",
			Help: "Breach alert deliveries per external channel.",
		}, []string{"channel", "result"}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_job_runs_total",
			Help: "Periodic job runs by outcome (ok, error, skipped).",
		}, []string{"job", "result"}),

		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moderation_job_duration_seconds",
			Help:    "Duration of periodic job runs.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
	}
}

// Result maps an error to a label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
