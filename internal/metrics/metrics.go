// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Scoring path
	DetectionsTotal *prometheus.CounterVec
	ScoringDuration *prometheus.HistogramVec
	ScoringTimeouts prometheus.Counter
	RulesSkipped    prometheus.Counter

	// Escalation
	CasesActive     prometheus.Gauge
	CaseTransitions *prometheus.CounterVec
	SLABreaches     *prometheus.CounterVec
	ResponseTime    prometheus.Histogram
	ResolutionTime  prometheus.Histogram

	// Dispatch
	ContactAttempts  *prometheus.CounterVec
	DispatchFailures *prometheus.CounterVec
)

// Init registers all collectors. Safe to call more than once.
func Init(logger *zap.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		DetectionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_detections_total",
				Help: "Detection events recorded, by severity and category",
			},
			[]string{"severity", "category"},
		)

		ScoringDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crisis_scoring_duration_seconds",
				Help:    "Latency of the synchronous scoring path",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"source_type"},
		)

		ScoringTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crisis_scoring_timeouts_total",
			Help: "Scoring calls that hit the time budget and fell back to review",
		})

		RulesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crisis_rules_skipped_total",
			Help: "Malformed rules skipped during library reload",
		})

		CasesActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crisis_cases_active",
			Help: "Escalation cases currently in a non-terminal state",
		})

		CaseTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_case_transitions_total",
				Help: "State machine transitions, by target state",
			},
			[]string{"to_status"},
		)

		SLABreaches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_sla_breaches_total",
				Help: "Automatic escalations fired by SLA timeout",
			},
			[]string{"severity"},
		)

		ResponseTime = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crisis_case_response_seconds",
			Help:    "Wall clock from case creation to first escalation",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		})

		ResolutionTime = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crisis_case_resolution_seconds",
			Help:    "Wall clock from case creation to resolution",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12),
		})

		ContactAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_contact_attempts_total",
				Help: "Contact attempts, by channel and delivery status",
			},
			[]string{"channel", "status"},
		)

		DispatchFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_dispatch_failures_total",
				Help: "Dispatch rounds where every configured channel failed",
			},
			[]string{"severity"},
		)

		registry.MustRegister(
			DetectionsTotal, ScoringDuration, ScoringTimeouts, RulesSkipped,
			CasesActive, CaseTransitions, SLABreaches, ResponseTime, ResolutionTime,
			ContactAttempts, DispatchFailures,
		)

		logger.Info("Prometheus metrics registered")
	})
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
