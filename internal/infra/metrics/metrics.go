// Package metrics provides Prometheus metrics for the resilience core —
// counters, gauges, and histograms for jobs, providers, readiness, and
// fallbacks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Jobs ───────────────────────────────────────────────────────────────────

// JobsEnqueued tracks enqueued jobs by category.
var JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pressmesh",
	Name:      "jobs_enqueued_total",
	Help:      "Total jobs enqueued.",
}, []string{"category"})

// JobsCompleted tracks completed jobs by category.
var JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pressmesh",
	Name:      "jobs_completed_total",
	Help:      "Total completed jobs.",
}, []string{"category"})

// JobsFailed tracks failed jobs by category and reason.
var JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pressmesh",
	Name:      "jobs_failed_total",
	Help:      "Total failed jobs.",
}, []string{"category", "reason"})

// JobsProcessing tracks currently processing jobs.
var JobsProcessing = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pressmesh",
	Name:      "jobs_processing",
	Help:      "Number of jobs currently processing.",
})

// QueueDepth tracks pending jobs waiting for a worker.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pressmesh",
	Name:      "queue_depth",
	Help:      "Number of pending jobs in the queue.",
})

// JobDuration tracks end-to-end job duration in seconds.
var JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pressmesh",
	Name:      "job_duration_seconds",
	Help:      "End-to-end job duration in seconds.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
})

// StageDuration tracks per-stage duration in seconds.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pressmesh",
	Name:      "stage_duration_seconds",
	Help:      "Per-stage processing duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
}, []string{"stage"})

// WatchdogKills tracks jobs force-failed by the watchdog.
var WatchdogKills = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pressmesh",
	Name:      "watchdog_kills_total",
	Help:      "Jobs force-failed by the watchdog for exceeding the absolute timeout.",
})

// ─── Providers ──────────────────────────────────────────────────────────────

// ProviderAvailable tracks provider availability (1=available, 0=not).
var ProviderAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pressmesh",
	Name:      "provider_available",
	Help:      "Provider availability per backend (1=available, 0=unavailable).",
}, []string{"provider"})

// ProviderCredits tracks remaining credits per provider.
var ProviderCredits = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pressmesh",
	Name:      "provider_credits_remaining",
	Help:      "Remaining daily credits per provider.",
}, []string{"provider"})

// ProviderLatency tracks provider call latency in seconds.
var ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pressmesh",
	Name:      "provider_latency_seconds",
	Help:      "Provider request latency in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"provider"})

// ProviderSelections tracks routing decisions by provider and reason.
var ProviderSelections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pressmesh",
	Name:      "provider_selections_total",
	Help:      "Routing decisions by chosen provider and reason.",
}, []string{"provider", "reason"})

// ─── Readiness ──────────────────────────────────────────────────────────────

// ReadinessScore tracks the latest aggregate readiness score.
var ReadinessScore = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pressmesh",
	Name:      "readiness_score",
	Help:      "Latest aggregate readiness score (0-100).",
})

// ReadinessState tracks the current state (0=UNKNOWN, 1=READY, 2=DEGRADED, 3=NOT_READY).
var ReadinessState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pressmesh",
	Name:      "readiness_state",
	Help:      "Current readiness state (0=UNKNOWN, 1=READY, 2=DEGRADED, 3=NOT_READY).",
})

// ReadinessTransitions tracks state transitions by from/to state.
var ReadinessTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pressmesh",
	Name:      "readiness_transitions_total",
	Help:      "Readiness state transitions.",
}, []string{"from", "to"})

// CheckStatus tracks health check results (1=pass, 0=fail).
var CheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pressmesh",
	Name:      "check_status",
	Help:      "Health check result per check (1=pass, 0=fail).",
}, []string{"check"})

// ─── Fallbacks ──────────────────────────────────────────────────────────────

// FallbacksServed tracks fallback responses by category.
var FallbacksServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pressmesh",
	Name:      "fallbacks_served_total",
	Help:      "Fallback responses served by category.",
}, []string{"type"})
