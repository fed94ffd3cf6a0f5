// Package metrics provides Prometheus metrics for the Clover services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlagEvaluationsTotal tracks evaluations by flag, environment, result and reason
	FlagEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "evaluation",
			Name:      "flag_evaluations_total",
			Help:      "Total number of flag evaluations by result and reason",
		},
		[]string{"flag", "environment", "result", "reason"},
	)

	// FlagEvaluationDuration tracks evaluation duration in seconds
	FlagEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "evaluation",
			Name:      "flag_evaluation_duration_seconds",
			Help:      "Duration of flag evaluations in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"flag", "environment"},
	)

	// CacheHitsTotal tracks config cache hits
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of config cache hits",
		},
		[]string{"flag", "environment"},
	)

	// CacheMissesTotal tracks config cache misses
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of config cache misses",
		},
		[]string{"flag", "environment"},
	)

	// CacheInvalidationsTotal tracks invalidations issued by the control plane
	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total number of cache invalidations by scope",
		},
		[]string{"scope"},
	)

	// FlagConfigChangesTotal tracks control-plane mutations by action
	FlagConfigChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "controlplane",
			Name:      "flag_config_changes_total",
			Help:      "Total number of flag configuration changes by action",
		},
		[]string{"action"},
	)

	// KillSwitchActivationsTotal tracks kill switch activations
	KillSwitchActivationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "controlplane",
			Name:      "kill_switch_activations_total",
			Help:      "Total number of kill switch activations",
		},
	)

	// EvaluationErrorsTotal tracks degraded evaluations served with defaults
	EvaluationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "evaluation",
			Name:      "errors_total",
			Help:      "Total number of evaluations degraded to the caller default",
		},
		[]string{"flag", "environment", "cause"},
	)

	// EventsPublishedTotal tracks flag change events published to Kafka
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of flag change events published",
		},
		[]string{"type", "status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordEvaluation records one evaluation outcome.
func RecordEvaluation(flag, environment, result, reason string, durationSeconds float64) {
	FlagEvaluationsTotal.WithLabelValues(flag, environment, result, reason).Inc()
	FlagEvaluationDuration.WithLabelValues(flag, environment).Observe(durationSeconds)
}

// RecordCacheHit records a config cache hit.
func RecordCacheHit(flag, environment string) {
	CacheHitsTotal.WithLabelValues(flag, environment).Inc()
}

// RecordCacheMiss records a config cache miss.
func RecordCacheMiss(flag, environment string) {
	CacheMissesTotal.WithLabelValues(flag, environment).Inc()
}

// RecordConfigChange records a control-plane mutation.
func RecordConfigChange(action string) {
	FlagConfigChangesTotal.WithLabelValues(action).Inc()
}

// RecordKillSwitch records a kill switch activation.
func RecordKillSwitch() {
	KillSwitchActivationsTotal.Inc()
	FlagConfigChangesTotal.WithLabelValues("kill_switch").Inc()
}
