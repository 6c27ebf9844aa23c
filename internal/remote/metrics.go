package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationDuration measures backend round trips.
	// Labels: operation, status (success, error)
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "report_variables",
		Subsystem: "remote",
		Name:      "operation_duration_seconds",
		Help:      "Backend operation latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// cacheLookups counts set and rating-set cache lookups.
	// Labels: cache (variable_set, rating_set), result (hit, miss, error)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "report_variables",
		Subsystem: "remote",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by result",
	}, []string{"cache", "result"})

	// breakerState is 0 closed, 1 half-open, 2 open.
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "report_variables",
		Subsystem: "remote",
		Name:      "circuit_breaker_state",
		Help:      "Backend circuit breaker state (0 closed, 1 half-open, 2 open)",
	})
)
