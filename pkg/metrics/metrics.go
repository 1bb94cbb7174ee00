package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks staff sessions currently in a live (non-terminal) state.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "krongthai_active_staff_sessions",
			Help: "Number of live staff sessions",
		},
	)

	// SessionEvents counts lifecycle events by kind (created|refreshed|warning|expired|terminated|suspended).
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krongthai_session_events_total",
			Help: "Total number of staff session lifecycle events",
		},
		[]string{"event"},
	)

	// ManagerAuthAttempts records manager override authentications by result (success|failure).
	ManagerAuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krongthai_manager_auth_attempts_total",
			Help: "Total number of manager override authentication attempts",
		},
		[]string{"result"},
	)

	// OverrideRequests counts override requests by type and terminal outcome.
	OverrideRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krongthai_override_requests_total",
			Help: "Total number of manager override requests",
		},
		[]string{"type", "status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "krongthai_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
