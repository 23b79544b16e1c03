package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscoveryRefreshTotal tracks discovery refreshes by outcome
	DiscoveryRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_discovery_refresh_total",
			Help: "Total number of discovery refreshes",
		},
		[]string{"result"},
	)

	// DiscoveredInstances tracks the current fleet size
	DiscoveredInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_discovered_instances",
			Help: "Number of instances in the current discovery snapshot",
		},
	)

	// ProbeTotal tracks health probes per instance and result
	ProbeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_probe_total",
			Help: "Total number of health probes",
		},
		[]string{"instance", "result"},
	)

	// ProbeLatency tracks health probe latency
	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_probe_latency_seconds",
			Help:    "Health probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"instance"},
	)

	// HealthScore tracks the latest composite score per instance
	HealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_health_score",
			Help: "Latest composite health score (0-100)",
		},
		[]string{"instance"},
	)

	// BreakerTransitionsTotal tracks circuit breaker state transitions
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	// BreakerOpen reports whether a breaker is currently open
	BreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_breaker_open",
			Help: "1 if the named circuit breaker is open",
		},
		[]string{"name"},
	)

	// RecoveryAttemptsTotal tracks dispatched recovery actions
	RecoveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_recovery_attempts_total",
			Help: "Total number of recovery actions dispatched",
		},
		[]string{"instance", "action", "result"},
	)

	// AlertsTotal tracks dispatched alerts by severity
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_alerts_total",
			Help: "Total number of alerts dispatched",
		},
		[]string{"severity"},
	)

	// AlertsSuppressedTotal tracks alerts suppressed by cooldown
	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by cooldown",
		},
	)
)
