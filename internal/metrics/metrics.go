// Package metrics holds the service's Prometheus collectors, registered with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hms_sentinel"

var (
	// LoginFailuresTotal counts failed logins reported by callers
	LoginFailuresTotal *prometheus.CounterVec

	// LoginChecksTotal counts login gate decisions
	LoginChecksTotal *prometheus.CounterVec

	// LockoutsTotal counts account locks and IP blocks imposed
	LockoutsTotal *prometheus.CounterVec

	// AuditEventsTotal counts audit emissions by sink and result
	AuditEventsTotal *prometheus.CounterVec

	// AuditBreakerState tracks the audit transport breaker (0=closed, 0.5=half-open, 1=open)
	AuditBreakerState prometheus.Gauge

	// APIKeyValidationsTotal counts API key validations by result
	APIKeyValidationsTotal *prometheus.CounterVec

	// SweepRemovedTotal counts records removed by the housekeeping sweep
	SweepRemovedTotal *prometheus.CounterVec

	// HTTPRequestDuration observes request latency by route pattern
	HTTPRequestDuration *prometheus.HistogramVec
)

func init() {
	LoginFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "login_failures_total",
			Help:      "Total failed login attempts recorded",
		},
		[]string{"outcome"},
	)

	LoginChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "login_checks_total",
			Help:      "Total login gate decisions",
		},
		[]string{"decision"},
	)

	LockoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "lockouts_total",
			Help:      "Total account locks and IP blocks imposed",
		},
		[]string{"kind"},
	)

	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Total audit events by sink and result",
		},
		[]string{"sink", "result"},
	)

	AuditBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "circuit_breaker_state",
			Help:      "Audit transport circuit breaker state (0=closed, 0.5=half-open, 1=open)",
		},
	)

	APIKeyValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api_keys",
			Name:      "validations_total",
			Help:      "Total API key validations by result",
		},
		[]string{"result"},
	)

	SweepRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "sweep_removed_total",
			Help:      "Total records removed by the housekeeping sweep",
		},
		[]string{"kind"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route", "status"},
	)

	prometheus.MustRegister(
		LoginFailuresTotal,
		LoginChecksTotal,
		LockoutsTotal,
		AuditEventsTotal,
		AuditBreakerState,
		APIKeyValidationsTotal,
		SweepRemovedTotal,
		HTTPRequestDuration,
	)
}

// Label values
const (
	SinkTransport = "transport"
	SinkLocal     = "local"

	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"

	KindAccount = "account"
	KindIP      = "ip"

	SweepStaleFailure = "stale_failure"
	SweepExpiredLock  = "expired_lock"
	SweepExpiredBlock = "expired_block"
	SweepExpiredKey   = "expired_api_key"
)

// BreakerStateValue converts a breaker state name to the gauge value
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 0.5
	default:
		return 0
	}
}
