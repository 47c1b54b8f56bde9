package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	TokenRefreshes  *prometheus.CounterVec
	ConsentResolves *prometheus.CounterVec
	GateDecisions   *prometheus.CounterVec
	LoginsCompleted prometheus.Counter

	ConsentResolveDuration prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TokenRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_app_token_refreshes_total",
			Help: "Service token refresh attempts by outcome",
		}, []string{"outcome"}),
		ConsentResolves: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_app_consent_resolves_total",
			Help: "Consent resolutions against the system of record by outcome",
		}, []string{"outcome"}),
		GateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_app_gate_decisions_total",
			Help: "Request gate decisions by kind",
		}, []string{"decision"}),
		LoginsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consent_app_logins_completed_total",
			Help: "Successful OIDC callback completions",
		}),
		ConsentResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consent_app_consent_resolve_duration_ms",
			Help:    "Latency of consent resolution in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
}

// NewForTest creates Metrics on a private registry so tests can construct
// services without double-registration panics.
func NewForTest() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_app_token_refreshes_total",
			Help: "Service token refresh attempts by outcome",
		}, []string{"outcome"}),
		ConsentResolves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_app_consent_resolves_total",
			Help: "Consent resolutions against the system of record by outcome",
		}, []string{"outcome"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consent_app_gate_decisions_total",
			Help: "Request gate decisions by kind",
		}, []string{"decision"}),
		LoginsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "consent_app_logins_completed_total",
			Help: "Successful OIDC callback completions",
		}),
		ConsentResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "consent_app_consent_resolve_duration_ms",
			Help:    "Latency of consent resolution in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
}
