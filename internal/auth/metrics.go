package auth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/bearergate/internal/auth/jwt"
)

// Metrics holds Prometheus metrics for access decisions.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bearergate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total number of access decisions by decision and reason",
		},
		[]string{"decision", "reason"},
	)

	m.decisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decision_duration_seconds",
			Help:      "Access decision duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"transport", "decision"},
	)

	m.registry.MustRegister(m.decisionsTotal, m.decisionDuration)

	return m
}

// Init pre-initializes the decision series so they are exported before
// the first request.
func (m *Metrics) Init() {
	m.decisionsTotal.WithLabelValues(AllowAll.String(), ReasonAllowed)
	m.decisionsTotal.WithLabelValues(DenyAll.String(), ReasonMissingCredentials)
	for _, r := range jwt.Reasons() {
		m.decisionsTotal.WithLabelValues(DenyAll.String(), r.String())
	}
	for _, transport := range []string{transportHTTP, transportGRPC} {
		for _, rule := range []AccessRule{AllowAll, DenyAll} {
			m.decisionDuration.WithLabelValues(transport, rule.String())
		}
	}
}

// RecordDecision records one access decision.
func (m *Metrics) RecordDecision(transport string, d Decision, duration time.Duration) {
	m.decisionsTotal.WithLabelValues(d.Rule.String(), d.Reason).Inc()
	m.decisionDuration.WithLabelValues(transport, d.Rule.String()).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry, ignoring
// collectors that are already registered.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{m.decisionsTotal, m.decisionDuration} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
