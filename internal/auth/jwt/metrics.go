package jwt

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// outcomeValid labels accepted tokens.
const outcomeValid = "valid"

// Metrics holds Prometheus metrics for token validation.
type Metrics struct {
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bearergate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "validation_total",
			Help:      "Total number of token validations by outcome",
		},
		[]string{"outcome"},
	)

	m.validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "validation_duration_seconds",
			Help:      "Token validation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(m.validationTotal, m.validationDuration)

	return m
}

// Init pre-initializes every outcome series.
func (m *Metrics) Init() {
	m.validationTotal.WithLabelValues(outcomeValid)
	m.validationDuration.WithLabelValues(outcomeValid)
	for _, r := range Reasons() {
		m.validationTotal.WithLabelValues(r.String())
		m.validationDuration.WithLabelValues(r.String())
	}
}

// RecordValidation records one validation.
func (m *Metrics) RecordValidation(outcome string, duration time.Duration) {
	m.validationTotal.WithLabelValues(outcome).Inc()
	m.validationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry, ignoring
// collectors that are already registered.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{m.validationTotal, m.validationDuration} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
