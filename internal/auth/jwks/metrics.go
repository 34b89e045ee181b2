package jwks

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results.
const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupStale = "stale"
)

// Metrics holds Prometheus metrics for key resolution.
type Metrics struct {
	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	lookupsTotal  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	cachedKeys    *prometheus.GaugeVec
	registry      *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bearergate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "fetch_total",
			Help:      "Total number of key set fetches by issuer and status",
		},
		[]string{"issuer", "status"},
	)

	m.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "fetch_duration_seconds",
			Help:      "Key set fetch duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"issuer"},
	)

	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "cache_lookups_total",
			Help:      "Total number of key cache lookups by result",
		},
		[]string{"result"},
	)

	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "circuit_breaker_state",
			Help:      "Fetch circuit breaker state per issuer (0=closed, 1=half-open, 2=open)",
		},
		[]string{"issuer"},
	)

	m.cachedKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "cached_keys",
			Help:      "Number of cached RSA keys per issuer",
		},
		[]string{"issuer"},
	)

	m.registry.MustRegister(m.collectors()...)

	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.fetchTotal,
		m.fetchDuration,
		m.lookupsTotal,
		m.breakerState,
		m.cachedKeys,
	}
}

// Init pre-initializes the lookup series.
func (m *Metrics) Init() {
	for _, result := range []string{lookupHit, lookupMiss, lookupStale} {
		m.lookupsTotal.WithLabelValues(result)
	}
}

// RecordFetch records a key set fetch.
func (m *Metrics) RecordFetch(issuer, status string, duration time.Duration) {
	m.fetchTotal.WithLabelValues(issuer, status).Inc()
	m.fetchDuration.WithLabelValues(issuer).Observe(duration.Seconds())
}

// RecordLookup records a cache lookup result.
func (m *Metrics) RecordLookup(result string) {
	m.lookupsTotal.WithLabelValues(result).Inc()
}

// SetBreakerState records the breaker state for an issuer.
func (m *Metrics) SetBreakerState(issuer string, state int) {
	m.breakerState.WithLabelValues(issuer).Set(float64(state))
}

// SetCachedKeys records the number of cached keys for an issuer.
func (m *Metrics) SetCachedKeys(issuer string, n int) {
	m.cachedKeys.WithLabelValues(issuer).Set(float64(n))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers the metrics with the given registry.
// AlreadyRegisteredError is ignored so that resolvers rebuilt on
// configuration reload can register again.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range m.collectors() {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
