package cache

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"

	metricsNamespace = "bearergate"
	metricsSubsystem = "keyset_store"
)

var (
	storeOperations       = []string{"get", "set", "delete", "exists"}
	storeOperationBuckets = []float64{.0001, .0005, .001, .005, .01, .025, .05, .1}
	cacheMetricsInstance  *CacheMetrics
	cacheMetricsOnce      sync.Once
)

// CacheMetrics counts key set store traffic per backend. The collectors
// live in the default registry and are shared by every store in the
// process.
type CacheMetrics struct {
	hitsTotal         *prometheus.CounterVec
	missesTotal       *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
	sizeGauge         *prometheus.GaugeVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
}

// GetCacheMetrics returns the process-wide store metrics.
func GetCacheMetrics() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		cacheMetricsInstance = newCacheMetrics()
	})
	return cacheMetricsInstance
}

func newCacheMetrics() *CacheMetrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		}, labels)
	}

	return &CacheMetrics{
		hitsTotal:      counter("hits_total", "Key set store lookups that found a document", "backend"),
		missesTotal:    counter("misses_total", "Key set store lookups that found nothing", "backend"),
		evictionsTotal: counter("evictions_total", "Documents dropped by expiry or capacity", "backend"),
		errorsTotal:    counter("errors_total", "Failed key set store operations", "backend", "operation"),
		sizeGauge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "size",
			Help:      "Documents currently held by the in-process store",
		}, []string{"backend"}),
		operationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Key set store operation latency in seconds",
			Buckets:   storeOperationBuckets,
		}, []string{"backend", "operation"}),
	}
}

func (m *CacheMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.hitsTotal, m.missesTotal, m.evictionsTotal,
		m.sizeGauge, m.operationDuration, m.errorsTotal,
	}
}

// MustRegister adds the collectors to registry, tolerating ones that are
// already there.
func (m *CacheMetrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range m.collectors() {
		err := registry.Register(c)
		var dup prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &dup) {
			panic(err)
		}
	}
}

// Init creates every backend and operation series at zero.
func (m *CacheMetrics) Init() {
	for _, backend := range []string{backendMemory, backendRedis} {
		m.hitsTotal.WithLabelValues(backend)
		m.missesTotal.WithLabelValues(backend)
		m.evictionsTotal.WithLabelValues(backend)
		m.sizeGauge.WithLabelValues(backend)
		for _, op := range storeOperations {
			m.operationDuration.WithLabelValues(backend, op)
			m.errorsTotal.WithLabelValues(backend, op)
		}
	}
}
