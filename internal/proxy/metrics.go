package proxy

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProxyMetrics contains Prometheus metrics for upstream forwarding.
type ProxyMetrics struct {
	errorsTotal      *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

var (
	proxyMetricsInstance *ProxyMetrics
	proxyMetricsOnce     sync.Once
)

// GetProxyMetrics returns the singleton proxy metrics instance.
func GetProxyMetrics() *ProxyMetrics {
	proxyMetricsOnce.Do(func() {
		proxyMetricsInstance = &ProxyMetrics{
			errorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "bearergate",
					Subsystem: "proxy",
					Name:      "errors_total",
					Help:      "Total number of upstream proxy errors",
				},
				[]string{"error_type"},
			),
			upstreamDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "bearergate",
					Subsystem: "proxy",
					Name:      "upstream_duration_seconds",
					Help:      "Duration of proxied upstream requests",
					Buckets: []float64{
						.001, .005, .01, .025,
						.05, .1, .25, .5,
						1, 2.5, 5, 10,
					},
				},
				[]string{"status_class"},
			),
		}
	})
	return proxyMetricsInstance
}

// MustRegister registers the collectors with the registry served on the
// metrics endpoint. Already registered collectors are skipped.
func (m *ProxyMetrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{m.errorsTotal, m.upstreamDuration} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
