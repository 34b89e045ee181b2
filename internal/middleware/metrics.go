package middleware

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for middleware
// operations.
type MiddlewareMetrics struct {
	panicsRecovered prometheus.Counter
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics
// instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = &MiddlewareMetrics{
			panicsRecovered: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "bearergate",
				Subsystem: "middleware",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered in HTTP handlers",
			}),
		}
	})
	return middlewareMetrics
}

// MustRegister registers the collectors with registry, skipping those
// already registered.
func (m *MiddlewareMetrics) MustRegister(registry *prometheus.Registry) {
	if err := registry.Register(m.panicsRecovered); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}
