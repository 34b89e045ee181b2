package health

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HealthMetrics holds Prometheus metrics for health checks.
type HealthMetrics struct {
	checksTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

var (
	healthMetricsInstance *HealthMetrics
	healthMetricsOnce     sync.Once
)

// GetHealthMetrics returns the singleton health metrics instance.
func GetHealthMetrics() *HealthMetrics {
	healthMetricsOnce.Do(func() {
		healthMetricsInstance = &HealthMetrics{
			checksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "bearergate",
					Subsystem: "health",
					Name:      "checks_total",
					Help:      "Total number of health checks performed",
				},
				[]string{"type"},
			),
			checkStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "bearergate",
					Subsystem: "health",
					Name:      "check_status",
					Help:      "Current check status (1=healthy, 0.5=degraded, 0=unhealthy)",
				},
				[]string{"check"},
			),
		}
	})
	return healthMetricsInstance
}

// MustRegister registers the collectors with a custom registry so they are
// served next to the other component metrics.
func (m *HealthMetrics) MustRegister(registry *prometheus.Registry) {
	for _, c := range []prometheus.Collector{m.checksTotal, m.checkStatus} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// Init pre-initializes label combinations so they appear at startup.
func (m *HealthMetrics) Init() {
	for _, checkType := range []string{"liveness", "readiness"} {
		m.checksTotal.WithLabelValues(checkType)
	}
	m.checkStatus.WithLabelValues("overall")
}

func (m *HealthMetrics) setStatus(check string, status Status) {
	var v float64
	switch status {
	case StatusHealthy:
		v = 1
	case StatusDegraded:
		v = 0.5
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
