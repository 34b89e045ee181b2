package main

import (
	"errors"
	"reflect"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// reloadMetrics holds Prometheus metrics for configuration reloads.
type reloadMetrics struct {
	configReloadTotal       *prometheus.CounterVec
	configReloadDuration    prometheus.Histogram
	configReloadLastSuccess prometheus.Gauge
	configWatcherStatus     prometheus.Gauge
}

// newReloadMetrics creates reload metrics and registers them with the
// application's registry.
func newReloadMetrics(m *observability.Metrics) *reloadMetrics {
	rm := &reloadMetrics{
		configReloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
		configReloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_duration_seconds",
				Help:      "Duration of configuration reload operations",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
		),
		configReloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of last successful config reload",
			},
		),
		configWatcherStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		rm.configReloadTotal,
		rm.configReloadDuration,
		rm.configReloadLastSuccess,
		rm.configWatcherStatus,
	} {
		if err := m.Registry().Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	for _, result := range []string{"success", "error"} {
		rm.configReloadTotal.WithLabelValues(result)
	}

	return rm
}

// applyConfig swaps the gate's validator for one built from newCfg.
// Resolver, store and listener settings are fixed at start-up; changes to
// them are logged and ignored until restart.
func (app *application) applyConfig(newCfg *config.GateConfig) {
	start := time.Now()
	defer func() {
		app.reload.configReloadDuration.Observe(time.Since(start).Seconds())
	}()

	app.reloadMu.Lock()
	defer app.reloadMu.Unlock()

	validator, err := app.newValidator(&newCfg.Auth)
	if err == nil {
		err = app.gate.SetValidator(validator)
	}
	if err != nil {
		app.logger.Error("failed to apply reloaded configuration", observability.Error(err))
		app.reload.configReloadTotal.WithLabelValues("error").Inc()
		return
	}

	if restartRequired(app.current, newCfg) {
		app.logger.Warn("key set, store or listener settings changed; restart bearergate to apply them")
	}

	app.logger.Info("token validation settings reloaded",
		observability.Strings("allowed_issuers", newCfg.Auth.AllowedIssuers),
		observability.String("audience", newCfg.Auth.RequiredAudience),
		observability.String("algorithm", newCfg.Auth.VerificationAlgorithm),
		observability.Bool("issuers_changed", !slices.Equal(app.current.Auth.AllowedIssuers, newCfg.Auth.AllowedIssuers)),
	)

	app.current = newCfg
	app.reload.configReloadTotal.WithLabelValues("success").Inc()
	app.reload.configReloadLastSuccess.SetToCurrentTime()
}

// restartRequired reports whether settings outside token validation changed.
func restartRequired(prev, next *config.GateConfig) bool {
	if prev.Server != next.Server || prev.GRPC != next.GRPC {
		return true
	}
	a, b := prev.Auth, next.Auth
	if a.JWKSFetchTimeout != b.JWKSFetchTimeout ||
		a.JWKSCacheTTL != b.JWKSCacheTTL ||
		a.MinRefreshInterval != b.MinRefreshInterval {
		return true
	}
	return !reflect.DeepEqual(a.CircuitBreaker, b.CircuitBreaker) ||
		!reflect.DeepEqual(a.KeySetStore, b.KeySetStore)
}
