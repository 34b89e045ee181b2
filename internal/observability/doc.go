// Package observability provides structured logging, Prometheus metrics
// and OpenTelemetry tracing for bearergate.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Warn("request denied",
//	    observability.String("reason", "expired"),
//	)
//
// # Metrics
//
// Metrics owns the registry served on /metrics. Component packages
// register their collectors into Metrics.Registry().
//
// # Tracing
//
// NewTracer installs an OTLP/gRPC exporter when an endpoint is configured
// and routes SDK diagnostics through the Logger via go-logr/zapr.
package observability
