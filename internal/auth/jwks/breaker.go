package jwks

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// newBreaker builds the fetch breaker for one issuer. It trips after
// MaxFailures consecutive network failures and half-opens after Timeout.
func (r *Resolver) newBreaker(issuer string, cfg *BreakerConfig) *gobreaker.CircuitBreaker {
	maxFailures := safeUint32(cfg.MaxFailures)
	if maxFailures == 0 {
		maxFailures = 1
	}
	halfOpen := safeUint32(cfg.HalfOpenRequests)
	if halfOpen == 0 {
		halfOpen = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        issuer,
		MaxRequests: halfOpen,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrNetwork) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			level := r.logger.Info
			if to == gobreaker.StateOpen {
				level = r.logger.Warn
			}
			level("key set fetch circuit breaker state change",
				observability.String("issuer", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)

			r.metrics.SetBreakerState(name, int(to))

			_, span := tracer.Start(context.Background(), "jwks.breaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("jwks.issuer", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	})
}

// safeUint32 converts a non-negative int to uint32, clamping overflow.
func safeUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
