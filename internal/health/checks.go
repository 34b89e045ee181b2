package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/bearergate/internal/auth/jwks"
	"github.com/vyrodovalexey/bearergate/internal/cache"
)

// probeKey is looked up in the key set store by StoreCheck.
const probeKey = "health:probe"

// StatsSource reports per-issuer key set cache state.
type StatsSource interface {
	Stats() []jwks.IssuerStats
}

// KeySetCheck reports the key set cache state. When prefetch was requested
// the service is unready until at least one issuer has cached keys. Issuers
// whose fetch breaker is open degrade the result.
func KeySetCheck(source StatsSource, prefetchRequested bool) CheckFunc {
	return func(context.Context) Check {
		stats := source.Stats()

		var cached int
		var open []string
		for _, s := range stats {
			if s.Keys > 0 {
				cached++
			}
			if s.BreakerState == gobreaker.StateOpen.String() {
				open = append(open, s.Issuer)
			}
		}

		if prefetchRequested && cached == 0 {
			return Check{Status: StatusUnhealthy, Message: "no issuer has a cached key set"}
		}
		if len(open) > 0 {
			return Check{
				Status:  StatusDegraded,
				Message: "key set fetch circuit open for " + strings.Join(open, ", "),
			}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d issuer(s) cached", cached)}
	}
}

// StoreCheck probes the shared key set store. A failing store degrades the
// service since the resolver falls back to fetching from the network.
func StoreCheck(store cache.Cache) CheckFunc {
	return func(ctx context.Context) Check {
		if store == nil {
			return Check{Status: StatusHealthy, Message: "disabled"}
		}
		if _, err := store.Exists(ctx, probeKey); err != nil {
			return Check{Status: StatusDegraded, Message: err.Error()}
		}
		if r, ok := store.(cache.StatsReporter); ok {
			return Check{Status: StatusHealthy, Message: fmt.Sprintf("hit rate %.1f%%", r.Stats().HitRate())}
		}
		return Check{Status: StatusHealthy}
	}
}
