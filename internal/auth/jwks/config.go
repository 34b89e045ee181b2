package jwks

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/bearergate/internal/cache"
	"github.com/vyrodovalexey/bearergate/internal/observability"
	"github.com/vyrodovalexey/bearergate/internal/retry"
)

// Default resolver settings.
const (
	DefaultFetchTimeout       = 5 * time.Second
	DefaultCacheTTL           = 10 * time.Minute
	DefaultMinRefreshInterval = 10 * time.Second

	// WellKnownPath is appended to the issuer to form the key set URL.
	WellKnownPath = "/.well-known/jwks.json"

	// maxDocumentSize caps the key set response body.
	maxDocumentSize = 1 << 20
	// maxErrorBodySize caps the body quoted in non-2xx errors.
	maxErrorBodySize = 1024
)

// Config configures a Resolver.
type Config struct {
	// FetchTimeout bounds a single key set request.
	FetchTimeout time.Duration

	// CacheTTL is how long a fetched key set is served without refresh.
	CacheTTL time.Duration

	// MinRefreshInterval is the minimum spacing of refreshes per issuer.
	// Zero disables the limiter.
	MinRefreshInterval time.Duration

	// CircuitBreaker guards fetches per issuer. Nil disables it.
	CircuitBreaker *BreakerConfig

	// PrefetchRetry controls Prefetch attempts. Nil uses retry defaults.
	PrefetchRetry *retry.Config
}

// BreakerConfig configures the per-issuer circuit breaker.
type BreakerConfig struct {
	MaxFailures      int
	Timeout          time.Duration
	HalfOpenRequests int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:       DefaultFetchTimeout,
		CacheTTL:           DefaultCacheTTL,
		MinRefreshInterval: DefaultMinRefreshInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.MinRefreshInterval < 0 {
		c.MinRefreshInterval = 0
	}
	return c
}

// Option is a functional option for the resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = metrics
	}
}

// WithHTTPClient sets the client used for key set requests. The
// per-request timeout still applies.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithStore shares raw key set documents through store.
func WithStore(store cache.Cache) Option {
	return func(r *Resolver) {
		r.store = store
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}
