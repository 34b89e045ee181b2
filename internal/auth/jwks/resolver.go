package jwks

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/bearergate/internal/cache"
	"github.com/vyrodovalexey/bearergate/internal/observability"
	"github.com/vyrodovalexey/bearergate/internal/retry"
)

var tracer = otel.Tracer("bearergate/jwks")

// Resolver resolves (issuer, kid) pairs to RSA public keys.
type Resolver struct {
	cfg     Config
	client  *http.Client
	logger  observability.Logger
	metrics *Metrics
	store   cache.Cache
	now     func() time.Time

	snap atomic.Pointer[snapshot]
	// mu serializes snapshot writers. Readers only Load.
	mu    sync.Mutex
	group singleflight.Group

	issuersMu sync.Mutex
	issuers   map[string]*issuerState
}

// issuerState holds the per-issuer fetch controls and counters.
type issuerState struct {
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	fetches     atomic.Uint64
	errors      atomic.Uint64
	lastRefresh atomic.Int64
}

// IssuerStats is a point-in-time view of one issuer's cache entry.
type IssuerStats struct {
	Issuer       string    `json:"issuer"`
	Keys         int       `json:"keys"`
	Fetches      uint64    `json:"fetches"`
	Errors       uint64    `json:"errors"`
	LastRefresh  time.Time `json:"lastRefresh"`
	BreakerState string    `json:"breakerState,omitempty"`
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:     cfg.withDefaults(),
		client:  &http.Client{},
		logger:  observability.NopLogger(),
		now:     time.Now,
		issuers: make(map[string]*issuerState),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.metrics == nil {
		r.metrics = NewMetrics("")
	}
	r.snap.Store(emptySnapshot())

	return r
}

// ResolveKey returns the RSA public key published by issuer under kid.
//
// Errors are *ResolveError values whose Kind is ErrNetwork, ErrKeyNotFound
// or ErrMalformedKeySet.
func (r *Resolver) ResolveKey(ctx context.Context, issuer, kid string) (*rsa.PublicKey, error) {
	ctx, span := tracer.Start(ctx, "jwks.resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("jwks.issuer", issuer),
			attribute.String("jwks.kid", kid),
		),
	)
	defer span.End()

	key, err := r.resolve(ctx, issuer, kid)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}
	return key, nil
}

func (r *Resolver) resolve(ctx context.Context, issuer, kid string) (*rsa.PublicKey, error) {
	jwksURL, err := KeySetURL(issuer)
	if err != nil {
		return nil, newResolveError(ErrNetwork, issuer, kid, err)
	}
	if kid == "" {
		return nil, newResolveError(ErrKeyNotFound, issuer, kid, errors.New("token header has no kid"))
	}

	norm := NormalizeIssuer(issuer)
	cached := r.snap.Load().get(norm)
	fresh := cached != nil && cached.fresh(r.now(), r.cfg.CacheTTL)

	if fresh && !cached.isInvalidated(kid) {
		key, lerr := cached.lookup(kid)
		switch {
		case lerr == nil:
			r.metrics.RecordLookup(lookupHit)
			return key, nil
		case errors.Is(lerr, ErrMalformedKeySet):
			r.metrics.RecordLookup(lookupHit)
			return nil, newResolveError(ErrMalformedKeySet, issuer, kid, lerr)
		}
		// Unknown kid in a fresh set: the issuer may have rotated keys.
	}
	r.metrics.RecordLookup(lookupMiss)

	ks, err := r.refresh(ctx, norm, jwksURL, kid, !fresh, true)
	if err != nil {
		// Another caller may have installed a newer set since cached was read.
		latest := r.snap.Load().get(norm)
		if latest != nil && latest != cached && latest.fresh(r.now(), r.cfg.CacheTTL) {
			if key, lerr := latest.lookup(kid); lerr == nil {
				r.metrics.RecordLookup(lookupHit)
				return key, nil
			}
		}
		if latest != nil {
			if key, lerr := latest.lookup(kid); lerr == nil {
				r.serveStale(norm, kid, err)
				return key, nil
			}
		}
		if errors.Is(err, errRateLimited) {
			return nil, newResolveError(ErrKeyNotFound, issuer, kid, err)
		}
		return nil, newResolveError(KindOf(err), issuer, kid, err)
	}

	key, err := ks.lookup(kid)
	if err != nil {
		return nil, newResolveError(KindOf(err), issuer, kid, err)
	}
	return key, nil
}

func (r *Resolver) serveStale(issuer, kid string, cause error) {
	r.metrics.RecordLookup(lookupStale)
	if errors.Is(cause, errRateLimited) {
		r.logger.Debug("key set refresh rate limited, serving cached key",
			observability.String("issuer", issuer),
			observability.String("kid", kid),
		)
		return
	}
	r.logger.Warn("key set refresh failed, serving cached key",
		observability.String("issuer", issuer),
		observability.String("kid", kid),
		observability.Error(cause),
	)
}

// refresh loads the issuer's key set, collapsing concurrent callers into
// one load. useStore consults the shared document store first; limited
// applies the per-issuer refresh limiter to network fetches. Callers that
// differ in useStore or limited never share a load. Callers sharing a load
// share the first caller's kid for the store-versus-network choice.
//
// The shared load is detached from each caller's cancellation and bounded
// by FetchTimeout; a caller whose ctx ends stops waiting without
// affecting the others.
func (r *Resolver) refresh(
	ctx context.Context, issuer, jwksURL, kid string, useStore, limited bool,
) (*keySet, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(flightKey(issuer, useStore, limited), func() (interface{}, error) {
		return r.load(shared, issuer, jwksURL, kid, useStore, limited)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keySet), nil
	}
}

func flightKey(issuer string, useStore, limited bool) string {
	return fmt.Sprintf("%s|store=%t|limited=%t", issuer, useStore, limited)
}

func (r *Resolver) load(
	ctx context.Context, issuer, jwksURL, kid string, useStore, limited bool,
) (*keySet, error) {
	if useStore {
		if ks := r.loadFromStore(ctx, issuer); ks != nil {
			if _, err := ks.lookup(kid); kid == "" || !errors.Is(err, ErrKeyNotFound) {
				r.install(issuer, ks)
				return ks, nil
			}
		}
	}

	// The limiter token is spent only by a fetch that installs a key set,
	// so a failed fetch never delays the next one.
	st := r.state(issuer)
	if limited && st.limiter.Tokens() < 1 {
		return nil, errRateLimited
	}

	st.fetches.Add(1)
	body, err := r.fetchGuarded(ctx, st, issuer, jwksURL)
	if err != nil {
		st.errors.Add(1)
		return nil, err
	}

	ks, err := parseKeySet(body, r.now())
	if err != nil {
		st.errors.Add(1)
		return nil, err
	}

	if limited {
		st.limiter.Allow()
	}
	r.install(issuer, ks)
	r.saveToStore(ctx, issuer, body)

	r.logger.Info("key set refreshed",
		observability.String("issuer", issuer),
		observability.Int("keys", len(ks.keys)),
		observability.Int("ignored", len(ks.foreign)),
	)
	return ks, nil
}

func (r *Resolver) fetchGuarded(ctx context.Context, st *issuerState, issuer, jwksURL string) ([]byte, error) {
	if st.breaker == nil {
		return r.fetchDocument(ctx, issuer, jwksURL)
	}

	v, err := st.breaker.Execute(func() (interface{}, error) {
		return r.fetchDocument(ctx, issuer, jwksURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker open: %w", ErrNetwork, err)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// install publishes ks as issuer's key set. Any previously cached kid
// absent from ks is dropped with it.
func (r *Resolver) install(issuer string, ks *keySet) {
	r.mu.Lock()
	r.snap.Store(r.snap.Load().with(issuer, ks))
	r.mu.Unlock()

	r.state(issuer).lastRefresh.Store(ks.fetchedAt.UnixNano())
	r.metrics.SetCachedKeys(issuer, len(ks.keys))
}

func (r *Resolver) loadFromStore(ctx context.Context, issuer string) *keySet {
	if r.store == nil {
		return nil
	}

	data, err := r.store.Get(ctx, cache.KeySetKey(issuer))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, cache.ErrCacheDisabled) {
			r.logger.Warn("key set store read failed",
				observability.String("issuer", issuer),
				observability.Error(err),
			)
		}
		return nil
	}

	ks, err := parseKeySet(data, r.now())
	if err != nil {
		r.logger.Warn("discarding malformed key set from store",
			observability.String("issuer", issuer),
			observability.Error(err),
		)
		return nil
	}

	r.logger.Debug("key set loaded from store", observability.String("issuer", issuer))
	return ks
}

func (r *Resolver) saveToStore(ctx context.Context, issuer string, body []byte) {
	if r.store == nil {
		return
	}
	if err := r.store.Set(ctx, cache.KeySetKey(issuer), body, 0); err != nil &&
		!errors.Is(err, cache.ErrCacheDisabled) {
		r.logger.Warn("key set store write failed",
			observability.String("issuer", issuer),
			observability.Error(err),
		)
	}
}

func (r *Resolver) state(issuer string) *issuerState {
	r.issuersMu.Lock()
	defer r.issuersMu.Unlock()

	st, ok := r.issuers[issuer]
	if ok {
		return st
	}

	limit := rate.Inf
	if r.cfg.MinRefreshInterval > 0 {
		limit = rate.Every(r.cfg.MinRefreshInterval)
	}
	st = &issuerState{limiter: rate.NewLimiter(limit, 1)}
	if r.cfg.CircuitBreaker != nil {
		st.breaker = r.newBreaker(issuer, r.cfg.CircuitBreaker)
		r.metrics.SetBreakerState(issuer, int(gobreaker.StateClosed))
	}
	r.issuers[issuer] = st
	return st
}

// Invalidate marks (issuer, kid) for refresh on its next lookup. The
// cached key keeps being served if that refresh fails.
func (r *Resolver) Invalidate(issuer, kid string) {
	norm := NormalizeIssuer(issuer)

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	ks := cur.get(norm)
	if ks == nil || ks.isInvalidated(kid) {
		return
	}
	r.snap.Store(cur.with(norm, ks.withInvalidated(kid)))

	r.logger.Debug("cached key invalidated",
		observability.String("issuer", norm),
		observability.String("kid", kid),
	)
}

// Prefetch loads the key sets of issuers, retrying transient failures
// with exponential backoff. Failures are logged and returned joined; the
// resolver stays usable and fetches lazily.
func (r *Resolver) Prefetch(ctx context.Context, issuers []string) error {
	var errs []error

	for _, issuer := range issuers {
		jwksURL, err := KeySetURL(issuer)
		if err != nil {
			errs = append(errs, newResolveError(ErrNetwork, issuer, "", err))
			continue
		}
		norm := NormalizeIssuer(issuer)

		var ks *keySet
		err = retry.Do(ctx, r.cfg.PrefetchRetry, func(ctx context.Context) error {
			var loadErr error
			ks, loadErr = r.refresh(ctx, norm, jwksURL, "", true, false)
			if errors.Is(loadErr, ErrMalformedKeySet) {
				return retry.Permanent(loadErr)
			}
			return loadErr
		}, &retry.Options{
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				r.logger.Debug("retrying key set prefetch",
					observability.String("issuer", norm),
					observability.Int("attempt", attempt),
					observability.Duration("backoff", backoff),
					observability.Error(err),
				)
			},
		})
		if err != nil {
			r.logger.Warn("key set prefetch failed",
				observability.String("issuer", norm),
				observability.Error(err),
			)
			errs = append(errs, newResolveError(KindOf(err), issuer, "", err))
			continue
		}

		r.logger.Info("key set prefetched",
			observability.String("issuer", norm),
			observability.Int("keys", len(ks.keys)),
		)
	}

	return errors.Join(errs...)
}

// Stats returns per-issuer cache statistics sorted by issuer.
func (r *Resolver) Stats() []IssuerStats {
	snap := r.snap.Load()

	r.issuersMu.Lock()
	names := make(map[string]struct{}, len(r.issuers)+len(snap.sets))
	for name := range r.issuers {
		names[name] = struct{}{}
	}
	states := make(map[string]*issuerState, len(r.issuers))
	for name, st := range r.issuers {
		states[name] = st
	}
	r.issuersMu.Unlock()

	for name := range snap.sets {
		names[name] = struct{}{}
	}

	out := make([]IssuerStats, 0, len(names))
	for name := range names {
		s := IssuerStats{Issuer: name}
		if ks := snap.get(name); ks != nil {
			s.Keys = len(ks.keys)
		}
		if st, ok := states[name]; ok {
			s.Fetches = st.fetches.Load()
			s.Errors = st.errors.Load()
			if ns := st.lastRefresh.Load(); ns != 0 {
				s.LastRefresh = time.Unix(0, ns)
			}
			if st.breaker != nil {
				s.BreakerState = st.breaker.State().String()
			}
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Issuer < out[j].Issuer })
	return out
}
