package jwks

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/bearergate/internal/auth/jwks/jwkstest"
	"github.com/vyrodovalexey/bearergate/internal/cache"
	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
	"github.com/vyrodovalexey/bearergate/internal/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		FetchTimeout: 2 * time.Second,
		CacheTTL:     time.Minute,
		PrefetchRetry: &retry.Config{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}
}

func newTestResolver(cfg Config, opts ...Option) *Resolver {
	opts = append([]Option{WithLogger(observability.NopLogger())}, opts...)
	return NewResolver(cfg, opts...)
}

func TestResolver_ResolvesAndCaches(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	r := newTestResolver(testConfig())
	ctx := context.Background()

	key, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)
	assert.True(t, key.Equal(&iss.PrivateKey().PublicKey))

	again, err := r.ResolveKey(ctx, iss.URL()+"/", iss.KeyID())
	require.NoError(t, err)
	assert.Same(t, key, again)
	assert.Equal(t, int64(1), iss.Requests())

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.lookupsTotal.WithLabelValues(lookupHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.fetchTotal.WithLabelValues(iss.URL(), "success")))
}

func TestResolver_InputErrorsDoNotFetch(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	r := newTestResolver(testConfig())
	ctx := context.Background()

	tests := []struct {
		name   string
		issuer string
		kid    string
		kind   error
	}{
		{name: "empty kid", issuer: iss.URL(), kid: "", kind: ErrKeyNotFound},
		{name: "relative issuer", issuer: "issuer.example", kid: "k", kind: ErrNetwork},
		{name: "unsupported scheme", issuer: "ftp://issuer.example/", kid: "k", kind: ErrNetwork},
		{name: "missing host", issuer: "https:///path", kid: "k", kind: ErrNetwork},
		{name: "unparseable", issuer: "http://[::1", kid: "k", kind: ErrNetwork},
	}

	for _, tt := range tests {
		_, err := r.ResolveKey(ctx, tt.issuer, tt.kid)
		require.Error(t, err, tt.name)
		assert.ErrorIs(t, err, tt.kind, tt.name)

		var re *ResolveError
		require.ErrorAs(t, err, &re, tt.name)
		assert.Equal(t, tt.issuer, re.Issuer)
	}

	assert.Zero(t, iss.Requests())
}

func TestResolver_FailureKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, iss *jwkstest.Issuer) string
		kind  error
	}{
		{
			name:  "unknown kid",
			setup: func(*testing.T, *jwkstest.Issuer) string { return "nope" },
			kind:  ErrKeyNotFound,
		},
		{
			name: "non RSA key",
			setup: func(t *testing.T, iss *jwkstest.Issuer) string {
				iss.PublishECKey(t, "ec-1")
				return "ec-1"
			},
			kind: ErrMalformedKeySet,
		},
		{
			name: "undecodable document",
			setup: func(_ *testing.T, iss *jwkstest.Issuer) string {
				iss.ServeBody([]byte("<html>not a key set</html>"))
				return iss.KeyID()
			},
			kind: ErrMalformedKeySet,
		},
		{
			name: "server error",
			setup: func(_ *testing.T, iss *jwkstest.Issuer) string {
				iss.FailWith(http.StatusInternalServerError)
				return iss.KeyID()
			},
			kind: ErrNetwork,
		},
		{
			name: "not found",
			setup: func(_ *testing.T, iss *jwkstest.Issuer) string {
				iss.FailWith(http.StatusNotFound)
				return iss.KeyID()
			},
			kind: ErrNetwork,
		},
		{
			name: "unreachable",
			setup: func(_ *testing.T, iss *jwkstest.Issuer) string {
				iss.Close()
				return iss.KeyID()
			},
			kind: ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			iss := jwkstest.NewIssuer(t)
			kid := tt.setup(t, iss)
			r := newTestResolver(testConfig())

			_, err := r.ResolveKey(context.Background(), iss.URL(), kid)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestResolver_FetchTimeout(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	iss.SetDelay(500 * time.Millisecond)

	cfg := testConfig()
	cfg.FetchTimeout = 50 * time.Millisecond
	r := newTestResolver(cfg)

	start := time.Now()
	_, err := r.ResolveKey(context.Background(), iss.URL(), iss.KeyID())
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorContains(t, err, "timed out")
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestResolver_ServesStaleKeyWhenRefreshFails(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	clock := newFakeClock()
	r := newTestResolver(testConfig(), WithClock(clock.Now))
	ctx := context.Background()

	key, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	iss.FailWith(http.StatusServiceUnavailable)

	stale, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)
	assert.Same(t, key, stale)
	assert.Equal(t, int64(2), iss.Requests())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.lookupsTotal.WithLabelValues(lookupStale)))

	iss.Recover()
	_, err = r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)
	assert.Equal(t, int64(3), iss.Requests())
}

func TestResolver_RotationEvictsWithdrawnKey(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	clock := newFakeClock()
	r := newTestResolver(testConfig(), WithClock(clock.Now))
	ctx := context.Background()

	oldKid := iss.KeyID()
	_, err := r.ResolveKey(ctx, iss.URL(), oldKid)
	require.NoError(t, err)

	newKid := iss.Rotate(t)

	// Unknown kid in a fresh set triggers a refetch.
	key, err := r.ResolveKey(ctx, iss.URL(), newKid)
	require.NoError(t, err)
	assert.True(t, key.Equal(&iss.PrivateKey().PublicKey))
	assert.Equal(t, int64(2), iss.Requests())

	_, err = r.ResolveKey(ctx, iss.URL(), oldKid)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestResolver_RateLimitsUnknownKidStorm(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	cfg := testConfig()
	cfg.MinRefreshInterval = time.Hour
	r := newTestResolver(cfg)
	ctx := context.Background()

	_, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := r.ResolveKey(ctx, iss.URL(), "forged-kid")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	}
	assert.Equal(t, int64(1), iss.Requests())

	_, err = r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	assert.NoError(t, err)
}

func TestResolver_ConcurrentMissesFetchOnce(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	iss.SetDelay(100 * time.Millisecond)
	cfg := testConfig()
	cfg.MinRefreshInterval = time.Hour
	r := newTestResolver(cfg)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ResolveKey(context.Background(), iss.URL(), iss.KeyID())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), iss.Requests())
}

func TestResolver_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	iss.SetDelay(200 * time.Millisecond)
	cfg := testConfig()
	cfg.MinRefreshInterval = time.Hour
	r := newTestResolver(cfg)

	cancelled, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var errCancelled, errHealthy error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errCancelled = r.ResolveKey(cancelled, iss.URL(), iss.KeyID())
	}()
	go func() {
		defer wg.Done()
		_, errHealthy = r.ResolveKey(context.Background(), iss.URL(), iss.KeyID())
	}()
	wg.Wait()

	assert.ErrorIs(t, errCancelled, ErrNetwork)
	assert.ErrorIs(t, errCancelled, context.DeadlineExceeded)
	assert.NoError(t, errHealthy)

	_, err := r.ResolveKey(context.Background(), iss.URL(), iss.KeyID())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), iss.Requests())
}

func TestResolver_FailedFetchDoesNotBlockNextFetch(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	iss.FailWith(http.StatusServiceUnavailable)
	cfg := testConfig()
	cfg.MinRefreshInterval = time.Hour
	r := newTestResolver(cfg)
	ctx := context.Background()

	_, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.ErrorIs(t, err, ErrNetwork)

	iss.Recover()
	_, err = r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), iss.Requests())

	// The successful fetch spent the refresh budget.
	_, err = r.ResolveKey(ctx, iss.URL(), "unknown-kid")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int64(2), iss.Requests())
}

func TestFlightKey_SeparatesLoadModes(t *testing.T) {
	t.Parallel()

	keys := map[string]bool{}
	for _, useStore := range []bool{false, true} {
		for _, limited := range []bool{false, true} {
			keys[flightKey("https://issuer.example", useStore, limited)] = true
		}
	}
	assert.Len(t, keys, 4)
}

func TestResolver_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	iss.FailWith(http.StatusBadGateway)

	cfg := testConfig()
	cfg.CircuitBreaker = &BreakerConfig{MaxFailures: 2, Timeout: time.Hour}
	r := newTestResolver(cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
		assert.ErrorIs(t, err, ErrNetwork)
	}
	require.Equal(t, int64(2), iss.Requests())

	_, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorContains(t, err, "circuit breaker open")
	assert.Equal(t, int64(2), iss.Requests())

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "open", stats[0].BreakerState)
	assert.Equal(t, uint64(3), stats[0].Fetches)
	assert.Equal(t, uint64(3), stats[0].Errors)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.breakerState.WithLabelValues(iss.URL())))
}

func TestResolver_BreakerIgnoresMalformedDocuments(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	iss.ServeBody([]byte(`{"keys": 5}`))

	cfg := testConfig()
	cfg.CircuitBreaker = &BreakerConfig{MaxFailures: 1, Timeout: time.Hour}
	r := newTestResolver(cfg)

	for i := 0; i < 3; i++ {
		_, err := r.ResolveKey(context.Background(), iss.URL(), iss.KeyID())
		assert.ErrorIs(t, err, ErrMalformedKeySet)
	}
	assert.Equal(t, int64(3), iss.Requests())
	assert.Equal(t, "closed", r.Stats()[0].BreakerState)
}

func TestResolver_InvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	r := newTestResolver(testConfig())
	ctx := context.Background()

	_, err := r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)

	r.Invalidate(iss.URL()+"/", iss.KeyID())
	r.Invalidate(iss.URL(), iss.KeyID())
	r.Invalidate("https://never-seen.example", "k")

	_, err = r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)
	_, err = r.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)

	assert.Equal(t, int64(2), iss.Requests())
}

func TestResolver_SharesDocumentsThroughRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	newStore := func() cache.Cache {
		store, err := cache.New(&config.KeySetStoreConfig{
			Type:  config.StoreTypeRedis,
			TTL:   config.Duration(time.Minute),
			Redis: &config.RedisConfig{URL: "redis://" + mr.Addr(), KeyPrefix: "bg:"},
		}, observability.NopLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	iss := jwkstest.NewIssuer(t)
	ctx := context.Background()

	first := newTestResolver(testConfig(), WithStore(newStore()))
	_, err := first.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)
	assert.True(t, mr.Exists("bg:"+cache.KeySetKey(iss.URL())))

	second := newTestResolver(testConfig(), WithStore(newStore()))
	key, err := second.ResolveKey(ctx, iss.URL(), iss.KeyID())
	require.NoError(t, err)
	assert.True(t, key.Equal(&iss.PrivateKey().PublicKey))

	assert.Equal(t, int64(1), iss.Requests())
}

func TestResolver_StoreDocumentWithoutKidFallsBackToNetwork(t *testing.T) {
	t.Parallel()

	iss := jwkstest.NewIssuer(t)
	store, err := cache.New(&config.KeySetStoreConfig{Type: config.StoreTypeMemory}, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Set(context.Background(), cache.KeySetKey(iss.URL()), iss.Document(t), 0))
	newKid := iss.Rotate(t)

	r := newTestResolver(testConfig(), WithStore(store))
	_, err = r.ResolveKey(context.Background(), iss.URL(), newKid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), iss.Requests())
}

func TestResolver_StoreErrorsAreIgnored(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	store, err := cache.New(&config.KeySetStoreConfig{
		Type:  config.StoreTypeRedis,
		Redis: &config.RedisConfig{URL: "redis://" + mr.Addr()},
	}, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	mr.Close()

	iss := jwkstest.NewIssuer(t)
	r := newTestResolver(testConfig(), WithStore(store))

	_, err = r.ResolveKey(context.Background(), iss.URL(), iss.KeyID())
	assert.NoError(t, err)
}

func TestResolver_Prefetch(t *testing.T) {
	t.Parallel()

	good := jwkstest.NewIssuer(t)
	flaky := jwkstest.NewIssuer(t)
	flaky.FailWith(http.StatusInternalServerError)
	broken := jwkstest.NewIssuer(t)
	broken.ServeBody([]byte("not json"))

	r := newTestResolver(testConfig())
	ctx := context.Background()

	err := r.Prefetch(ctx, []string{good.URL() + "/", flaky.URL(), broken.URL(), "not-a-url"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, ErrMalformedKeySet)

	assert.Equal(t, int64(1), good.Requests())
	assert.Equal(t, int64(3), flaky.Requests())
	assert.Equal(t, int64(1), broken.Requests())

	_, err = r.ResolveKey(ctx, good.URL(), good.KeyID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), good.Requests())

	assert.NoError(t, r.Prefetch(ctx, []string{good.URL()}))
}

func TestResolver_Stats(t *testing.T) {
	t.Parallel()

	a := jwkstest.NewIssuer(t)
	b := jwkstest.NewIssuer(t)
	b.AddKey(t)

	clock := newFakeClock()
	r := newTestResolver(testConfig(), WithClock(clock.Now))
	ctx := context.Background()

	_, err := r.ResolveKey(ctx, a.URL(), a.KeyID())
	require.NoError(t, err)
	_, err = r.ResolveKey(ctx, b.URL(), b.KeyID())
	require.NoError(t, err)

	stats := r.Stats()
	require.Len(t, stats, 2)

	byIssuer := map[string]IssuerStats{}
	for _, s := range stats {
		byIssuer[s.Issuer] = s
	}
	assert.Equal(t, 1, byIssuer[a.URL()].Keys)
	assert.Equal(t, 2, byIssuer[b.URL()].Keys)
	assert.Equal(t, uint64(1), byIssuer[b.URL()].Fetches)
	assert.True(t, byIssuer[a.URL()].LastRefresh.Equal(clock.Now()))
	assert.Empty(t, byIssuer[a.URL()].BreakerState)
}

func TestKeySetURL(t *testing.T) {
	t.Parallel()

	got, err := KeySetURL("https://issuer.example/")
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example/.well-known/jwks.json", got)

	got, err = KeySetURL("http://127.0.0.1:8080/realms/x")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/realms/x/.well-known/jwks.json", got)

	_, err = KeySetURL("mailto:someone@example.com")
	assert.Error(t, err)
}
