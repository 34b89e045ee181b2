package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/bearergate/internal/auth/jwks"
	"github.com/vyrodovalexey/bearergate/internal/auth/jwks/jwkstest"
	"github.com/vyrodovalexey/bearergate/internal/auth/jwt"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

const testAudience = "api-x"

// fakeValidator accepts one token and counts calls.
type fakeValidator struct {
	accept string
	err    error
	calls  atomic.Int32

	mu     sync.Mutex
	tokens []string
}

func (f *fakeValidator) Validate(_ context.Context, token string) (*jwt.Principal, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if token == f.accept && f.err == nil {
		return &jwt.Principal{Issuer: "https://issuer.example/", Subject: "user-1"}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, &jwt.ValidationError{Reason: jwt.ReasonSignatureInvalid}
}

func (f *fakeValidator) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func newTestGate(t *testing.T, v TokenValidator, opts ...Option) *Gate {
	t.Helper()
	g, err := NewGate(v, opts...)
	require.NoError(t, err)
	return g
}

// stack wires a real resolver and validator against a test issuer.
type stack struct {
	issuer *jwkstest.Issuer
	gate   *Gate
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()

	iss := jwkstest.NewIssuer(t)
	resolver := jwks.NewResolver(jwks.Config{FetchTimeout: 2 * time.Second, CacheTTL: time.Minute})
	v, err := jwt.NewValidator(jwt.Config{
		AllowedIssuers:   []string{iss.URL() + "/"},
		RequiredAudience: testAudience,
	}, resolver)
	require.NoError(t, err)

	return &stack{issuer: iss, gate: newTestGate(t, v, opts...)}
}

func (s *stack) token(t *testing.T, ttl time.Duration) string {
	t.Helper()
	return s.issuer.Sign(t, s.issuer.Claims("user-1", testAudience, ttl))
}

func requestWithAuth(value string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	if value != "" {
		r.Header.Set(HeaderAuthorization, value)
	}
	return r
}

func TestNewGate_RequiresValidator(t *testing.T) {
	t.Parallel()

	g, err := NewGate(nil)
	assert.Nil(t, g)
	assert.Error(t, err)
}

func TestGate_Decide(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{accept: "good"}
	g := newTestGate(t, v)

	tests := []struct {
		name       string
		header     string
		wantRule   AccessRule
		wantReason string
	}{
		{name: "valid token", header: "Bearer good", wantRule: AllowAll, wantReason: ReasonAllowed},
		{name: "lower case scheme", header: "bearer good", wantRule: AllowAll, wantReason: ReasonAllowed},
		{name: "upper case scheme", header: "BEARER good", wantRule: AllowAll, wantReason: ReasonAllowed},
		{name: "surrounding whitespace", header: "Bearer   good  ", wantRule: AllowAll, wantReason: ReasonAllowed},
		{name: "invalid token", header: "Bearer bad", wantRule: DenyAll, wantReason: "signature_invalid"},
		{name: "missing header", header: "", wantRule: DenyAll, wantReason: ReasonMissingCredentials},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantRule: DenyAll, wantReason: ReasonMissingCredentials},
		{name: "scheme only", header: "Bearer", wantRule: DenyAll, wantReason: ReasonMissingCredentials},
		{name: "empty token", header: "Bearer    ", wantRule: DenyAll, wantReason: ReasonMissingCredentials},
		{name: "no separator", header: "Bearergood", wantRule: DenyAll, wantReason: ReasonMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := g.Decide(requestWithAuth(tt.header))
			assert.Equal(t, tt.wantRule, d.Rule)
			assert.Equal(t, tt.wantReason, d.Reason)
			if tt.wantRule == AllowAll {
				require.NotNil(t, d.Principal)
				assert.Equal(t, "user-1", d.Principal.Subject)
				assert.NoError(t, d.Err)
			} else {
				assert.Nil(t, d.Principal)
				assert.True(t, errors.Is(d.Err, ErrAuthenticationFailed))
			}
		})
	}
}

func TestGate_MissingCredentialsSkipsValidator(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{accept: "good"}
	g := newTestGate(t, v)

	for _, header := range []string{"", "Basic abc", "Token good", "Bearer "} {
		d := g.Decide(requestWithAuth(header))
		assert.Equal(t, DenyAll, d.Rule)
		assert.True(t, errors.Is(d.Err, ErrNoCredentials))
	}
	assert.Zero(t, v.calls.Load())
}

func TestGate_PassesTrimmedToken(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{accept: "abc.def.ghi"}
	g := newTestGate(t, v)

	d := g.Decide(requestWithAuth("Bearer  abc.def.ghi "))
	assert.True(t, d.Allowed())
	assert.Equal(t, []string{"abc.def.ghi"}, v.Tokens())
}

func TestGate_ConcreteScenario(t *testing.T) {
	t.Parallel()

	s := newStack(t)

	d := s.gate.Decide(requestWithAuth("Bearer " + s.token(t, time.Hour)))
	assert.Equal(t, AllowAll, d.Rule)
	assert.Equal(t, "user-1", d.Principal.Subject)

	d = s.gate.Decide(requestWithAuth("Bearer " + s.token(t, -10*time.Second)))
	assert.Equal(t, DenyAll, d.Rule)
	assert.Equal(t, jwt.ReasonExpired.String(), d.Reason)
}

func TestGate_MissingHeaderMakesNoKeySetRequest(t *testing.T) {
	t.Parallel()

	s := newStack(t)

	for _, header := range []string{"", "Basic dXNlcg==", "Digest x"} {
		d := s.gate.Decide(requestWithAuth(header))
		assert.Equal(t, DenyAll, d.Rule)
	}
	assert.Zero(t, s.issuer.Requests())
}

func TestGate_SetValidator(t *testing.T) {
	t.Parallel()

	first := &fakeValidator{accept: "one"}
	second := &fakeValidator{accept: "two"}
	g := newTestGate(t, first)

	assert.True(t, g.Decide(requestWithAuth("Bearer one")).Allowed())
	assert.False(t, g.Decide(requestWithAuth("Bearer two")).Allowed())

	require.NoError(t, g.SetValidator(second))
	assert.False(t, g.Decide(requestWithAuth("Bearer one")).Allowed())
	assert.True(t, g.Decide(requestWithAuth("Bearer two")).Allowed())

	assert.Error(t, g.SetValidator(nil))
	assert.True(t, g.Decide(requestWithAuth("Bearer two")).Allowed())
}

func TestGate_SetValidatorConcurrent(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, &fakeValidator{accept: "good"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.True(t, g.Decide(requestWithAuth("Bearer good")).Allowed())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, g.SetValidator(&fakeValidator{accept: "good"}))
			}
		}()
	}
	wg.Wait()
}

func TestGate_LogsDenialWithoutToken(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	s := newStack(t, WithLogger(observability.NewLoggerFromZap(zap.New(core))))

	token := s.token(t, -time.Minute)
	r := requestWithAuth("Bearer " + token)
	r = r.WithContext(observability.ContextWithRequestID(r.Context(), "req-42"))

	d := s.gate.Decide(r)
	require.Equal(t, DenyAll, d.Rule)

	entries := logs.FilterMessage("access denied").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "expired", fields["reason"])
	assert.Equal(t, s.issuer.URL(), fields["issuer"])
	assert.Equal(t, "/orders", fields["path"])
	assert.Equal(t, http.MethodGet, fields["method"])
	assert.Equal(t, "req-42", fields["request_id"])

	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, token)
		for _, value := range entry.ContextMap() {
			if str, ok := value.(string); ok {
				assert.NotContains(t, str, token)
			}
		}
	}
}

func TestGate_AllowIsNotLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	g := newTestGate(t, &fakeValidator{accept: "good"}, WithLogger(observability.NewLoggerFromZap(zap.New(core))))

	assert.True(t, g.Decide(requestWithAuth("Bearer good")).Allowed())
	assert.Zero(t, logs.Len())
}

func TestGate_Metrics(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	metrics.Init()
	g := newTestGate(t, &fakeValidator{accept: "good"}, WithMetrics(metrics))

	g.Decide(requestWithAuth("Bearer good"))
	g.Decide(requestWithAuth("Bearer bad"))
	g.Decide(requestWithAuth(""))
	g.Decide(requestWithAuth(""))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisionsTotal.WithLabelValues("allow", ReasonAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisionsTotal.WithLabelValues("deny", "signature_invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decisionsTotal.WithLabelValues("deny", ReasonMissingCredentials)))
	assert.Zero(t, testutil.ToFloat64(metrics.decisionsTotal.WithLabelValues("deny", "expired")))
}

func TestGate_Tracing(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	g := newTestGate(t, &fakeValidator{accept: "good"}, WithTracer(tp.Tracer("test")))

	g.Decide(requestWithAuth("Bearer good"))
	g.Decide(requestWithAuth(""))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "auth.decide", span.Name)
	}

	attrs := func(i int) map[string]string {
		out := make(map[string]string)
		for _, kv := range spans[i].Attributes {
			out[string(kv.Key)] = kv.Value.Emit()
		}
		return out
	}
	assert.Equal(t, "allow", attrs(0)["auth.decision"])
	assert.Equal(t, "deny", attrs(1)["auth.decision"])
	assert.Equal(t, ReasonMissingCredentials, attrs(1)["auth.reason"])
}

func TestAccessRule_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "allow", AllowAll.String())
	assert.Equal(t, "deny", DenyAll.String())

	var zero AccessRule
	assert.Equal(t, DenyAll, zero)
	assert.False(t, Decision{}.Allowed())
}
