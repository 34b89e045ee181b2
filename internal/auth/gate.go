package auth

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/bearergate/internal/auth/jwt"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// Transport labels.
const (
	transportHTTP = "http"
	transportGRPC = "grpc"
)

// TokenValidator validates a raw bearer token.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*jwt.Principal, error)
}

// AccessRule is the binary outcome of a decision. The zero value denies.
type AccessRule int

// Access rules.
const (
	DenyAll AccessRule = iota
	AllowAll
)

// String returns the metric label for the rule.
func (r AccessRule) String() string {
	if r == AllowAll {
		return "allow"
	}
	return "deny"
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Rule AccessRule

	// Reason is ReasonAllowed, ReasonMissingCredentials or a jwt.Reason label.
	Reason string

	// Principal is set when Rule is AllowAll.
	Principal *jwt.Principal

	// Err is the *AuthError behind a denial.
	Err error
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Rule == AllowAll
}

// validatorRef boxes the interface for atomic.Pointer.
type validatorRef struct {
	TokenValidator
}

// Gate decides whether requests reach the protected resource.
type Gate struct {
	validator atomic.Pointer[validatorRef]
	logger    observability.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gate) {
		g.tracer = tracer
	}
}

// NewGate creates a gate that validates tokens with validator.
func NewGate(validator TokenValidator, opts ...Option) (*Gate, error) {
	if validator == nil {
		return nil, errors.New("token validator is required")
	}

	g := &Gate{
		logger: observability.NopLogger(),
	}
	g.validator.Store(&validatorRef{validator})

	for _, opt := range opts {
		opt(g)
	}

	if g.metrics == nil {
		g.metrics = NewMetrics("")
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("bearergate/auth")
	}

	return g, nil
}

// SetValidator replaces the validator used by subsequent decisions.
// Decisions already in flight finish with the previous one.
func (g *Gate) SetValidator(validator TokenValidator) error {
	if validator == nil {
		return errors.New("token validator is required")
	}
	g.validator.Store(&validatorRef{validator})
	return nil
}

// Decide evaluates the Authorization header of r.
func (g *Gate) Decide(r *http.Request) Decision {
	return g.decide(r.Context(), transportHTTP, r.Header.Get(HeaderAuthorization), r.Method, r.URL.Path)
}

// DecideContext evaluates the authorization metadata of a gRPC call.
func (g *Gate) DecideContext(ctx context.Context, fullMethod string) Decision {
	return g.decide(ctx, transportGRPC, authorizationFromGRPC(ctx), transportGRPC, fullMethod)
}

func (g *Gate) decide(ctx context.Context, transport, authorization, method, path string) Decision {
	ctx, span := g.tracer.Start(ctx, "auth.decide",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("auth.transport", transport)),
	)
	defer span.End()

	start := time.Now()
	d := g.evaluate(ctx, authorization)
	g.metrics.RecordDecision(transport, d, time.Since(start))

	span.SetAttributes(
		attribute.String("auth.decision", d.Rule.String()),
		attribute.String("auth.reason", d.Reason),
	)
	if !d.Allowed() {
		span.SetStatus(codes.Error, d.Reason)
		g.logDenial(ctx, d, method, path)
	}

	return d
}

func (g *Gate) evaluate(ctx context.Context, authorization string) Decision {
	token, ok := ParseBearer(authorization)
	if !ok {
		return Decision{
			Rule:   DenyAll,
			Reason: ReasonMissingCredentials,
			Err:    NewAuthError(ReasonMissingCredentials, ErrNoCredentials),
		}
	}

	principal, err := g.validator.Load().Validate(ctx, token)
	if err != nil {
		reason := jwt.ReasonOf(err).String()
		return Decision{
			Rule:   DenyAll,
			Reason: reason,
			Err:    NewAuthError(reason, err),
		}
	}

	return Decision{
		Rule:      AllowAll,
		Reason:    ReasonAllowed,
		Principal: principal,
	}
}

func (g *Gate) logDenial(ctx context.Context, d Decision, method, path string) {
	fields := []observability.Field{
		observability.String("reason", d.Reason),
		observability.String("method", method),
		observability.String("path", path),
	}

	var verr *jwt.ValidationError
	if errors.As(d.Err, &verr) {
		if verr.Issuer != "" {
			fields = append(fields, observability.String("issuer", verr.Issuer))
		}
		if verr.Cause != nil {
			fields = append(fields, observability.Error(verr.Cause))
		}
	}

	g.logger.WithContext(ctx).Warn("access denied", fields...)
}
