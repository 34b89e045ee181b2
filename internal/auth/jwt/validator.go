package jwt

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

var tracer = otel.Tracer("bearergate/jwt")

// Principal is the identity carried by a validated token.
type Principal struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	KeyID     string
}

// Validator validates bearer tokens. It is safe for concurrent use and
// holds no per-request state.
type Validator struct {
	issuers   map[string]struct{}
	audience  string
	method    jwt.SigningMethod
	skew      time.Duration
	parser    *jwt.Parser
	resolver  KeyResolver
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time
	algorithm string
}

// NewValidator creates a validator that resolves keys through resolver.
func NewValidator(cfg Config, resolver KeyResolver, opts ...Option) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, errors.New("key resolver is required")
	}

	alg := cfg.effectiveAlgorithm()
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}

	v := &Validator{
		issuers:   make(map[string]struct{}, len(cfg.AllowedIssuers)),
		audience:  cfg.RequiredAudience,
		method:    method,
		skew:      cfg.ClockSkew,
		parser:    jwt.NewParser(jwt.WithStrictDecoding()),
		resolver:  resolver,
		logger:    observability.NopLogger(),
		now:       time.Now,
		algorithm: alg,
	}
	for _, iss := range cfg.AllowedIssuers {
		v.issuers[normalizeIssuer(iss)] = struct{}{}
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.metrics == nil {
		v.metrics = NewMetrics("")
	}

	return v, nil
}

// Validate checks token and returns its principal. On rejection the
// error is a *ValidationError and the principal is nil.
func (v *Validator) Validate(ctx context.Context, token string) (*Principal, error) {
	ctx, span := tracer.Start(ctx, "jwt.validate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("jwt.algorithm", v.algorithm)),
	)
	defer span.End()

	start := time.Now()
	principal, err := v.validate(ctx, token)

	outcome := outcomeValid
	if err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		outcome = verr.Reason.String()

		span.SetAttributes(attribute.String("jwt.reason", outcome))
		if verr.Issuer != "" {
			span.SetAttributes(attribute.String("jwt.issuer", verr.Issuer))
		}
		span.SetStatus(codes.Error, outcome)

		v.logger.Debug("token rejected",
			observability.String("reason", outcome),
			observability.String("issuer", verr.Issuer),
			observability.Error(err),
		)
	} else {
		span.SetAttributes(
			attribute.String("jwt.issuer", principal.Issuer),
			attribute.String("jwt.kid", principal.KeyID),
		)
	}
	v.metrics.RecordValidation(outcome, time.Since(start))

	return principal, err
}

func (v *Validator) validate(ctx context.Context, raw string) (*Principal, error) {
	// Everything after the second dot is the signature segment, so a
	// damaged signature is reported as such rather than as a malformed token.
	segments := strings.SplitN(raw, ".", 3)
	if len(segments) != 3 {
		return nil, newValidationError(ReasonMalformed, "", jwt.ErrTokenMalformed)
	}
	signingString := segments[0] + "." + segments[1]

	claims := &jwt.RegisteredClaims{}
	token, _, err := v.parser.ParseUnverified(signingString+".", claims)
	// An unknown or missing alg header only makes the token unverifiable
	// by golang-jwt's own lookup. The configured method is used instead.
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, newValidationError(ReasonMalformed, "", err)
	}
	if claims.ExpiresAt == nil {
		return nil, newValidationError(ReasonMalformed, "", errors.New("token has no exp claim"))
	}

	issuer := claims.Issuer
	if _, ok := v.issuers[normalizeIssuer(issuer)]; !ok || issuer == "" {
		return nil, newValidationError(ReasonUntrustedIssuer, issuer, nil)
	}

	now := v.now()
	if now.After(claims.ExpiresAt.Add(v.skew)) {
		return nil, newValidationError(ReasonExpired, issuer, nil)
	}
	if claims.NotBefore != nil && claims.NotBefore.After(now.Add(v.skew)) {
		return nil, newValidationError(ReasonNotYetValid, issuer, nil)
	}

	kid, _ := token.Header["kid"].(string)
	key, err := v.resolver.ResolveKey(ctx, issuer, kid)
	if err != nil {
		return nil, newValidationError(ReasonKeyResolutionFailed, issuer, err)
	}

	signature, err := v.parser.DecodeSegment(segments[2])
	if err != nil {
		return nil, newValidationError(ReasonSignatureInvalid, issuer, err)
	}
	if err := v.method.Verify(signingString, signature, key); err != nil {
		v.resolver.Invalidate(issuer, kid)
		return nil, newValidationError(ReasonSignatureInvalid, issuer, err)
	}

	if !slices.Contains(claims.Audience, v.audience) {
		return nil, newValidationError(ReasonAudienceMismatch, issuer, nil)
	}

	p := &Principal{
		Issuer:    issuer,
		Subject:   claims.Subject,
		Audience:  []string(claims.Audience),
		ExpiresAt: claims.ExpiresAt.Time,
		KeyID:     kid,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p, nil
}

func normalizeIssuer(issuer string) string {
	return strings.TrimSuffix(strings.TrimSpace(issuer), "/")
}
