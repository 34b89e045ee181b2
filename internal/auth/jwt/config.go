package jwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// Supported verification algorithms.
const (
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgPS256 = "PS256"
	AlgPS384 = "PS384"
	AlgPS512 = "PS512"
)

// DefaultAlgorithm is used when Config.Algorithm is empty.
const DefaultAlgorithm = AlgRS256

// KeyResolver returns the RSA public key an issuer publishes under kid.
type KeyResolver interface {
	ResolveKey(ctx context.Context, issuer, kid string) (*rsa.PublicKey, error)

	// Invalidate marks a cached key as suspect after a signature failure.
	Invalidate(issuer, kid string)
}

// Config configures a Validator.
type Config struct {
	// AllowedIssuers are compared exactly after trimming one trailing slash.
	AllowedIssuers []string

	// RequiredAudience must be present in the aud claim.
	RequiredAudience string

	// Algorithm verifies every signature regardless of the token header.
	Algorithm string

	// ClockSkew is tolerated on exp and nbf.
	ClockSkew time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.AllowedIssuers) == 0 {
		return errors.New("at least one allowed issuer is required")
	}
	for i, iss := range c.AllowedIssuers {
		if strings.TrimSpace(iss) == "" {
			return fmt.Errorf("allowed issuer %d is empty", i)
		}
	}
	if c.RequiredAudience == "" {
		return errors.New("required audience is required")
	}
	if _, err := signingMethod(c.effectiveAlgorithm()); err != nil {
		return err
	}
	if c.ClockSkew < 0 {
		return errors.New("clock skew must not be negative")
	}
	return nil
}

func (c *Config) effectiveAlgorithm() string {
	if c.Algorithm == "" {
		return DefaultAlgorithm
	}
	return c.Algorithm
}

// IsSupportedAlgorithm reports whether alg can be configured.
func IsSupportedAlgorithm(alg string) bool {
	_, err := signingMethod(alg)
	return err == nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case AlgRS256:
		return jwt.SigningMethodRS256, nil
	case AlgRS384:
		return jwt.SigningMethodRS384, nil
	case AlgRS512:
		return jwt.SigningMethodRS512, nil
	case AlgPS256:
		return jwt.SigningMethodPS256, nil
	case AlgPS384:
		return jwt.SigningMethodPS384, nil
	case AlgPS512:
		return jwt.SigningMethodPS512, nil
	default:
		return nil, fmt.Errorf("unsupported verification algorithm %q", alg)
	}
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(v *Validator) {
		v.metrics = metrics
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}
