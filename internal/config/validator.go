package config

import (
	"fmt"
	"net/url"
	"strings"
)

// supportedAlgorithms is the RSA family accepted for verificationAlgorithm.
var supportedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// ValidateConfig checks a loaded configuration.
func ValidateConfig(cfg *GateConfig) error {
	if cfg == nil {
		return ValidationErrors{{Message: "configuration is nil"}}
	}

	v := &validator{}
	v.validateServer(&cfg.Server)
	v.validateAuth(&cfg.Auth)
	v.validateObservability(&cfg.Observability)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(path, format string, args ...interface{}) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validateServer(s *ServerConfig) {
	if s.Upstream == "" {
		return
	}
	u, err := url.Parse(s.Upstream)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError("server.upstream", "must be an absolute http(s) URL, got %q", s.Upstream)
	}
}

func (v *validator) validateAuth(a *AuthConfig) {
	if len(a.AllowedIssuers) == 0 {
		v.addError("auth.allowedIssuers", "at least one trusted issuer is required")
	}
	for i, iss := range a.AllowedIssuers {
		u, err := url.Parse(iss)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError(fmt.Sprintf("auth.allowedIssuers[%d]", i), "must be an absolute http(s) URI, got %q", iss)
		}
	}
	if a.RequiredAudience == "" {
		v.addError("auth.requiredAudience", "is required")
	}
	if !supportedAlgorithms[a.VerificationAlgorithm] {
		v.addError("auth.verificationAlgorithm", "unsupported algorithm %q", a.VerificationAlgorithm)
	}
	if a.JWKSFetchTimeout <= 0 {
		v.addError("auth.jwksFetchTimeout", "must be positive")
	}
	if a.ClockSkew < 0 {
		v.addError("auth.clockSkew", "must not be negative")
	}
	if a.CircuitBreaker != nil && a.CircuitBreaker.Enabled && a.CircuitBreaker.MaxFailures < 1 {
		v.addError("auth.circuitBreaker.maxFailures", "must be at least 1")
	}
	v.validateStore(a.KeySetStore)
}

func (v *validator) validateStore(s *KeySetStoreConfig) {
	if s == nil {
		return
	}
	switch s.Type {
	case StoreTypeNone, StoreTypeMemory:
	case StoreTypeRedis:
		if s.Redis == nil || s.Redis.URL == "" {
			v.addError("auth.keySetStore.redis.url", "is required for redis store")
		}
		if s.Redis != nil && (s.Redis.TTLJitter < 0 || s.Redis.TTLJitter > 1) {
			v.addError("auth.keySetStore.redis.ttlJitter", "must be between 0 and 1")
		}
	default:
		v.addError("auth.keySetStore.type", "unknown store type %q", s.Type)
	}
}

func (v *validator) validateObservability(o *ObservabilityConfig) {
	switch o.Logging.Format {
	case "json", "console":
	default:
		v.addError("observability.logging.format", "must be json or console, got %q", o.Logging.Format)
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError("observability.tracing.samplingRate", "must be between 0 and 1")
	}
	if !strings.HasPrefix(o.Metrics.Path, "/") {
		v.addError("observability.metrics.path", "must start with /")
	}
}
