// Package config provides configuration types and loading for bearergate.
package config

import (
	"time"
)

// Store types for the shared JWKS document store.
const (
	StoreTypeNone   = "none"
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultServerAddress         = ":8080"
	DefaultGRPCAddress           = ":9443"
	DefaultReadTimeout           = 10 * time.Second
	DefaultWriteTimeout          = 30 * time.Second
	DefaultShutdownTimeout       = 30 * time.Second
	DefaultVerificationAlgorithm = "RS256"
	DefaultJWKSFetchTimeout      = 5 * time.Second
	DefaultJWKSCacheTTL          = 10 * time.Minute
	DefaultMinRefreshInterval    = 10 * time.Second
	DefaultBreakerMaxFailures    = 5
	DefaultBreakerTimeout        = 30 * time.Second
	DefaultStoreTTL              = 10 * time.Minute
	DefaultRedisKeyPrefix        = "bearergate:"
	DefaultMetricsPath           = "/metrics"
	DefaultServiceName           = "bearergate"
)

// GateConfig is the root configuration document.
type GateConfig struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	GRPC          GRPCConfig          `yaml:"grpc" json:"grpc"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`

	// Upstream is the protected resource server. When empty only the
	// forward-auth endpoint is served.
	Upstream string `yaml:"upstream,omitempty" json:"upstream,omitempty"`
}

// GRPCConfig configures the optional gRPC listener.
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// AuthConfig holds the token validation and key resolution settings.
type AuthConfig struct {
	// AllowedIssuers is the set of trusted issuer URIs.
	AllowedIssuers []string `yaml:"allowedIssuers" json:"allowedIssuers"`

	// RequiredAudience must appear in the token's aud claim.
	RequiredAudience string `yaml:"requiredAudience" json:"requiredAudience"`

	// VerificationAlgorithm is used for every signature check regardless
	// of the alg header.
	VerificationAlgorithm string `yaml:"verificationAlgorithm" json:"verificationAlgorithm"`

	// JWKSFetchTimeout bounds each key set download.
	JWKSFetchTimeout Duration `yaml:"jwksFetchTimeout" json:"jwksFetchTimeout"`

	// JWKSCacheTTL is how long a fetched key set is considered fresh.
	JWKSCacheTTL Duration `yaml:"jwksCacheTTL,omitempty" json:"jwksCacheTTL,omitempty"`

	// MinRefreshInterval limits how often one issuer's key set is refetched.
	MinRefreshInterval Duration `yaml:"minRefreshInterval,omitempty" json:"minRefreshInterval,omitempty"`

	// ClockSkew is tolerated on exp and nbf.
	ClockSkew Duration `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`

	// Prefetch warms every allowed issuer's key set at start-up.
	Prefetch bool `yaml:"prefetch,omitempty" json:"prefetch,omitempty"`

	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	KeySetStore    *KeySetStoreConfig    `yaml:"keySetStore,omitempty" json:"keySetStore,omitempty"`
}

// CircuitBreakerConfig configures the per-issuer JWKS fetch breaker.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	MaxFailures      int      `yaml:"maxFailures,omitempty" json:"maxFailures,omitempty"`
	Timeout          Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	HalfOpenRequests int      `yaml:"halfOpenRequests,omitempty" json:"halfOpenRequests,omitempty"`
}

// KeySetStoreConfig configures the document store shared by replicas.
type KeySetStoreConfig struct {
	// Type is "none", "memory" or "redis".
	Type       string       `yaml:"type" json:"type"`
	TTL        Duration     `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	MaxEntries int          `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty"`
	Redis      *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// URL format: redis://[user:password@]host:port[/db]
	URL            string   `yaml:"url" json:"url"`
	KeyPrefix      string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	PoolSize       int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`
	TTLJitter      float64  `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// ApplyDefaults fills zero values with defaults. It is idempotent.
func (c *GateConfig) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = DefaultGRPCAddress
	}

	a := &c.Auth
	if a.VerificationAlgorithm == "" {
		a.VerificationAlgorithm = DefaultVerificationAlgorithm
	}
	if a.JWKSFetchTimeout == 0 {
		a.JWKSFetchTimeout = Duration(DefaultJWKSFetchTimeout)
	}
	if a.JWKSCacheTTL == 0 {
		a.JWKSCacheTTL = Duration(DefaultJWKSCacheTTL)
	}
	if a.MinRefreshInterval == 0 {
		a.MinRefreshInterval = Duration(DefaultMinRefreshInterval)
	}
	if a.CircuitBreaker != nil {
		if a.CircuitBreaker.MaxFailures == 0 {
			a.CircuitBreaker.MaxFailures = DefaultBreakerMaxFailures
		}
		if a.CircuitBreaker.Timeout == 0 {
			a.CircuitBreaker.Timeout = Duration(DefaultBreakerTimeout)
		}
		if a.CircuitBreaker.HalfOpenRequests == 0 {
			a.CircuitBreaker.HalfOpenRequests = 1
		}
	}
	if a.KeySetStore != nil {
		if a.KeySetStore.Type == "" {
			a.KeySetStore.Type = StoreTypeMemory
		}
		if a.KeySetStore.TTL == 0 {
			a.KeySetStore.TTL = Duration(DefaultStoreTTL)
		}
		if a.KeySetStore.Redis != nil && a.KeySetStore.Redis.KeyPrefix == "" {
			a.KeySetStore.Redis.KeyPrefix = DefaultRedisKeyPrefix
		}
	}

	o := &c.Observability
	if o.Logging.Level == "" {
		o.Logging.Level = "info"
	}
	if o.Logging.Format == "" {
		o.Logging.Format = "json"
	}
	if o.Logging.Output == "" {
		o.Logging.Output = "stdout"
	}
	if o.Metrics.Path == "" {
		o.Metrics.Path = DefaultMetricsPath
	}
	if o.Tracing.Enabled && o.Tracing.SamplingRate == 0 {
		o.Tracing.SamplingRate = 1.0
	}
	if o.Tracing.ServiceName == "" {
		o.Tracing.ServiceName = DefaultServiceName
	}
}

// StoreType returns the configured document store type, "none" when unset.
func (a *AuthConfig) StoreType() string {
	if a.KeySetStore == nil || a.KeySetStore.Type == "" {
		return StoreTypeNone
	}
	return a.KeySetStore.Type
}
