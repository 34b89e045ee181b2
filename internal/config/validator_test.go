package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *GateConfig {
	cfg := &GateConfig{
		Auth: AuthConfig{
			AllowedIssuers:   []string{"https://issuer.example/"},
			RequiredAudience: "api-x",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*GateConfig)
		wantPath string
	}{
		{
			name:   "valid",
			mutate: func(*GateConfig) {},
		},
		{
			name:     "no issuers",
			mutate:   func(c *GateConfig) { c.Auth.AllowedIssuers = nil },
			wantPath: "auth.allowedIssuers",
		},
		{
			name:     "relative issuer",
			mutate:   func(c *GateConfig) { c.Auth.AllowedIssuers = []string{"issuer.example"} },
			wantPath: "auth.allowedIssuers[0]",
		},
		{
			name:     "missing audience",
			mutate:   func(c *GateConfig) { c.Auth.RequiredAudience = "" },
			wantPath: "auth.requiredAudience",
		},
		{
			name:     "symmetric algorithm rejected",
			mutate:   func(c *GateConfig) { c.Auth.VerificationAlgorithm = "HS256" },
			wantPath: "auth.verificationAlgorithm",
		},
		{
			name:     "none algorithm rejected",
			mutate:   func(c *GateConfig) { c.Auth.VerificationAlgorithm = "none" },
			wantPath: "auth.verificationAlgorithm",
		},
		{
			name:     "negative fetch timeout",
			mutate:   func(c *GateConfig) { c.Auth.JWKSFetchTimeout = -1 },
			wantPath: "auth.jwksFetchTimeout",
		},
		{
			name:     "negative skew",
			mutate:   func(c *GateConfig) { c.Auth.ClockSkew = -1 },
			wantPath: "auth.clockSkew",
		},
		{
			name: "redis store without url",
			mutate: func(c *GateConfig) {
				c.Auth.KeySetStore = &KeySetStoreConfig{Type: StoreTypeRedis}
			},
			wantPath: "auth.keySetStore.redis.url",
		},
		{
			name: "unknown store",
			mutate: func(c *GateConfig) {
				c.Auth.KeySetStore = &KeySetStoreConfig{Type: "etcd"}
			},
			wantPath: "auth.keySetStore.type",
		},
		{
			name:     "bad upstream",
			mutate:   func(c *GateConfig) { c.Server.Upstream = "localhost:9000" },
			wantPath: "server.upstream",
		},
		{
			name:     "bad log format",
			mutate:   func(c *GateConfig) { c.Observability.Logging.Format = "xml" },
			wantPath: "observability.logging.format",
		},
		{
			name:     "sampling out of range",
			mutate:   func(c *GateConfig) { c.Observability.Tracing.SamplingRate = 2 },
			wantPath: "observability.tracing.samplingRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if tt.wantPath == "" {
				assert.NoError(t, err)
				return
			}

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.wantPath, verrs[0].Path)
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	assert.EqualError(t, ValidateConfig(nil), "configuration is nil")
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())

	multi := ValidationErrors{
		{Path: "auth.requiredAudience", Message: "is required"},
		{Message: "something else"},
	}
	assert.Contains(t, multi.Error(), "2 validation errors")
	assert.Contains(t, multi.Error(), "1. auth.requiredAudience: is required")
	assert.Contains(t, multi.Error(), "2. something else")
}
