package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       *config.KeySetStoreConfig
		wantType  interface{}
		expectErr bool
	}{
		{name: "nil config", cfg: nil, wantType: disabledCache{}},
		{name: "none", cfg: &config.KeySetStoreConfig{Type: config.StoreTypeNone}, wantType: disabledCache{}},
		{name: "memory", cfg: &config.KeySetStoreConfig{Type: config.StoreTypeMemory}, wantType: &memoryCache{}},
		{name: "empty type is memory", cfg: &config.KeySetStoreConfig{}, wantType: &memoryCache{}},
		{name: "redis without url", cfg: &config.KeySetStoreConfig{Type: config.StoreTypeRedis}, expectErr: true},
		{name: "unknown", cfg: &config.KeySetStoreConfig{Type: "etcd"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(tt.cfg, observability.NopLogger())
			if tt.expectErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			defer func() { _ = c.Close() }()
			assert.IsType(t, tt.wantType, c)
		})
	}
}

func TestDisabledCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newDisabledCache()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), time.Minute), ErrCacheDisabled)
	assert.ErrorIs(t, c.Delete(ctx, "k"), ErrCacheDisabled)
	ok, err := c.Exists(ctx, "k")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.NoError(t, c.Close())
}

func TestStats_HitRate(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Stats{}.HitRate())
	assert.InDelta(t, 75.0, Stats{Hits: 3, Misses: 1}.HitRate(), 0.001)
}

func TestKeySetKey(t *testing.T) {
	t.Parallel()

	a := KeySetKey("https://issuer.example/")
	b := KeySetKey("https://issuer.example")
	c := KeySetKey("https://other.example/")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "jwks:"+HashKey("https://issuer.example"), a)
	assert.Len(t, HashKey("x"), 64)
}
