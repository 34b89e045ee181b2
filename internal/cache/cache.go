package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

var (
	// ErrCacheMiss is returned by Get for an absent or expired key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheDisabled is returned by every operation of a store built
	// with type "none".
	ErrCacheDisabled = errors.New("cache disabled")

	// ErrInvalidConfig wraps store configuration errors.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Cache stores raw key set documents under string keys. Implementations
// are safe for concurrent use.
type Cache interface {
	// Get returns ErrCacheMiss when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl. A zero ttl selects the store default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// StatsReporter is implemented by stores that count lookups.
type StatsReporter interface {
	Stats() Stats
}

// Stats is a point-in-time lookup summary.
type Stats struct {
	Hits   int64
	Misses int64
	// Size is the number of entries, or zero when the backend does not track it.
	Size int64
}

// HitRate returns hits as a percentage of all lookups.
func (s Stats) HitRate() float64 {
	lookups := s.Hits + s.Misses
	if lookups == 0 {
		return 0
	}
	return 100 * float64(s.Hits) / float64(lookups)
}

// New builds the store selected by cfg.Type. A nil cfg behaves like "none";
// an empty type selects the in-process store.
func New(cfg *config.KeySetStoreConfig, logger observability.Logger) (Cache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg == nil {
		return newDisabledCache(), nil
	}

	switch cfg.Type {
	case "", config.StoreTypeMemory:
		return newMemoryCache(cfg, logger), nil
	case config.StoreTypeRedis:
		return newRedisCache(cfg, logger)
	case config.StoreTypeNone:
		return newDisabledCache(), nil
	}
	return nil, fmt.Errorf("%w: unknown store type %q", ErrInvalidConfig, cfg.Type)
}

type disabledCache struct{}

func newDisabledCache() Cache { return disabledCache{} }

func (disabledCache) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheDisabled }

func (disabledCache) Set(context.Context, string, []byte, time.Duration) error {
	return ErrCacheDisabled
}

func (disabledCache) Delete(context.Context, string) error { return ErrCacheDisabled }

func (disabledCache) Exists(context.Context, string) (bool, error) { return false, ErrCacheDisabled }

func (disabledCache) Close() error { return nil }
