package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
	"github.com/vyrodovalexey/bearergate/internal/retry"
)

// redisPingTimeout bounds the connectivity check at construction.
const redisPingTimeout = 5 * time.Second

// redisRetryConfig returns the retry configuration for Redis operations.
// The store sits on the key-resolution path, so attempts are few and short.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError reports whether err is a transient failure.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// redisCache shares key set documents between replicas through one
// standalone Redis server.
type redisCache struct {
	logger     observability.Logger
	client     redis.UniversalClient
	keyPrefix  string
	defaultTTL time.Duration
	ttlJitter  float64

	hits   atomic.Int64
	misses atomic.Int64
}

// applyTTLJitter spreads expirations by up to ±jitterFactor of ttl so that
// replicas do not refetch an issuer's keys at the same instant.
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

// newRedisCache connects to a standalone Redis server.
func newRedisCache(cfg *config.KeySetStoreConfig, logger observability.Logger) (*redisCache, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		return nil, fmt.Errorf("%w: redis URL is required", ErrInvalidConfig)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis URL: %w", ErrInvalidConfig, err)
	}
	if cfg.Redis.PoolSize > 0 {
		opts.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.Redis.ConnectTimeout.Duration()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	keyPrefix := cfg.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = config.DefaultRedisKeyPrefix
	}

	c := &redisCache{
		logger:     logger,
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: cfg.TTL.Duration(),
		ttlJitter:  cfg.Redis.TTLJitter,
	}

	logger.Info("redis key-set store initialized",
		observability.String("addr", opts.Addr),
		observability.String("keyPrefix", keyPrefix),
		observability.Duration("defaultTTL", c.defaultTTL),
		observability.Float64("ttlJitter", c.ttlJitter))

	return c, nil
}

// run executes op against Redis under a client span, with retries, latency
// and error accounting. redis.Nil is returned as-is and not counted as a
// failure.
func (c *redisCache) run(ctx context.Context, op, key string, fn func(ctx context.Context, fullKey string) error) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", backendRedis),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	fullKey := c.keyPrefix + key
	err := retry.Do(ctx, redisRetryConfig(), func(ctx context.Context) error {
		return fn(ctx, fullKey)
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis "+op,
				observability.String("key", key),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err))
		},
	})
	GetCacheMetrics().operationDuration.WithLabelValues(backendRedis, op).Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, redis.Nil) {
		GetCacheMetrics().errorsTotal.WithLabelValues(backendRedis, op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("redis "+op+" failed", observability.String("key", key), observability.Error(err))
	}
	return err
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	var doc []byte
	err := c.run(ctx, "get", key, func(ctx context.Context, fullKey string) error {
		var err error
		doc, err = c.client.Get(ctx, fullKey).Bytes()
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
		GetCacheMetrics().missesTotal.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	case err != nil:
		return nil, err
	}
	c.hits.Add(1)
	GetCacheMetrics().hitsTotal.WithLabelValues(backendRedis).Inc()
	return doc, nil
}

// Set writes value with the store TTL, spread by the configured jitter,
// when ttl is zero.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	ttl = applyTTLJitter(ttl, c.ttlJitter)

	err := c.run(ctx, "set", key, func(ctx context.Context, fullKey string) error {
		return c.client.Set(ctx, fullKey, value, ttl).Err()
	})
	if err == nil {
		c.logger.Debug("key set document stored",
			observability.String("key", key),
			observability.Duration("ttl", ttl),
			observability.Int("size", len(value)))
	}
	return err
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.run(ctx, "delete", key, func(ctx context.Context, fullKey string) error {
		return c.client.Del(ctx, fullKey).Err()
	})
}

func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := c.run(ctx, "exists", key, func(ctx context.Context, fullKey string) error {
		var err error
		n, err = c.client.Exists(ctx, fullKey).Result()
		return err
	})
	return n > 0, err
}

func (c *redisCache) Close() error {
	c.logger.Info("redis key set store closing")
	return c.client.Close()
}

// Stats reports lookup counts. Redis does not report Size.
func (c *redisCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
