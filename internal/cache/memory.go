package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// cacheTracerName is the OpenTelemetry tracer name for store operations.
const cacheTracerName = "bearergate/cache"

// defaultMaxEntries bounds the memory store when no limit is configured.
// Each entry is one issuer's document, so the bound is small.
const defaultMaxEntries = 256

// sweepInterval is how often expired documents are dropped.
const sweepInterval = time.Minute

// memoryCache keeps key set documents in process, least recently used
// first out once maxEntries is reached.
type memoryCache struct {
	logger     observability.Logger
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time

	mu    sync.Mutex
	index map[string]*list.Element
	lru   *list.List // front is most recently used

	hits, misses atomic.Int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	key       string
	doc       []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// newMemoryCache creates the in-process store and starts its sweeper.
func newMemoryCache(cfg *config.KeySetStoreConfig, logger observability.Logger) *memoryCache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	c := &memoryCache{
		logger:     logger,
		maxEntries: maxEntries,
		defaultTTL: cfg.TTL.Duration(),
		now:        time.Now,
		index:      make(map[string]*list.Element),
		lru:        list.New(),
		stopCh:     make(chan struct{}),
	}
	go c.sweepLoop()

	logger.Info("memory key set store initialized",
		observability.Int("maxEntries", maxEntries),
		observability.Duration("defaultTTL", c.defaultTTL))

	return c
}

func (c *memoryCache) startSpan(ctx context.Context, op, key string) trace.Span {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", backendMemory),
			attribute.String("cache.key", key),
		),
	)
	return span
}

func (c *memoryCache) observe(op string, start time.Time) {
	GetCacheMetrics().operationDuration.WithLabelValues(backendMemory, op).
		Observe(time.Since(start).Seconds())
}

// liveLocked returns the unexpired element for key, dropping it if it
// has expired. c.mu must be held.
func (c *memoryCache) liveLocked(key string) (*list.Element, bool) {
	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}
	if elem.Value.(*memoryEntry).expired(c.now()) {
		c.dropLocked(elem)
		return nil, false
	}
	return elem, true
}

// dropLocked unlinks elem. c.mu must be held.
func (c *memoryCache) dropLocked(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.index, elem.Value.(*memoryEntry).key)
	GetCacheMetrics().sizeGauge.WithLabelValues(backendMemory).Set(float64(c.lru.Len()))
}

// Get returns a copy of the stored document.
func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	span := c.startSpan(ctx, "Get", key)
	defer span.End()
	defer c.observe("get", time.Now())

	c.mu.Lock()
	elem, ok := c.liveLocked(key)
	var doc []byte
	if ok {
		c.lru.MoveToFront(elem)
		doc = cloneBytes(elem.Value.(*memoryEntry).doc)
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.Bool("cache.hit", ok))
	if !ok {
		c.misses.Add(1)
		GetCacheMetrics().missesTotal.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	c.hits.Add(1)
	GetCacheMetrics().hitsTotal.WithLabelValues(backendMemory).Inc()
	return doc, nil
}

// Set stores a copy of doc. A zero ttl uses the configured default and a
// negative one never expires.
func (c *memoryCache) Set(ctx context.Context, key string, doc []byte, ttl time.Duration) error {
	span := c.startSpan(ctx, "Set", key)
	defer span.End()
	defer c.observe("set", time.Now())

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	entry := &memoryEntry{key: key, doc: cloneBytes(doc)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return nil
	}

	c.index[key] = c.lru.PushFront(entry)
	for c.lru.Len() > c.maxEntries {
		c.dropLocked(c.lru.Back())
		GetCacheMetrics().evictionsTotal.WithLabelValues(backendMemory).Inc()
	}
	GetCacheMetrics().sizeGauge.WithLabelValues(backendMemory).Set(float64(c.lru.Len()))

	c.logger.Debug("key set document stored",
		observability.String("key", key),
		observability.Duration("ttl", ttl))
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *memoryCache) Delete(ctx context.Context, key string) error {
	span := c.startSpan(ctx, "Delete", key)
	defer span.End()
	defer c.observe("delete", time.Now())

	c.mu.Lock()
	if elem, ok := c.index[key]; ok {
		c.dropLocked(elem)
	}
	c.mu.Unlock()
	return nil
}

// Exists reports whether an unexpired document is stored under key.
func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	span := c.startSpan(ctx, "Exists", key)
	defer span.End()

	c.mu.Lock()
	_, ok := c.liveLocked(key)
	c.mu.Unlock()

	span.SetAttributes(attribute.Bool("cache.exists", ok))
	return ok, nil
}

// Close stops the sweeper and drops every document. It is idempotent.
func (c *memoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	c.index = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()
	return nil
}

// Stats returns store statistics.
func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	size := int64(c.lru.Len())
	c.mu.Unlock()

	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

func (c *memoryCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup drops every expired document.
func (c *memoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*memoryEntry).expired(now) {
			c.dropLocked(elem)
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		c.logger.Debug("expired key set documents dropped", observability.Int("removed", removed))
	}
}

// cloneBytes copies a document so callers cannot mutate stored state.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
