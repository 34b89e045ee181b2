// Package cache provides the key-set document store shared by gate
// replicas.
//
// The resolver keeps its own in-process snapshot of parsed keys. This
// package stores the raw JWKS documents so that replicas behind a load
// balancer, or a restarted process, can warm their snapshot without
// contacting the issuer. It supports:
//
//   - In-memory LRU store with configurable size
//   - Redis store with TTL jitter and retry with exponential backoff
//   - OpenTelemetry spans and Prometheus metrics for every operation
//
// # Example Usage
//
//	store, err := cache.New(&config.KeySetStoreConfig{
//	    Type:       config.StoreTypeMemory,
//	    TTL:        config.Duration(10 * time.Minute),
//	    MaxEntries: 64,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Set(ctx, cache.KeySetKey(issuer), document, 0)
//	document, err = store.Get(ctx, cache.KeySetKey(issuer))
//
// All store implementations are safe for concurrent use.
package cache
