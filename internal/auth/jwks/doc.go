// Package jwks resolves RSA verification keys from issuers' published
// JSON Web Key Sets.
//
// A Resolver fetches <issuer>/.well-known/jwks.json on demand and keeps
// an immutable snapshot of parsed keys keyed by (issuer, kid). Readers
// load the snapshot through an atomic pointer; only the resolver swaps
// it. Fetches for one issuer are collapsed with singleflight, limited by
// a per-issuer token bucket and guarded by a per-issuer circuit breaker.
// A failed refresh keeps serving the previously cached key.
//
// Raw documents can optionally be shared between replicas through a
// cache.Cache store.
package jwks
