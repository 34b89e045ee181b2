// Package retry runs an operation with exponential backoff and jitter.
//
// bearergate uses it off the request path only: for JWKS warm-up at start-up
// and for transient redis errors in the shared key-set store. Token
// validation itself never retries.
//
//	err := retry.Do(ctx, &retry.Config{MaxRetries: 5}, func(ctx context.Context) error {
//	    return resolver.Refresh(ctx, issuer)
//	}, nil)
//
// Return retry.Permanent(err) from the operation to stop immediately.
package retry
