package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultJitterFactor   = 0.25
	MaxJitterFactor       = 1.0
)

// Config contains retry configuration parameters.
// Zero values fall back to the package defaults.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps every wait.
	MaxBackoff time.Duration

	// JitterFactor adds up to this fraction of randomness to each wait.
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// GetMaxRetries returns the effective max retries.
func (c *Config) GetMaxRetries() int {
	if c == nil || c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// GetInitialBackoff returns the effective initial backoff.
func (c *Config) GetInitialBackoff() time.Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

// GetMaxBackoff returns the effective max backoff.
func (c *Config) GetMaxBackoff() time.Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

// GetJitterFactor returns the effective jitter factor.
func (c *Config) GetJitterFactor() float64 {
	if c == nil || c.JitterFactor <= 0 {
		return DefaultJitterFactor
	}
	if c.JitterFactor > MaxJitterFactor {
		return MaxJitterFactor
	}
	return c.JitterFactor
}

// Func is an operation that can be retried.
type Func func(ctx context.Context) error

// Options contains optional retry behavior.
type Options struct {
	// ShouldRetry decides whether an error is worth another attempt.
	// If nil, every non-permanent error is retried.
	ShouldRetry func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, ShouldRetry
// rejects the error, the retries run out or ctx is done. The returned
// error never carries the Permanent wrapper.
func Do(ctx context.Context, cfg *Config, fn Func, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	retries := cfg.GetMaxRetries()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == retries || (opts.ShouldRetry != nil && !opts.ShouldRetry(err)) {
			return err
		}

		wait := CalculateBackoff(attempt, cfg.GetInitialBackoff(), cfg.GetMaxBackoff(), cfg.GetJitterFactor())
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CalculateBackoff returns initial*2^attempt plus up to jitter of that
// amount, capped at ceiling.
func CalculateBackoff(attempt int, initial, ceiling time.Duration, jitter float64) time.Duration {
	base := float64(initial) * math.Pow(2, float64(attempt))
	//nolint:gosec // retry jitter does not need a CSPRNG
	wait := base * (1 + jitter*rand.Float64())
	return time.Duration(math.Min(wait, float64(ceiling)))
}
