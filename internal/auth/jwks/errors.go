package jwks

import (
	"errors"
	"fmt"
)

// Resolution failure kinds. Match them with errors.Is.
var (
	// ErrNetwork covers transport failures, timeouts, non-2xx responses,
	// an open circuit and issuer values that are not usable URLs.
	ErrNetwork = errors.New("jwks network error")

	// ErrKeyNotFound indicates the issuer publishes no key with the kid.
	ErrKeyNotFound = errors.New("jwks key not found")

	// ErrMalformedKeySet indicates the document is not a key set, or the
	// matching key is not an RSA public key.
	ErrMalformedKeySet = errors.New("jwks malformed key set")
)

// errRateLimited is returned internally when a refresh is refused by the
// per-issuer limiter.
var errRateLimited = errors.New("jwks refresh rate limited")

// ResolveError describes a failed key resolution.
type ResolveError struct {
	// Kind is one of ErrNetwork, ErrKeyNotFound or ErrMalformedKeySet.
	Kind error
	// Issuer is the issuer as it appeared in the token.
	Issuer string
	KeyID  string
	Cause  error
}

// Error implements the error interface. The cause already carries the
// kind in its text when it wraps it.
func (e *ResolveError) Error() string {
	detail := e.Kind
	if e.Cause != nil {
		detail = e.Cause
	}
	return fmt.Sprintf("resolve key %q for issuer %q: %v", e.KeyID, e.Issuer, detail)
}

// Unwrap returns the kind and the cause.
func (e *ResolveError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newResolveError(kind error, issuer, kid string, cause error) *ResolveError {
	if kind == nil {
		kind = ErrNetwork
	}
	if cause == kind {
		cause = nil
	}
	return &ResolveError{Kind: kind, Issuer: issuer, KeyID: kid, Cause: cause}
}

// KindOf returns the resolution kind of err, or nil when err is not a
// resolution failure.
func KindOf(err error) error {
	for _, kind := range []error{ErrNetwork, ErrKeyNotFound, ErrMalformedKeySet} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
