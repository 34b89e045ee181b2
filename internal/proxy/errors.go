package proxy

import "errors"

// Sentinel errors for proxy operations.
var (
	// ErrInvalidUpstream indicates that the upstream URL cannot be used.
	ErrInvalidUpstream = errors.New("invalid upstream URL")

	// ErrUpstreamTimeout indicates that the upstream request timed out.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates that the upstream is unavailable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
