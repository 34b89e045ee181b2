// Package middleware provides the net/http middleware that wraps the
// bearergate HTTP server.
//
// The chain is built outermost first:
//
//	h = middleware.Logging(logger)(h)
//	h = middleware.RequestID()(h)
//	h = middleware.Recovery(logger)(h)
//
// Request ids are stored in the request context with
// observability.ContextWithRequestID so that every log line written while
// serving the request carries them.
package middleware
