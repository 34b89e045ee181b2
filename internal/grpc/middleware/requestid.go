package middleware

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// RequestIDKey is the metadata key carrying the request id.
const RequestIDKey = "x-request-id"

// maxRequestIDLength bounds ids accepted from callers.
const maxRequestIDLength = 128

// UnaryRequestID returns a unary interceptor that attaches a request id to
// the context and echoes it in the response header.
func UnaryRequestID() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx = withRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, observability.RequestIDFromContext(ctx)))
		return handler(ctx, req)
	}
}

// StreamRequestID returns the stream counterpart of UnaryRequestID.
func StreamRequestID() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		_ *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx := withRequestID(stream.Context())
		_ = stream.SetHeader(metadata.Pairs(RequestIDKey, observability.RequestIDFromContext(ctx)))
		return handler(srv, &contextStream{ServerStream: stream, ctx: ctx})
	}
}

func withRequestID(ctx context.Context) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(RequestIDKey); len(values) > 0 && values[0] != "" && len(values[0]) <= maxRequestIDLength {
			return observability.ContextWithRequestID(ctx, values[0])
		}
	}
	return observability.ContextWithRequestID(ctx, uuid.New().String())
}

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (s *contextStream) Context() context.Context {
	return s.ctx
}
