package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor returns a unary server interceptor that rejects denied
// calls with codes.Unauthenticated.
func (g *Gate) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (interface{}, error) {
		d := g.DecideContext(ctx, info.FullMethod)
		if !d.Allowed() {
			return nil, status.Error(codes.Unauthenticated, unauthorizedMessage)
		}

		return handler(ContextWithPrincipal(ctx, d.Principal), req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (g *Gate) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		d := g.DecideContext(ctx, info.FullMethod)
		if !d.Allowed() {
			return status.Error(codes.Unauthenticated, unauthorizedMessage)
		}

		wrapped := &authenticatedServerStream{
			ServerStream: ss,
			ctx:          ContextWithPrincipal(ctx, d.Principal),
		}

		return handler(srv, wrapped)
	}
}

// authenticatedServerStream wraps a grpc.ServerStream with an authenticated context.
type authenticatedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the authenticated context.
func (s *authenticatedServerStream) Context() context.Context {
	return s.ctx
}
