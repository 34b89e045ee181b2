package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// UnaryLogging returns a unary interceptor that logs each call with its
// status code and duration. Metadata is never logged.
func UnaryLogging(logger observability.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, logger, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// StreamLogging returns the stream counterpart of UnaryLogging.
func StreamLogging(logger observability.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, stream)
		logCall(stream.Context(), logger, info.FullMethod, err, time.Since(start))
		return err
	}
}

func logCall(ctx context.Context, logger observability.Logger, method string, err error, dur time.Duration) {
	code := status.Code(err)

	fields := []observability.Field{
		observability.String("method", method),
		observability.String("code", code.String()),
		observability.Duration("duration", dur),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, observability.String("peer", p.Addr.String()))
	}

	l := logger.WithContext(ctx)
	switch code {
	case codes.OK:
		l.Info("grpc call", fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		l.Error("grpc call", fields...)
	default:
		l.Warn("grpc call", fields...)
	}
}
