// Package middleware provides gRPC server interceptors that run around the
// bearer token gate: panic recovery, request ids and call logging.
//
// Interceptors are chained outermost first:
//
//	grpc.ChainUnaryInterceptor(
//	    middleware.UnaryRecovery(logger),
//	    middleware.UnaryRequestID(),
//	    middleware.UnaryLogging(logger),
//	    gate.UnaryInterceptor(),
//	)
package middleware
