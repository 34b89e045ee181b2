// Package auth turns bearer tokens into access decisions.
//
// A Gate reads the Authorization header (or the gRPC authorization
// metadata), hands the token to a TokenValidator and maps the result to
// AllowAll or DenyAll. The reason for a denial is logged and counted but
// never returned to the caller.
//
// The package provides adapters for net/http, gin and gRPC:
//
//	gate, err := auth.NewGate(validator, auth.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	handler := gate.HTTPMiddleware()(yourHandler)
//
//	server := grpc.NewServer(
//	    grpc.UnaryInterceptor(gate.UnaryInterceptor()),
//	    grpc.StreamInterceptor(gate.StreamInterceptor()),
//	)
//
// Handlers behind the gate read the validated principal with
// PrincipalFromContext. SetValidator swaps the validator atomically, which
// is how configuration reloads take effect.
package auth
