package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// ParseBearer returns the token carried by an Authorization value. The
// scheme is matched case-insensitively and must be followed by a space.
// ok is false when the value is not a bearer credential or the token is
// empty.
func ParseBearer(authorization string) (token string, ok bool) {
	const prefixLen = len(AuthSchemeBearer) + 1
	if len(authorization) < prefixLen {
		return "", false
	}
	if !strings.EqualFold(authorization[:len(AuthSchemeBearer)], AuthSchemeBearer) ||
		authorization[len(AuthSchemeBearer)] != ' ' {
		return "", false
	}

	token = strings.TrimSpace(authorization[prefixLen:])
	return token, token != ""
}

// ExtractBearerToken extracts a bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, bool) {
	return ParseBearer(r.Header.Get(HeaderAuthorization))
}

// ExtractBearerTokenFromGRPC extracts a bearer token from gRPC metadata.
func ExtractBearerTokenFromGRPC(ctx context.Context) (string, bool) {
	return ParseBearer(authorizationFromGRPC(ctx))
}

// authorizationFromGRPC returns the first authorization metadata value.
func authorizationFromGRPC(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	values := md.Get(MetadataAuthorization)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
