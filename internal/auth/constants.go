package auth

// HTTP header constants for authentication.
const (
	// HeaderAuthorization is the Authorization header name.
	HeaderAuthorization = "Authorization"

	// HeaderWWWAuthenticate is the WWW-Authenticate header name.
	HeaderWWWAuthenticate = "WWW-Authenticate"

	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// MetadataAuthorization is the gRPC metadata key carrying the token.
	MetadataAuthorization = "authorization"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// AuthSchemeBearer is the bearer scheme name, matched case-insensitively.
const AuthSchemeBearer = "Bearer"

// Reason labels that do not come from token validation.
const (
	ReasonAllowed            = "none"
	ReasonMissingCredentials = "missing_credentials"
)

// unauthorizedMessage is the only detail a denied caller receives.
const unauthorizedMessage = "unauthorized"
