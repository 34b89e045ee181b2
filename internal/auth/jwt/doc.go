// Package jwt validates bearer tokens issued by trusted identity providers.
//
// A Validator decodes the token without trusting it, checks the issuer
// against an allow-list and the expiry against the clock, resolves the
// verification key through a KeyResolver and verifies the signature with
// the configured algorithm. The header alg is never consulted.
//
//	v, err := jwt.NewValidator(jwt.Config{
//	    AllowedIssuers:   []string{"https://issuer.example/"},
//	    RequiredAudience: "api-x",
//	}, resolver)
//	if err != nil {
//	    return err
//	}
//
//	principal, err := v.Validate(ctx, token)
//	if err != nil {
//	    reason := jwt.ReasonOf(err)
//	    // deny
//	}
//
// Exactly one of the returned principal and error is non-nil. Every
// error returned by Validate is a *ValidationError carrying a Reason.
package jwt
