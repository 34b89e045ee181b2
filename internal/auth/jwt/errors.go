package jwt

import (
	"errors"
	"fmt"
)

// Reason classifies why a token was rejected.
type Reason int

// Rejection reasons in the order validation checks them.
const (
	ReasonNone Reason = iota
	ReasonMalformed
	ReasonUntrustedIssuer
	ReasonExpired
	ReasonNotYetValid
	ReasonKeyResolutionFailed
	ReasonSignatureInvalid
	ReasonAudienceMismatch
)

var reasonNames = map[Reason]string{
	ReasonNone:                "none",
	ReasonMalformed:           "malformed",
	ReasonUntrustedIssuer:     "untrusted_issuer",
	ReasonExpired:             "expired",
	ReasonNotYetValid:         "not_yet_valid",
	ReasonKeyResolutionFailed: "key_resolution_failed",
	ReasonSignatureInvalid:    "signature_invalid",
	ReasonAudienceMismatch:    "audience_mismatch",
}

// String returns the stable label used in logs and metrics.
func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Reasons returns every rejection reason.
func Reasons() []Reason {
	return []Reason{
		ReasonMalformed,
		ReasonUntrustedIssuer,
		ReasonExpired,
		ReasonNotYetValid,
		ReasonKeyResolutionFailed,
		ReasonSignatureInvalid,
		ReasonAudienceMismatch,
	}
}

// Sentinel errors, one per reason, matched with errors.Is.
var (
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrUntrustedIssuer       = errors.New("token issuer is not trusted")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenNotYetValid      = errors.New("token is not yet valid")
	ErrKeyResolutionFailed   = errors.New("verification key could not be resolved")
	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	ErrAudienceMismatch      = errors.New("token audience does not match")
)

var reasonErrors = map[Reason]error{
	ReasonMalformed:           ErrTokenMalformed,
	ReasonUntrustedIssuer:     ErrUntrustedIssuer,
	ReasonExpired:             ErrTokenExpired,
	ReasonNotYetValid:         ErrTokenNotYetValid,
	ReasonKeyResolutionFailed: ErrKeyResolutionFailed,
	ReasonSignatureInvalid:    ErrTokenInvalidSignature,
	ReasonAudienceMismatch:    ErrAudienceMismatch,
}

// ValidationError is the rejection of a token.
type ValidationError struct {
	Reason Reason

	// Issuer is the unverified iss claim, set once the token decoded.
	Issuer string

	// Cause is the underlying error. For ReasonKeyResolutionFailed it is
	// the resolver error.
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("jwt validation error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("jwt validation error: %s", e.Reason)
}

// Unwrap returns the reason sentinel and the cause.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := reasonErrors[e.Reason]; ok {
		errs = append(errs, sentinel)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newValidationError(reason Reason, issuer string, cause error) *ValidationError {
	return &ValidationError{Reason: reason, Issuer: issuer, Cause: cause}
}

// ReasonOf extracts the rejection reason from err. It returns ReasonNone
// for a nil error and ReasonMalformed for errors not produced by a
// Validator.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ReasonMalformed
}
