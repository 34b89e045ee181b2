package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication operations.
var (
	// ErrNoCredentials indicates that no bearer token was provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrAuthenticationFailed matches every AuthError.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// AuthError is a denied request with its reason label.
type AuthError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("auth error (%s)", e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *AuthError) Is(target error) bool {
	if target == ErrAuthenticationFailed {
		return true
	}
	_, ok := target.(*AuthError)
	return ok
}

// NewAuthError creates a new AuthError.
func NewAuthError(reason string, cause error) *AuthError {
	return &AuthError{
		Reason: reason,
		Cause:  cause,
	}
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
