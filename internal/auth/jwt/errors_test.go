package jwt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/bearergate/internal/auth/jwks"
)

func TestReason_String(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, r := range Reasons() {
		name := r.String()
		assert.NotEmpty(t, name)
		assert.False(t, seen[name], "duplicate reason label %q", name)
		seen[name] = true
	}
	assert.Equal(t, "none", ReasonNone.String())
	assert.Equal(t, "expired", ReasonExpired.String())
	assert.Equal(t, "reason(99)", Reason(99).String())
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	cause := &jwks.ResolveError{Kind: jwks.ErrKeyNotFound, Issuer: "https://issuer.example", KeyID: "k"}
	err := newValidationError(ReasonKeyResolutionFailed, "https://issuer.example", cause)

	assert.True(t, errors.Is(err, ErrKeyResolutionFailed))
	assert.True(t, errors.Is(err, jwks.ErrKeyNotFound))
	assert.False(t, errors.Is(err, ErrTokenExpired))
	assert.Contains(t, err.Error(), "key_resolution_failed")

	var rerr *jwks.ResolveError
	assert.True(t, errors.As(err, &rerr))
	assert.Equal(t, "k", rerr.KeyID)

	plain := newValidationError(ReasonExpired, "", nil)
	assert.Equal(t, "jwt validation error: expired", plain.Error())
	assert.True(t, errors.Is(plain, ErrTokenExpired))
}

func TestReasonOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ReasonNone, ReasonOf(nil))
	assert.Equal(t, ReasonMalformed, ReasonOf(errors.New("other")))

	wrapped := fmt.Errorf("gate: %w", newValidationError(ReasonAudienceMismatch, "", nil))
	assert.Equal(t, ReasonAudienceMismatch, ReasonOf(wrapped))
}
