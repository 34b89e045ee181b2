package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/metadata"
)

func TestParseBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value     string
		wantToken string
		wantOK    bool
	}{
		{value: "Bearer abc", wantToken: "abc", wantOK: true},
		{value: "bEaReR abc", wantToken: "abc", wantOK: true},
		{value: "Bearer  abc ", wantToken: "abc", wantOK: true},
		{value: "Bearer a b", wantToken: "a b", wantOK: true},
		{value: "", wantOK: false},
		{value: "Bearer", wantOK: false},
		{value: "Bearer ", wantOK: false},
		{value: "Bearer\tabc", wantOK: false},
		{value: "Bearerabc", wantOK: false},
		{value: "Basic abc", wantOK: false},
		{value: " Bearer abc", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.value), func(t *testing.T) {
			t.Parallel()

			token, ok := ParseBearer(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ExtractBearerToken(r)
	assert.False(t, ok)

	r.Header.Set(HeaderAuthorization, "Bearer tok")
	token, ok := ExtractBearerToken(r)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
}

func TestExtractBearerTokenFromGRPC(t *testing.T) {
	t.Parallel()

	_, ok := ExtractBearerTokenFromGRPC(context.Background())
	assert.False(t, ok)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-other", "1"))
	_, ok = ExtractBearerTokenFromGRPC(ctx)
	assert.False(t, ok)

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("Authorization", "Bearer tok"))
	token, ok := ExtractBearerTokenFromGRPC(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
}

func TestAuthError(t *testing.T) {
	t.Parallel()

	err := NewAuthError(ReasonMissingCredentials, ErrNoCredentials)
	assert.Equal(t, "auth error (missing_credentials): no credentials provided", err.Error())
	assert.True(t, errors.Is(err, ErrNoCredentials))
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
	assert.True(t, IsAuthError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsAuthError(errors.New("plain")))

	bare := NewAuthError("expired", nil)
	assert.Equal(t, "auth error (expired)", bare.Error())
	assert.Nil(t, bare.Unwrap())
}
