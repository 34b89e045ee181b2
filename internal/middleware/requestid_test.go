package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		existingRequestID string
		expectNewID       bool
	}{
		{
			name:        "generates new request ID",
			expectNewID: true,
		},
		{
			name:              "uses existing request ID",
			existingRequestID: "existing-request-id-123",
		},
		{
			name:              "replaces oversized request ID",
			existingRequestID: strings.Repeat("x", maxRequestIDLength+1),
			expectNewID:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var capturedRequestID, forwarded string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedRequestID = observability.RequestIDFromContext(r.Context())
				forwarded = r.Header.Get(RequestIDHeader)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.existingRequestID != "" {
				req.Header.Set(RequestIDHeader, tt.existingRequestID)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			responseRequestID := rec.Header().Get(RequestIDHeader)
			assert.NotEmpty(t, responseRequestID)
			assert.Equal(t, responseRequestID, capturedRequestID)
			assert.Equal(t, responseRequestID, forwarded)

			if tt.expectNewID {
				assert.NotEqual(t, tt.existingRequestID, responseRequestID)
				assert.Len(t, responseRequestID, 36)
			} else {
				assert.Equal(t, tt.existingRequestID, responseRequestID)
			}
		})
	}
}

func TestRequestIDWithGenerator(t *testing.T) {
	t.Parallel()

	handler := RequestIDWithGenerator(func() string { return "fixed" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "fixed", rec.Header().Get(RequestIDHeader))
}
