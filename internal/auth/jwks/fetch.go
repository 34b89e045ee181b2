package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// NormalizeIssuer removes trailing slashes so that "https://a/" and
// "https://a" name the same issuer.
func NormalizeIssuer(issuer string) string {
	return strings.TrimRight(issuer, "/")
}

// KeySetURL returns the JWKS location for issuer. The issuer must be an
// absolute http or https URL with a host.
func KeySetURL(issuer string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid issuer URL %q: scheme must be http or https", issuer)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid issuer URL %q: missing host", issuer)
	}
	return NormalizeIssuer(issuer) + WellKnownPath, nil
}

// fetchDocument downloads the raw key set document. Every failure is
// wrapped with ErrNetwork.
func (r *Resolver) fetchDocument(ctx context.Context, issuer, jwksURL string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "jwks.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("jwks.issuer", issuer),
			attribute.String("http.url", jwksURL),
		),
	)
	defer span.End()

	start := time.Now()
	body, err := r.doFetch(ctx, jwksURL)
	duration := time.Since(start)

	if err != nil {
		r.metrics.RecordFetch(issuer, "error", duration)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}

	r.metrics.RecordFetch(issuer, "success", duration)
	span.SetAttributes(attribute.Int("jwks.document_size", len(body)))
	r.logger.Debug("key set fetched",
		observability.String("issuer", issuer),
		observability.String("url", jwksURL),
		observability.Duration("duration", duration),
	)
	return body, nil
}

func (r *Resolver) doFetch(ctx context.Context, jwksURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetch timed out after %s: %w", ErrNetwork, r.cfg.FetchTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("%w: endpoint returned status %d: %s",
			ErrNetwork, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrNetwork, err)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrMalformedKeySet, maxDocumentSize)
	}
	return body, nil
}
