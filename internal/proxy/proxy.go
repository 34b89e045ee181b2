package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/vyrodovalexey/bearergate/internal/auth"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// Identity headers set on forwarded requests.
const (
	HeaderSubject = "X-Auth-Subject"
	HeaderIssuer  = "X-Auth-Issuer"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream is a reverse proxy to a single protected upstream.
type Upstream struct {
	target    *url.URL
	logger    observability.Logger
	metrics   *ProxyMetrics
	transport http.RoundTripper
	proxy     *httputil.ReverseProxy
}

// Option is a functional option for configuring the proxy.
type Option func(*Upstream)

// WithLogger sets the logger for the proxy.
func WithLogger(logger observability.Logger) Option {
	return func(u *Upstream) {
		u.logger = logger
	}
}

// WithTransport sets the transport for the proxy.
func WithTransport(transport http.RoundTripper) Option {
	return func(u *Upstream) {
		u.transport = transport
	}
}

// New creates a proxy to rawURL, which must be an absolute http(s) URL.
func New(rawURL string, opts ...Option) (*Upstream, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpstream, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpstream, rawURL)
	}

	u := &Upstream{
		target:  target,
		logger:  observability.NopLogger(),
		metrics: GetProxyMetrics(),
	}
	for _, opt := range opts {
		opt(u)
	}

	u.proxy = &httputil.ReverseProxy{
		Rewrite:        u.rewrite,
		Transport:      u.transport,
		FlushInterval:  -1,
		ErrorHandler:   u.errorHandler,
		ModifyResponse: u.observe,
	}
	return u, nil
}

// ServeHTTP implements http.Handler.
func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(context.WithValue(r.Context(), startKey{}, time.Now()))
	u.proxy.ServeHTTP(w, r)
}

type startKey struct{}

// rewrite points the outbound request at the upstream and sets identity
// headers from the principal.
func (u *Upstream) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(u.target)
	pr.SetXForwarded()

	for _, h := range hopHeaders {
		pr.Out.Header.Del(h)
	}

	pr.Out.Header.Del(HeaderSubject)
	pr.Out.Header.Del(HeaderIssuer)
	if principal, ok := auth.PrincipalFromContext(pr.In.Context()); ok {
		pr.Out.Header.Set(HeaderSubject, principal.Subject)
		pr.Out.Header.Set(HeaderIssuer, principal.Issuer)
	}

	observability.InjectTraceContext(pr.In.Context(), pr.Out)
}

func (u *Upstream) observe(resp *http.Response) error {
	if start, ok := resp.Request.Context().Value(startKey{}).(time.Time); ok {
		class := strconv.Itoa(resp.StatusCode/100) + "xx"
		u.metrics.upstreamDuration.WithLabelValues(class).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (u *Upstream) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	errorType, status, body, cause := "unavailable", http.StatusBadGateway, `{"error":"bad gateway"}`, ErrUpstreamUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		errorType, status, body, cause = "timeout", http.StatusGatewayTimeout, `{"error":"gateway timeout"}`, ErrUpstreamTimeout
	}
	u.metrics.errorsTotal.WithLabelValues(errorType).Inc()

	u.logger.WithContext(r.Context()).Error("proxy error",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.Error(fmt.Errorf("%w: %w", cause, err)),
	)

	w.Header().Set(auth.HeaderContentType, auth.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
