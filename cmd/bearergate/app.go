package main

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vyrodovalexey/bearergate/internal/auth"
	"github.com/vyrodovalexey/bearergate/internal/auth/jwks"
	"github.com/vyrodovalexey/bearergate/internal/auth/jwt"
	"github.com/vyrodovalexey/bearergate/internal/cache"
	"github.com/vyrodovalexey/bearergate/internal/config"
	grpcmw "github.com/vyrodovalexey/bearergate/internal/grpc/middleware"
	healthcheck "github.com/vyrodovalexey/bearergate/internal/health"
	"github.com/vyrodovalexey/bearergate/internal/middleware"
	"github.com/vyrodovalexey/bearergate/internal/observability"
	"github.com/vyrodovalexey/bearergate/internal/proxy"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "bearergate"

// verifyPath is the forward-auth endpoint.
const verifyPath = "/auth/verify"

// application holds all application components.
type application struct {
	config *config.GateConfig
	logger observability.Logger

	metrics       *observability.Metrics
	tracer        *observability.Tracer
	store         cache.Cache
	resolver      *jwks.Resolver
	jwtMetrics    *jwt.Metrics
	gate          *auth.Gate
	healthChecker *healthcheck.Checker
	grpcHealth    *health.Server
	reload        *reloadMetrics

	// reloadMu guards current, the configuration last applied by a reload.
	reloadMu sync.Mutex
	current  *config.GateConfig

	handler    http.Handler
	grpcServer *grpc.Server
}

// newApplication builds every component from cfg. Nothing is started.
func newApplication(cfg *config.GateConfig, logger observability.Logger) (*application, error) {
	app := &application{
		config:  cfg,
		current: cfg,
		logger:  logger,
		metrics: observability.NewMetrics(metricsNamespace),
	}
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)
	app.reload = newReloadMetrics(app.metrics)

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Observability.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	app.store, err = cache.New(cfg.Auth.KeySetStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key set store: %w", err)
	}

	jwksMetrics := jwks.NewMetrics(metricsNamespace)
	jwksMetrics.Init()
	app.resolver = jwks.NewResolver(resolverConfig(&cfg.Auth),
		jwks.WithLogger(logger),
		jwks.WithMetrics(jwksMetrics),
		jwks.WithStore(app.store),
	)

	app.jwtMetrics = jwt.NewMetrics(metricsNamespace)
	app.jwtMetrics.Init()
	validator, err := app.newValidator(&cfg.Auth)
	if err != nil {
		return nil, err
	}

	gateMetrics := auth.NewMetrics(metricsNamespace)
	gateMetrics.Init()
	app.gate, err = auth.NewGate(validator,
		auth.WithLogger(logger),
		auth.WithMetrics(gateMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate: %w", err)
	}

	app.healthChecker = healthcheck.NewChecker(version, logger)
	app.healthChecker.RegisterCheck("keysets", healthcheck.KeySetCheck(app.resolver, cfg.Auth.Prefetch))
	if cfg.Auth.StoreType() != config.StoreTypeNone {
		app.healthChecker.RegisterCheck("store", healthcheck.StoreCheck(app.store))
	}

	registry := app.metrics.Registry()
	jwksMetrics.MustRegister(registry)
	app.jwtMetrics.MustRegister(registry)
	gateMetrics.MustRegister(registry)
	cache.GetCacheMetrics().MustRegister(registry)
	middleware.GetMiddlewareMetrics().MustRegister(registry)
	healthcheck.GetHealthMetrics().MustRegister(registry)
	healthcheck.GetHealthMetrics().Init()
	proxy.GetProxyMetrics().MustRegister(registry)

	engine, err := app.newRouter()
	if err != nil {
		return nil, err
	}
	app.handler = app.buildMiddlewareChain(engine)

	if cfg.GRPC.Enabled {
		app.grpcServer = app.newGRPCServer()
	}

	return app, nil
}

// resolverConfig maps the auth section onto the resolver settings.
func resolverConfig(a *config.AuthConfig) jwks.Config {
	cfg := jwks.Config{
		FetchTimeout:       a.JWKSFetchTimeout.Duration(),
		CacheTTL:           a.JWKSCacheTTL.Duration(),
		MinRefreshInterval: a.MinRefreshInterval.Duration(),
	}
	if cb := a.CircuitBreaker; cb != nil && cb.Enabled {
		cfg.CircuitBreaker = &jwks.BreakerConfig{
			MaxFailures:      cb.MaxFailures,
			Timeout:          cb.Timeout.Duration(),
			HalfOpenRequests: cb.HalfOpenRequests,
		}
	}
	return cfg
}

// newValidator builds a token validator for the auth section sharing the
// application's resolver.
func (app *application) newValidator(a *config.AuthConfig) (*jwt.Validator, error) {
	v, err := jwt.NewValidator(jwt.Config{
		AllowedIssuers:   a.AllowedIssuers,
		RequiredAudience: a.RequiredAudience,
		Algorithm:        a.VerificationAlgorithm,
		ClockSkew:        a.ClockSkew.Duration(),
	}, app.resolver,
		jwt.WithLogger(app.logger),
		jwt.WithMetrics(app.jwtMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}
	return v, nil
}

// newRouter registers the probe, metrics and forward-auth routes. Every
// other path is proxied to the upstream behind the gate, or answered with
// 404 when no upstream is configured.
func (app *application) newRouter() (*gin.Engine, error) {
	engine := gin.New()
	engine.Use(app.metrics.GinMiddleware())

	app.healthChecker.RegisterRoutes(engine)
	if app.config.Observability.Metrics.Enabled {
		engine.GET(app.config.Observability.Metrics.Path, gin.WrapH(app.metrics.Handler()))
	}
	engine.GET(verifyPath, app.gate.VerifyHandler())

	if app.config.Server.Upstream == "" {
		engine.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		})
		return engine, nil
	}

	upstream, err := proxy.New(app.config.Server.Upstream, proxy.WithLogger(app.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream proxy: %w", err)
	}
	engine.NoRoute(app.gate.GinMiddleware(), gin.WrapH(upstream))

	return engine, nil
}

// buildMiddlewareChain wraps the router, outermost first: recovery,
// request id, access log, tracing.
func (app *application) buildMiddlewareChain(handler http.Handler) http.Handler {
	h := observability.TracingMiddleware(app.tracer)(handler)
	h = middleware.Logging(app.logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(app.logger)(h)
	return h
}

// newGRPCServer creates the gRPC server with the health service behind
// the gate.
func (app *application) newGRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcmw.UnaryRecovery(app.logger),
			grpcmw.UnaryRequestID(),
			grpcmw.UnaryLogging(app.logger),
			app.gate.UnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			grpcmw.StreamRecovery(app.logger),
			grpcmw.StreamRequestID(),
			grpcmw.StreamLogging(app.logger),
			app.gate.StreamInterceptor(),
		),
	)

	app.grpcHealth = health.NewServer()
	healthpb.RegisterHealthServer(srv, app.grpcHealth)
	return srv
}
