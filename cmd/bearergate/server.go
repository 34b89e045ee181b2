package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// readHeaderTimeout bounds reading request headers.
const readHeaderTimeout = 5 * time.Second

// run starts the listeners, warms the key set cache when configured, and
// blocks until ctx is canceled or SIGINT/SIGTERM arrives.
func (app *application) run(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpListener, err := net.Listen("tcp", app.config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.Server.Address, err)
	}

	var grpcListener net.Listener
	if app.grpcServer != nil {
		grpcListener, err = net.Listen("tcp", app.config.GRPC.Address)
		if err != nil {
			_ = httpListener.Close()
			return fmt.Errorf("failed to listen on %s: %w", app.config.GRPC.Address, err)
		}
	}

	return app.serve(ctx, httpListener, grpcListener, configPath)
}

// serve runs the servers on the given listeners until ctx is done.
func (app *application) serve(ctx context.Context, httpListener, grpcListener net.Listener, configPath string) error {
	errCh := make(chan error, 2)

	httpServer := app.newHTTPServer()
	go func() {
		app.logger.Info("starting HTTP server", observability.String("address", httpListener.Addr().String()))
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if grpcListener != nil {
		go func() {
			app.logger.Info("starting gRPC server", observability.String("address", grpcListener.Addr().String()))
			if err := app.grpcServer.Serve(grpcListener); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	app.prefetch(ctx)

	watcher := app.startConfigWatcher(ctx, configPath)

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("received shutdown signal")
	case runErr = <-errCh:
		app.logger.Error("server failed", observability.Error(runErr))
	}

	app.shutdown(httpServer, watcher)
	return runErr
}

func (app *application) newHTTPServer() *http.Server {
	return &http.Server{
		Handler:           app.handler,
		ReadTimeout:       app.config.Server.ReadTimeout.Duration(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      app.config.Server.WriteTimeout.Duration(),
	}
}

// prefetch warms the key sets of every allowed issuer when configured.
// Failures leave the resolver fetching lazily.
func (app *application) prefetch(ctx context.Context) {
	if !app.config.Auth.Prefetch {
		app.setServing()
		return
	}

	if err := app.resolver.Prefetch(ctx, app.config.Auth.AllowedIssuers); err != nil {
		app.logger.Warn("key set prefetch incomplete", observability.Error(err))
	}
	app.setServing()
}

func (app *application) setServing() {
	if app.grpcHealth != nil {
		app.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
}

// startConfigWatcher starts the configuration watcher. A missing or
// unwatchable file only disables hot reload.
func (app *application) startConfigWatcher(ctx context.Context, configPath string) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, app.applyConfig,
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(error) {
			app.reload.configReloadTotal.WithLabelValues("error").Inc()
		}),
	)
	if err != nil {
		app.logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		app.logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}
	app.reload.configWatcherStatus.Set(1)

	return watcher
}
