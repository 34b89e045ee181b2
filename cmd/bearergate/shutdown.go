package main

import (
	"context"
	"net/http"

	"github.com/vyrodovalexey/bearergate/internal/config"
	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// shutdown stops the watcher and both servers, then flushes traces and
// closes the key set store.
func (app *application) shutdown(httpServer *http.Server, watcher *config.Watcher) {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
		app.reload.configWatcherStatus.Set(0)
	}

	if app.grpcHealth != nil {
		app.grpcHealth.Shutdown()
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		app.logger.Error("failed to stop HTTP server gracefully", observability.Error(err))
	}

	if app.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			app.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			app.grpcServer.Stop()
		}
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	if err := app.store.Close(); err != nil {
		app.logger.Error("failed to close key set store", observability.Error(err))
	}

	app.logger.Info("bearergate stopped")
}
