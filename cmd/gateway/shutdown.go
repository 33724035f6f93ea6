package main

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/agentgateway/internal/gateway"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// runGateway serves the surfaces selected by mode until ctx is done or a
// server fails, then shuts everything down.
func runGateway(ctx context.Context, app *application, mode gateway.Mode, logger observability.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range app.gateway.Servers(mode) {
		srv := srv
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	startMetricsServerIfEnabled(app, logger)

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("received shutdown signal")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdown(shutdownCtx, app, logger)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown stops the servers and flushes the recorder and tracer.
func shutdown(ctx context.Context, app *application, logger observability.Logger) {
	if app.metricsServer != nil {
		logger.Info("stopping metrics server")
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := app.gateway.Stop(ctx); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}

	// Close audit recorder to flush pending entries
	if err := app.recorder.Close(); err != nil {
		logger.Error("failed to close audit recorder", observability.Error(err))
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
