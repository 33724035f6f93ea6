package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/agentgateway/internal/health"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

const metricsPath = "/metrics"

// createMetricsServer creates the metrics HTTP server.
func createMetricsServer(
	port int,
	metrics *observability.Metrics,
	healthChecker *health.Checker,
	logger observability.Logger,
) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(metricsPath, gin.WrapH(metrics.Handler()))
	healthChecker.Register(engine)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", metricsPath),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	if !app.config.Metrics.Enabled {
		return
	}
	app.metricsServer = createMetricsServer(app.config.Metrics.Port, app.metrics, app.healthChecker, logger)
	go runMetricsServer(app.metricsServer, logger)
}
