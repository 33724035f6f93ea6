// Package observability provides logging, metrics, and tracing
// functionality for the agent gateway.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request forwarded",
//	    observability.String("destination", "finance"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
// Metrics owns the Prometheus registry shared by every component:
//
//	metrics := observability.NewMetrics("agentgateway")
//	handler := metrics.Handler()
//
// # Tracing
//
// Tracer exports spans over OTLP/gRPC when enabled and falls back to the
// global no-op provider otherwise.
package observability
