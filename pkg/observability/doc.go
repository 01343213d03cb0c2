// Package observability provides logrus logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("session_id", id).Info("session flushed")
//
// Request-scoped loggers are stored by middleware and retrieved with FromContext.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ACLDecisionsTotal.WithLabelValues("allowed").Inc()
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp)
//	ctx, span := observability.Tracer().Start(ctx, "rbac.Check")
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("cache_invalidation", false, probe)
//	router.HandleFunc("/health/ready", checker.Readiness)
package observability
