// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// Every binary builds one Logger, one Metrics and (optionally) one tracer provider at
// startup and passes them to the components it wires. Nothing in this package installs
// global state except InitTracing, which sets the global OTel provider.
//
// # Structured Logging
//
// Create a logger writing to stderr and a rotating file:
//
//	out, err := observability.OpenLogOutput(observability.LogFileConfig{
//		Path:      "traffic-stats/traffic-stats.log",
//		MaxSizeMB: 10,
//	}, os.Stderr)
//	defer out.Close()
//	logger := observability.NewLogger(observability.InfoLevel, out)
//
// Context-aware logging:
//
//	ctx = observability.WithRunID(ctx, runID)
//	ctx = observability.WithRepository(ctx, "soprano")
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx, nil).WithField("metric", "views").Warn("zero-filled")
//
// # Prometheus Metrics
//
// The binaries are short-lived, so metrics are written as a node exporter textfile at
// the end of a run instead of being scraped:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordFetch("views", "ok", time.Second)
//	metrics.WriteTextfile("/var/lib/node_exporter/traffic.prom")
//
// All Record* helpers accept a nil *Metrics.
//
// # OpenTelemetry
//
//	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "traffic-collector",
//	}, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
//
// # Shutdown
//
// ShutdownManager runs cleanup steps in reverse registration order once a command
// ends, and SignalContext cancels the run on SIGINT or SIGTERM:
//
//	ctx, stop := observability.SignalContext(context.Background(), logger)
//	defer stop()
//	sm := observability.NewShutdownManager(logger, 10*time.Second)
//	sm.Register("close log", func(context.Context) error { return out.Close() })
//	defer sm.Shutdown()
//
// # Related Packages
//
//   - pkg/config: Observability configuration
package observability
