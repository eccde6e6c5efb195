package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/analytics"
	"github.com/platinummonkey/traffic-stats/pkg/config"
	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/storage"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	configFile = flag.String("config", "", "Path to a YAML config file (default $TRAFFIC_CONFIG_FILE)")
	workers    = flag.Int("workers", 0, "Number of (repository, metric) pairs combined concurrently (default $TRAFFIC_WORKERS)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] [-workers n] [repository...]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Folds raw snapshots into one combined series per repository and metric.")
		flag.PrintDefaults()
	}
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitUsage
	}
	if *workers < 0 {
		log.Printf("Invalid -workers value: %d", *workers)
		return exitUsage
	}
	if *workers > 0 {
		cfg.Collection.Workers = *workers
	}

	out, err := observability.OpenLogOutput(cfg.LogFileConfig(), os.Stderr)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return exitFailure
	}
	defer out.Close()

	logger := observability.NewLogger(cfg.LogLevel(), out).WithField("service", "traffic-combiner")

	shutdown := observability.NewShutdownManager(logger, 10*time.Second)
	defer func() {
		if err := shutdown.Shutdown(); err != nil {
			logger.WithError(err).Warn("Shutdown incomplete")
		}
	}()

	ctx, cancel := observability.SignalContext(context.Background(), logger)
	defer cancel()

	tp, err := observability.InitTracing(ctx, cfg.OTelConfig("combiner"), logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize tracing, continuing without it")
	} else if tp != nil {
		shutdown.Register("tracing", func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp, logger)
		})
	}

	metrics := observability.NewMetrics(nil)
	if path := cfg.Observability.MetricsFile; path != "" {
		shutdown.Register("metrics textfile", func(context.Context) error {
			return metrics.WriteTextfile(path)
		})
	}

	store, err := storage.NewSnapshotStore(cfg.Storage.OutputDir)
	if err != nil {
		logger.WithError(err).Error("Failed to open snapshot store")
		return exitFailure
	}

	repos := flag.Args()
	if len(repos) == 0 {
		repos = cfg.Collection.Repositories
	}
	if len(repos) == 0 {
		repos, err = store.Repositories()
		if err != nil {
			logger.WithError(err).Error("Failed to discover repositories")
			return exitFailure
		}
	}
	if len(repos) == 0 {
		logger.WithField("output_dir", store.Dir()).Warn("No snapshots found, nothing to combine")
		return exitOK
	}

	metricList, err := cfg.MetricList()
	if err != nil {
		logger.WithError(err).Error("Invalid metrics")
		return exitUsage
	}

	combiner := analytics.NewCombiner(store,
		analytics.WithLogger(logger),
		analytics.WithMetrics(metrics),
	)

	failed := 0
	for _, outcome := range combiner.CombineAll(ctx, repos, metricList, cfg.Collection.Workers) {
		olog := logger.WithFields(map[string]interface{}{
			"repository": outcome.Repository,
			"metric":     outcome.Metric.String(),
		})
		if outcome.Err != nil {
			failed++
			olog.WithError(outcome.Err).Error("Failed to combine snapshots")
			continue
		}
		olog.WithFields(map[string]interface{}{
			"path":    outcome.Path,
			"files":   outcome.Result.Files,
			"entries": outcome.Result.Len(),
			"skipped": len(outcome.Result.Skipped),
		}).Info("Combined snapshots")
	}

	if failed > 0 {
		logger.WithField("failed", failed).Error("Combine finished with failures")
		return exitFailure
	}
	return exitOK
}
