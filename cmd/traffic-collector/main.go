package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/collector"
	"github.com/platinummonkey/traffic-stats/pkg/config"
	"github.com/platinummonkey/traffic-stats/pkg/fetcher"
	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/storage"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var configFile = flag.String("config", "", "Path to a YAML config file (default $TRAFFIC_CONFIG_FILE)")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] [repository]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Collects today's traffic for one repository. The repository defaults to $TRAFFIC_REPOSITORY or $GITHUB_REPOSITORY.")
		flag.PrintDefaults()
	}
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if flag.NArg() > 1 {
		flag.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitUsage
	}
	if flag.NArg() == 1 {
		cfg.Collection.Repository = flag.Arg(0)
	}
	if err := cfg.ValidateForCollect(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitUsage
	}

	out, err := observability.OpenLogOutput(cfg.LogFileConfig(), os.Stderr)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return exitFailure
	}
	defer out.Close()

	logger := observability.NewLogger(cfg.LogLevel(), out).WithField("service", "traffic-collector")

	shutdown := observability.NewShutdownManager(logger, 10*time.Second)
	defer func() {
		if err := shutdown.Shutdown(); err != nil {
			logger.WithError(err).Warn("Shutdown incomplete")
		}
	}()

	ctx, cancel := observability.SignalContext(context.Background(), logger)
	defer cancel()

	tp, err := observability.InitTracing(ctx, cfg.OTelConfig("collector"), logger)
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

	client, err := fetcher.New(cfg.FetcherConfig(),
		fetcher.WithLogger(logger),
		fetcher.WithMetrics(metrics),
	)
	if err != nil {
		logger.WithError(err).Error("Failed to create traffic client")
		return exitUsage
	}

	snapshots, err := storage.NewSnapshotStore(cfg.Storage.OutputDir)
	if err != nil {
		logger.WithError(err).Error("Failed to open snapshot store")
		return exitFailure
	}

	summary, err := storage.OpenSummaryStore(ctx, cfg.SummaryConfig())
	if err != nil {
		logger.WithError(err).Error("Failed to open summary store")
		return exitFailure
	}
	shutdown.Register("summary store", func(context.Context) error {
		return summary.Close()
	})

	opts := []collector.Option{
		collector.WithLogger(logger),
		collector.WithMetrics(metrics),
	}
	if cfg.Storage.RedisURL != "" {
		locker, err := storage.NewRunLocker(ctx, cfg.Storage.RedisURL, cfg.Storage.LockTTL)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to Redis for the run lock")
			return exitFailure
		}
		shutdown.Register("run locker", func(context.Context) error {
			return locker.Close()
		})
		opts = append(opts, collector.WithLocker(locker))
	}

	metricList, err := cfg.MetricList()
	if err != nil {
		logger.WithError(err).Error("Invalid metrics")
		return exitUsage
	}

	c, err := collector.New(client, snapshots, summary, collector.Config{
		Metrics: metricList,
		Workers: cfg.Collection.Workers,
		Backend: cfg.Storage.SummaryBackend,
	}, opts...)
	if err != nil {
		logger.WithError(err).Error("Failed to create collector")
		return exitUsage
	}

	rec, err := c.Run(ctx, cfg.Collection.Repository)
	if err != nil {
		logger.WithError(err).WithField("repository", cfg.Collection.Repository).Error("Collection failed")
		return exitFailure
	}

	logger.WithFields(map[string]interface{}{
		"repository": rec.Repository,
		"date":       rec.Date,
		"output_dir": cfg.Storage.OutputDir,
	}).Info("Traffic stats collected")
	return exitOK
}
