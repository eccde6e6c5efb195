package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/traffic-stats/pkg/analytics"
	"github.com/platinummonkey/traffic-stats/pkg/fetcher"
	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/storage"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

const tracerName = "github.com/platinummonkey/traffic-stats/pkg/collector"

// Fetcher retrieves one traffic payload. A nil payload with a nil error means "no data".
type Fetcher interface {
	Fetch(ctx context.Context, repository string, metric traffic.Metric) (traffic.Payload, error)
	Endpoint(repository string, metric traffic.Metric) string
}

// SnapshotWriter persists raw payloads
type SnapshotWriter interface {
	Write(snap *storage.Snapshot) (string, error)
}

// Config controls a collection run
type Config struct {
	Metrics []traffic.Metric
	Workers int
	// Backend labels summary upsert metrics
	Backend string
}

// Collector runs the daily fetch, reduce and upsert flow for one repository at a time
type Collector struct {
	fetcher   Fetcher
	snapshots SnapshotWriter
	summary   storage.SummaryStore
	locker    *storage.RunLocker

	metricList []traffic.Metric
	workers    int
	backend    string

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures optional Collector behavior
type Option func(*Collector)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Collector) {
		c.metrics = metrics
	}
}

// WithTracerProvider sets the tracer provider used for run spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Collector) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithLocker makes every run hold a per-repository lock
func WithLocker(locker *storage.RunLocker) Option {
	return func(c *Collector) {
		c.locker = locker
	}
}

// WithClock overrides the clock that dates records and snapshots
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a Collector
func New(f Fetcher, snapshots SnapshotWriter, summary storage.SummaryStore, cfg Config, opts ...Option) (*Collector, error) {
	if f == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if summary == nil {
		return nil, fmt.Errorf("summary store is required")
	}

	metricList := cfg.Metrics
	if len(metricList) == 0 {
		metricList = traffic.AllMetrics()
	}
	for _, m := range metricList {
		if !m.Valid() {
			return nil, fmt.Errorf("%w: %q", traffic.ErrUnknownMetric, string(m))
		}
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 2
	}
	backend := cfg.Backend
	if backend == "" {
		backend = storage.BackendCSV
	}

	c := &Collector{
		fetcher:    f,
		snapshots:  snapshots,
		summary:    summary,
		metricList: metricList,
		workers:    workers,
		backend:    backend,
		logger:     observability.NopLogger(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// fetchResult is one worker's slot
type fetchResult struct {
	payload traffic.Payload
	err     error
}

// Run collects today's traffic for repository and upserts it into the summary store.
// Failed or empty metrics are zero-filled. A transport failure aborts the run before
// anything is written.
func (c *Collector) Run(ctx context.Context, repository string) (rec *traffic.DailyRecord, err error) {
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}

	runID := uuid.New().String()
	ctx = observability.WithRunID(ctx, runID)
	ctx = observability.WithRepository(ctx, repository)
	ctx = observability.WithLogger(ctx, observability.GetLogger(ctx, c.logger))

	ctx, span := c.tracer.Start(ctx, "collector.Run", trace.WithAttributes(
		attribute.String("traffic.repository", repository),
		attribute.String("traffic.run_id", runID),
	))
	logger := observability.FromContext(ctx, c.logger)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.locker != nil {
		lock, err := c.locker.Acquire(ctx, repository)
		if err != nil {
			return nil, err
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
				logger.WithError(relErr).Warn("Failed to release run lock")
			}
		}()
	}

	logger.WithField("metrics", len(c.metricList)).Info("Starting collection run")

	results, err := c.fetchAll(ctx, repository, logger)
	if err != nil {
		logger.WithError(err).Error("Collection aborted, nothing written")
		return nil, err
	}

	now := c.now().UTC()
	rec = traffic.NewDailyRecord(repository, now)

	// All snapshots are written before any metric is reduced. A failed write aborts
	// the run without touching the summary; snapshots already appended stay on disk.
	for i, m := range c.metricList {
		res := results[i]
		if res.err != nil || traffic.IsEmpty(res.payload) {
			continue
		}
		path, err := c.snapshots.Write(&storage.Snapshot{
			Repository:  repository,
			Metric:      m,
			Date:        rec.Date,
			CollectedAt: now,
			Payload:     res.payload,
		})
		if err != nil {
			logger.WithError(err).WithField("metric", m.String()).Error("Failed to write snapshot, summary not updated")
			return nil, fmt.Errorf("failed to write %s snapshot for %s: %w", m, repository, err)
		}
		c.metrics.RecordSnapshot(m.String())
		logger.WithFields(map[string]interface{}{
			"metric": m.String(),
			"path":   path,
		}).Debug("Wrote snapshot")
	}

	for i, m := range c.metricList {
		res := results[i]
		mlog := logger.WithFields(map[string]interface{}{
			"metric":   m.String(),
			"endpoint": c.fetcher.Endpoint(repository, m),
		})

		switch {
		case res.err != nil:
			mlog.WithError(res.err).Warn("Metric could not be collected, recording zeros")
			c.metrics.RecordZeroFill(repository, m.String())
			rec.Merge(analytics.ZeroFill(m))

		case traffic.IsEmpty(res.payload):
			mlog.Info("No traffic data, recording zeros")
			c.metrics.RecordZeroFill(repository, m.String())
			rec.Merge(analytics.ZeroFill(m))

		default:
			rec.Merge(analytics.Reduce(m, res.payload))
		}
	}

	err = c.summary.Upsert(ctx, rec)
	c.metrics.RecordUpsert(c.backend, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert summary for %s: %w", repository, err)
	}

	c.metrics.RecordRun(repository, now)
	logger.WithField("date", rec.Date).Info("Collection run complete")
	return rec, nil
}

// fetchAll fetches every configured metric with at most c.workers in flight.
// Each worker writes only its own slot. Only transport failures and cancellation
// are returned; other errors stay in their slot.
func (c *Collector) fetchAll(ctx context.Context, repository string, logger *observability.Logger) ([]fetchResult, error) {
	results := make([]fetchResult, len(c.metricList))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, m := range c.metricList {
		g.Go(func() error {
			slot := &results[i]
			defer observability.RecoverPanic(logger, "fetch "+m.String(), &slot.err)

			slot.payload, slot.err = c.fetcher.Fetch(gctx, repository, m)
			if errors.Is(slot.err, fetcher.ErrTransport) {
				return slot.err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collection aborted for %s: %w", repository, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collection canceled for %s: %w", repository, err)
	}
	return results, nil
}
