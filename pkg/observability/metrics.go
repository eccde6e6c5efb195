package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Fetch metrics
	FetchRequestsTotal  *prometheus.CounterVec
	FetchRetriesTotal   *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	RateLimitWaitsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Collection metrics
	ZeroFilledTotal       *prometheus.CounterVec
	SnapshotsWrittenTotal *prometheus.CounterVec
	SummaryUpsertsTotal   *prometheus.CounterVec
	LastRunTimestamp      *prometheus.GaugeVec

	// Combine metrics
	CombineSkippedFilesTotal *prometheus.CounterVec
	CombinedEntries          *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
// A nil registry creates a private one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		FetchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_fetch_requests_total",
				Help: "Total number of traffic API requests by outcome",
			},
			[]string{"metric", "status"},
		),
		FetchRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_fetch_retries_total",
				Help: "Total number of retried traffic API requests",
			},
			[]string{"metric"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "traffic_fetch_duration_seconds",
				Help:    "Traffic fetch duration in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
		RateLimitWaitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_rate_limit_waits_total",
				Help: "Total number of waits for a rate limit reset",
			},
			[]string{"metric"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_cache_hits_total",
				Help: "Total number of fetch cache hits",
			},
			[]string{"metric"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_cache_misses_total",
				Help: "Total number of fetch cache misses",
			},
			[]string{"metric"},
		),

		ZeroFilledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_zero_filled_total",
				Help: "Total number of metrics zero-filled after a failed fetch",
			},
			[]string{"repository", "metric"},
		),
		SnapshotsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_snapshots_written_total",
				Help: "Total number of raw snapshots written",
			},
			[]string{"metric"},
		),
		SummaryUpsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_summary_upserts_total",
				Help: "Total number of summary upserts by backend and outcome",
			},
			[]string{"backend", "status"},
		),
		LastRunTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "traffic_last_run_timestamp_seconds",
				Help: "Unix time of the last successful collection run",
			},
			[]string{"repository"},
		),

		CombineSkippedFilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_combine_skipped_files_total",
				Help: "Total number of snapshot files skipped while combining",
			},
			[]string{"metric"},
		),
		CombinedEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "traffic_combined_entries",
				Help: "Number of dated entries in the last combined series",
			},
			[]string{"repository", "metric"},
		),
	}

	registry.MustRegister(
		m.FetchRequestsTotal,
		m.FetchRetriesTotal,
		m.FetchDuration,
		m.RateLimitWaitsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ZeroFilledTotal,
		m.SnapshotsWrittenTotal,
		m.SummaryUpsertsTotal,
		m.LastRunTimestamp,
		m.CombineSkippedFilesTotal,
		m.CombinedEntries,
	)

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFetch records the outcome of one fetch
func (m *Metrics) RecordFetch(metric, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchRequestsTotal.WithLabelValues(metric, status).Inc()
	m.FetchDuration.WithLabelValues(metric).Observe(duration.Seconds())
}

// RecordRetry records a retried request, distinguishing rate limit waits
func (m *Metrics) RecordRetry(metric string, rateLimited bool) {
	if m == nil {
		return
	}
	if rateLimited {
		m.RateLimitWaitsTotal.WithLabelValues(metric).Inc()
		return
	}
	m.FetchRetriesTotal.WithLabelValues(metric).Inc()
}

// RecordCacheHit records a fetch cache hit
func (m *Metrics) RecordCacheHit(metric string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(metric).Inc()
}

// RecordCacheMiss records a fetch cache miss
func (m *Metrics) RecordCacheMiss(metric string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(metric).Inc()
}

// RecordZeroFill records a metric substituted by zeros
func (m *Metrics) RecordZeroFill(repository, metric string) {
	if m == nil {
		return
	}
	m.ZeroFilledTotal.WithLabelValues(repository, metric).Inc()
}

// RecordSnapshot records a raw snapshot write
func (m *Metrics) RecordSnapshot(metric string) {
	if m == nil {
		return
	}
	m.SnapshotsWrittenTotal.WithLabelValues(metric).Inc()
}

// RecordUpsert records a summary upsert
func (m *Metrics) RecordUpsert(backend string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SummaryUpsertsTotal.WithLabelValues(backend, status).Inc()
}

// RecordRun records a successful collection run
func (m *Metrics) RecordRun(repository string, at time.Time) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.WithLabelValues(repository).Set(float64(at.Unix()))
}

// RecordCombine records the result of combining one (repository, metric) pair
func (m *Metrics) RecordCombine(repository, metric string, entries, skipped int) {
	if m == nil {
		return
	}
	m.CombinedEntries.WithLabelValues(repository, metric).Set(float64(entries))
	if skipped > 0 {
		m.CombineSkippedFilesTotal.WithLabelValues(metric).Add(float64(skipped))
	}
}

// WriteTextfile writes all metrics in the node exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
