package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/async"
	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/storage"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

// SeriesPoint is one date of a combined views or clones series
type SeriesPoint struct {
	Timestamp string `json:"timestamp"`
	Count     int    `json:"count"`
	Uniques   int    `json:"uniques"`
}

// ReferrerBreakdown is one date of a combined referrers series
type ReferrerBreakdown struct {
	Timestamp string             `json:"timestamp"`
	Data      []traffic.Referrer `json:"data"`
}

// PathBreakdown is one date of a combined paths series
type PathBreakdown struct {
	Timestamp string         `json:"timestamp"`
	Data      []traffic.Path `json:"data"`
}

// SkippedFile is a snapshot file left out of a combined series
type SkippedFile struct {
	Path   string
	Date   string
	Reason string
}

// CombineResult is the combined series of one (repository, metric) pair.
// Only the slice matching Metric is populated.
type CombineResult struct {
	Repository string
	Metric     traffic.Metric
	Files      int
	Skipped    []SkippedFile

	Points    []SeriesPoint
	Referrers []ReferrerBreakdown
	Paths     []PathBreakdown
}

// Len returns the number of dates in the series
func (r *CombineResult) Len() int {
	switch r.Metric {
	case traffic.MetricReferrers:
		return len(r.Referrers)
	case traffic.MetricPaths:
		return len(r.Paths)
	default:
		return len(r.Points)
	}
}

// Encode renders the series as an indented JSON array
func (r *CombineResult) Encode() ([]byte, error) {
	var series interface{}
	switch r.Metric {
	case traffic.MetricReferrers:
		series = nonNil(r.Referrers)
	case traffic.MetricPaths:
		series = nonNil(r.Paths)
	default:
		series = nonNil(r.Points)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(series); err != nil {
		return nil, fmt.Errorf("failed to encode %s series: %w", r.Metric, err)
	}
	return buf.Bytes(), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Combiner max-merges raw snapshots into one series per (repository, metric)
type Combiner struct {
	store   *storage.SnapshotStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// CombinerOption configures a Combiner
type CombinerOption func(*Combiner)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) CombinerOption {
	return func(c *Combiner) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) CombinerOption {
	return func(c *Combiner) {
		c.metrics = metrics
	}
}

// NewCombiner creates a combiner reading from store
func NewCombiner(store *storage.SnapshotStore, opts ...CombinerOption) *Combiner {
	c := &Combiner{
		store:  store,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// counts is a max-merged (count, uniques) pair
type counts struct {
	count   int
	uniques int
}

func (c *counts) merge(count, uniques int) {
	c.count = max(c.count, count)
	c.uniques = max(c.uniques, uniques)
}

// accumulator folds decoded snapshot payloads by date and sub-key
type accumulator struct {
	metric traffic.Metric
	points map[string]*counts
	items  map[string]map[string]*counts
	titles map[string]map[string]string
}

func newAccumulator(metric traffic.Metric) *accumulator {
	return &accumulator{
		metric: metric,
		points: make(map[string]*counts),
		items:  make(map[string]map[string]*counts),
		titles: make(map[string]map[string]string),
	}
}

func (a *accumulator) addPoints(points []traffic.Point) {
	for _, p := range points {
		ts := p.Timestamp.UTC().Format(time.RFC3339)
		c, ok := a.points[ts]
		if !ok {
			c = &counts{}
			a.points[ts] = c
		}
		c.merge(p.Count, p.Uniques)
	}
}

func (a *accumulator) addItem(date, key, title string, count, uniques int) {
	byKey, ok := a.items[date]
	if !ok {
		byKey = make(map[string]*counts)
		a.items[date] = byKey
		a.titles[date] = make(map[string]string)
	}
	c, ok := byKey[key]
	if !ok {
		c = &counts{}
		byKey[key] = c
	}
	c.merge(count, uniques)
	if a.titles[date][key] == "" && title != "" {
		a.titles[date][key] = title
	}
}

// add folds every payload of one file
func (a *accumulator) add(date string, payloads []traffic.Payload) {
	for _, payload := range payloads {
		switch p := payload.(type) {
		case *traffic.ViewsPayload:
			a.addPoints(p.Views)
		case *traffic.ClonesPayload:
			a.addPoints(p.Clones)
		case traffic.ReferrersPayload:
			for _, r := range p {
				a.addItem(date, r.Referrer, "", r.Count, r.Uniques)
			}
		case traffic.PathsPayload:
			for _, path := range p {
				a.addItem(date, path.Path, path.Title, path.Count, path.Uniques)
			}
		}
	}
}

func (a *accumulator) result(r *CombineResult) {
	switch a.metric {
	case traffic.MetricViews, traffic.MetricClones:
		for _, ts := range sortedKeys(a.points) {
			c := a.points[ts]
			r.Points = append(r.Points, SeriesPoint{Timestamp: ts, Count: c.count, Uniques: c.uniques})
		}
	case traffic.MetricReferrers:
		for _, date := range sortedKeys(a.items) {
			entry := ReferrerBreakdown{Timestamp: date, Data: []traffic.Referrer{}}
			for _, key := range rankedKeys(a.items[date]) {
				c := a.items[date][key]
				entry.Data = append(entry.Data, traffic.Referrer{Referrer: key, Count: c.count, Uniques: c.uniques})
			}
			r.Referrers = append(r.Referrers, entry)
		}
	case traffic.MetricPaths:
		for _, date := range sortedKeys(a.items) {
			entry := PathBreakdown{Timestamp: date, Data: []traffic.Path{}}
			for _, key := range rankedKeys(a.items[date]) {
				c := a.items[date][key]
				entry.Data = append(entry.Data, traffic.Path{
					Path:    key,
					Title:   a.titles[date][key],
					Count:   c.count,
					Uniques: c.uniques,
				})
			}
			r.Paths = append(r.Paths, entry)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rankedKeys orders breakdown items by count desc, uniques desc, key asc
func rankedKeys(m map[string]*counts) []string {
	keys := sortedKeys(m)
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := m[keys[i]], m[keys[j]]
		return ranksAbove(a.count, a.uniques, keys[i], b.count, b.uniques, keys[j])
	})
	return keys
}

// Combine max-merges every snapshot of (repository, metric). Unreadable files are
// reported in the result and skipped.
func (c *Combiner) Combine(ctx context.Context, repository string, metric traffic.Metric) (*CombineResult, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %q", traffic.ErrUnknownMetric, string(metric))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := c.store.List(repository, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s snapshots of %s: %w", metric, repository, err)
	}

	logger := c.logger.WithFields(map[string]interface{}{
		"repository": repository,
		"metric":     metric.String(),
	})

	result := &CombineResult{Repository: repository, Metric: metric}
	acc := newAccumulator(metric)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payloads, err := c.decodeFile(f)
		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"file": f.Path,
				"date": f.Date,
			}).Warn("Skipping snapshot file")
			result.Skipped = append(result.Skipped, SkippedFile{Path: f.Path, Date: f.Date, Reason: err.Error()})
			continue
		}

		acc.add(f.Date, payloads)
		result.Files++
	}

	acc.result(result)
	c.metrics.RecordCombine(repository, metric.String(), result.Len(), len(result.Skipped))
	logger.WithFields(map[string]interface{}{
		"files":   result.Files,
		"skipped": len(result.Skipped),
		"entries": result.Len(),
	}).Debug("Combined snapshots")
	return result, nil
}

// decodeFile decodes every entry of a file; one bad entry rejects the whole file
func (c *Combiner) decodeFile(f storage.SnapshotFile) ([]traffic.Payload, error) {
	entries, err := c.store.Read(f.Path)
	if err != nil {
		return nil, err
	}

	payloads := make([]traffic.Payload, 0, len(entries))
	for i, entry := range entries {
		if len(entry.Data) == 0 || string(entry.Data) == "null" {
			continue
		}
		p, err := traffic.DecodePayload(f.Metric, entry.Data)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// WriteCombined writes the series to {repo}-{metric}-combined.json and returns the path
func (c *Combiner) WriteCombined(result *CombineResult) (string, error) {
	data, err := result.Encode()
	if err != nil {
		return "", err
	}
	path, err := c.store.WriteCombined(result.Repository, result.Metric, data)
	if err != nil {
		return "", fmt.Errorf("failed to write combined %s series of %s: %w", result.Metric, result.Repository, err)
	}
	return path, nil
}

// CombineOutcome is the outcome of one pair in CombineAll
type CombineOutcome struct {
	Repository string
	Metric     traffic.Metric
	Result     *CombineResult
	Path       string
	Err        error
}

// CombineAll combines and writes every (repository, metric) pair on a bounded worker pool.
// A failing pair does not stop the others; outcomes are returned in input order.
func (c *Combiner) CombineAll(ctx context.Context, repositories []string, metrics []traffic.Metric, workers int) []CombineOutcome {
	outcomes := make([]CombineOutcome, 0, len(repositories)*len(metrics))
	for _, repo := range repositories {
		for _, m := range metrics {
			outcomes = append(outcomes, CombineOutcome{Repository: repo, Metric: m})
		}
	}

	indexes := make([]int, len(outcomes))
	for i := range indexes {
		indexes[i] = i
	}

	// each task writes only its own slot
	errs := async.Batch(ctx, indexes, workers, "combine", 0, func(ctx context.Context, i int) error {
		out := &outcomes[i]
		result, err := c.Combine(ctx, out.Repository, out.Metric)
		if err != nil {
			out.Err = err
			return err
		}
		out.Result = result

		path, err := c.WriteCombined(result)
		if err != nil {
			out.Err = err
			return err
		}
		out.Path = path
		return nil
	}, async.WithLogger(c.logger))

	for _, err := range errs {
		c.logger.WithError(err).Error("Combine task failed")
	}

	for i := range outcomes {
		out := &outcomes[i]
		if out.Path != "" || out.Err != nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			out.Err = ctxErr
		} else {
			out.Err = fmt.Errorf("combine of %s %s did not complete", out.Repository, out.Metric)
		}
	}
	return outcomes
}
