package analytics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/storage"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCombiner(t *testing.T) (*Combiner, *storage.SnapshotStore) {
	t.Helper()
	store, err := storage.NewSnapshotStore(t.TempDir())
	require.NoError(t, err)
	return NewCombiner(store), store
}

func writeSnapshot(t *testing.T, store *storage.SnapshotStore, repo string, date string, hour int, payload traffic.Payload) {
	t.Helper()
	collected, err := time.Parse(traffic.DateLayout, date)
	require.NoError(t, err)
	_, err = store.Write(&storage.Snapshot{
		Repository:  repo,
		Metric:      payload.Metric(),
		Date:        date,
		CollectedAt: collected.Add(time.Duration(hour) * time.Hour),
		Payload:     payload,
	})
	require.NoError(t, err)
}

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestCombine_ReferrersMaxMerge(t *testing.T) {
	combiner, store := newTestCombiner(t)

	writeSnapshot(t, store, "soprano", "2026-01-15", 6, traffic.ReferrersPayload{{Referrer: "google", Count: 5, Uniques: 4}})
	writeSnapshot(t, store, "soprano", "2026-01-15", 18, traffic.ReferrersPayload{
		{Referrer: "google", Count: 8, Uniques: 2},
		{Referrer: "bing", Count: 1, Uniques: 1},
	})

	result, err := combiner.Combine(context.Background(), "soprano", traffic.MetricReferrers)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Files)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, []ReferrerBreakdown{{
		Timestamp: "2026-01-15",
		Data: []traffic.Referrer{
			{Referrer: "google", Count: 8, Uniques: 4},
			{Referrer: "bing", Count: 1, Uniques: 1},
		},
	}}, result.Referrers, "max of count and max of uniques, not a sum")
}

func TestCombine_ViewsKeyedByPointTimestamp(t *testing.T) {
	combiner, store := newTestCombiner(t)

	// overlapping 14-day windows collected on consecutive days
	writeSnapshot(t, store, "soprano", "2026-01-14", 0, &traffic.ViewsPayload{
		Count: 7, Uniques: 3,
		Views: []traffic.Point{
			{Timestamp: day(12), Count: 3, Uniques: 1},
			{Timestamp: day(13), Count: 4, Uniques: 2},
		},
	})
	writeSnapshot(t, store, "soprano", "2026-01-15", 0, &traffic.ViewsPayload{
		Count: 9, Uniques: 4,
		Views: []traffic.Point{
			{Timestamp: day(13), Count: 6, Uniques: 1},
			{Timestamp: day(14), Count: 3, Uniques: 3},
		},
	})

	result, err := combiner.Combine(context.Background(), "soprano", traffic.MetricViews)
	require.NoError(t, err)
	assert.Equal(t, []SeriesPoint{
		{Timestamp: "2026-01-12T00:00:00Z", Count: 3, Uniques: 1},
		{Timestamp: "2026-01-13T00:00:00Z", Count: 6, Uniques: 2},
		{Timestamp: "2026-01-14T00:00:00Z", Count: 3, Uniques: 3},
	}, result.Points)
	assert.Equal(t, 3, result.Len())
}

func TestCombine_PathsKeepFirstTitleAndRank(t *testing.T) {
	combiner, store := newTestCombiner(t)

	writeSnapshot(t, store, "soprano", "2026-01-15", 1, traffic.PathsPayload{
		{Path: "/o/soprano/issues", Title: "", Count: 2, Uniques: 2},
		{Path: "/o/soprano", Title: "soprano", Count: 2, Uniques: 2},
	})
	writeSnapshot(t, store, "soprano", "2026-01-15", 2, traffic.PathsPayload{
		{Path: "/o/soprano/issues", Title: "Issues", Count: 1, Uniques: 1},
		{Path: "/o/soprano", Title: "renamed", Count: 9, Uniques: 2},
	})

	result, err := combiner.Combine(context.Background(), "soprano", traffic.MetricPaths)
	require.NoError(t, err)
	require.Len(t, result.Paths, 1)
	assert.Equal(t, []traffic.Path{
		{Path: "/o/soprano", Title: "soprano", Count: 9, Uniques: 2},
		{Path: "/o/soprano/issues", Title: "Issues", Count: 2, Uniques: 2},
	}, result.Paths[0].Data)
}

func TestCombine_SkipsMalformedFiles(t *testing.T) {
	combiner, store := newTestCombiner(t)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	combiner = NewCombiner(store, WithMetrics(metrics), WithLogger(observability.NopLogger()))

	writeSnapshot(t, store, "soprano", "2026-01-14", 0, &traffic.ClonesPayload{
		Count: 2, Uniques: 1, Clones: []traffic.Point{{Timestamp: day(14), Count: 2, Uniques: 1}},
	})
	bad := filepath.Join(store.Dir(), "soprano-clones-2026-01-15.json")
	require.NoError(t, os.WriteFile(bad, []byte("[{"), 0644))
	wrongShape := filepath.Join(store.Dir(), "soprano-clones-2026-01-16.json")
	require.NoError(t, os.WriteFile(wrongShape, []byte(`[{"timestamp": "x", "data": [1, 2]}]`), 0644))

	result, err := combiner.Combine(context.Background(), "soprano", traffic.MetricClones)
	require.NoError(t, err, "bad files do not abort the pass")
	assert.Equal(t, 1, result.Files)
	require.Len(t, result.Skipped, 2)
	assert.Equal(t, bad, result.Skipped[0].Path)
	assert.Equal(t, "2026-01-15", result.Skipped[0].Date)
	assert.NotEmpty(t, result.Skipped[0].Reason)
	assert.Equal(t, "2026-01-16", result.Skipped[1].Date)
	assert.Equal(t, []SeriesPoint{{Timestamp: "2026-01-14T00:00:00Z", Count: 2, Uniques: 1}}, result.Points)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CombineSkippedFilesTotal.WithLabelValues("clones")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CombinedEntries.WithLabelValues("soprano", "clones")))
}

func TestCombine_NoSnapshots(t *testing.T) {
	combiner, _ := newTestCombiner(t)

	result, err := combiner.Combine(context.Background(), "soprano", traffic.MetricReferrers)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Len())

	data, err := result.Encode()
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestCombine_UnknownMetric(t *testing.T) {
	combiner, _ := newTestCombiner(t)
	_, err := combiner.Combine(context.Background(), "soprano", traffic.Metric("forks"))
	assert.ErrorIs(t, err, traffic.ErrUnknownMetric)
}

func TestWriteCombined_DeterministicAndIdempotent(t *testing.T) {
	combiner, store := newTestCombiner(t)

	writeSnapshot(t, store, "soprano", "2026-01-14", 0, traffic.PathsPayload{
		{Path: "/o/soprano", Title: "soprano & friends", Count: 4, Uniques: 2},
		{Path: "/o/soprano/README.md", Title: "README.md", Count: 4, Uniques: 2},
	})
	writeSnapshot(t, store, "soprano", "2026-01-15", 0, traffic.PathsPayload{
		{Path: "/o/soprano/wiki", Title: "Wiki", Count: 1, Uniques: 1},
	})

	ctx := context.Background()
	first, err := combiner.Combine(ctx, "soprano", traffic.MetricPaths)
	require.NoError(t, err)
	path, err := combiner.WriteCombined(first)
	require.NoError(t, err)
	assert.Equal(t, store.CombinedPath("soprano", traffic.MetricPaths), path)

	firstBytes, err := os.ReadFile(path)
	require.NoError(t, err)

	second, err := combiner.Combine(ctx, "soprano", traffic.MetricPaths)
	require.NoError(t, err, "the combined file itself is never read back")
	_, err = combiner.WriteCombined(second)
	require.NoError(t, err)

	secondBytes, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(firstBytes), string(secondBytes))

	want := `[
    {
        "timestamp": "2026-01-14",
        "data": [
            {
                "path": "/o/soprano",
                "title": "soprano & friends",
                "count": 4,
                "uniques": 2
            },
            {
                "path": "/o/soprano/README.md",
                "title": "README.md",
                "count": 4,
                "uniques": 2
            }
        ]
    },
    {
        "timestamp": "2026-01-15",
        "data": [
            {
                "path": "/o/soprano/wiki",
                "title": "Wiki",
                "count": 1,
                "uniques": 1
            }
        ]
    }
]
`
	assert.Equal(t, want, string(firstBytes))
}

func TestCombineAll(t *testing.T) {
	combiner, store := newTestCombiner(t)

	writeSnapshot(t, store, "soprano", "2026-01-15", 0, traffic.ReferrersPayload{{Referrer: "google", Count: 1, Uniques: 1}})
	writeSnapshot(t, store, "crystvis-js", "2026-01-15", 0, &traffic.ViewsPayload{
		Count: 1, Uniques: 1, Views: []traffic.Point{{Timestamp: day(15), Count: 1, Uniques: 1}},
	})

	repos := []string{"soprano", "crystvis-js"}
	metrics := []traffic.Metric{traffic.MetricViews, traffic.MetricReferrers, traffic.Metric("forks")}
	outcomes := combiner.CombineAll(context.Background(), repos, metrics, 3)
	require.Len(t, outcomes, 6)

	for _, out := range outcomes {
		if out.Metric == "forks" {
			assert.ErrorIs(t, out.Err, traffic.ErrUnknownMetric)
			continue
		}
		require.NoError(t, out.Err, "%s %s", out.Repository, out.Metric)
		assert.FileExists(t, out.Path)
		assert.True(t, strings.HasSuffix(out.Path, out.Repository+"-"+out.Metric.String()+"-combined.json"))
	}

	assert.Equal(t, "soprano", outcomes[0].Repository)
	assert.Equal(t, traffic.MetricViews, outcomes[0].Metric)
	assert.Equal(t, 0, outcomes[0].Result.Len())
	assert.Equal(t, 1, outcomes[1].Result.Len())
	assert.Equal(t, 1, outcomes[3].Result.Len())
}

func TestCombineAll_Canceled(t *testing.T) {
	combiner, _ := newTestCombiner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := combiner.CombineAll(ctx, []string{"soprano"}, traffic.AllMetrics(), 2)
	require.Len(t, outcomes, 4)
	for _, out := range outcomes {
		assert.Error(t, out.Err)
	}
}
