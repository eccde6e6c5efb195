package analytics

import (
	"math/rand"
	"testing"

	"github.com/platinummonkey/traffic-stats/pkg/traffic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceViewsAndClones(t *testing.T) {
	assert.Equal(t, traffic.CountSummary{Count: 14, Uniques: 4},
		ReduceViews(&traffic.ViewsPayload{Count: 14, Uniques: 4}))
	assert.Equal(t, traffic.CountSummary{Count: 3, Uniques: 2},
		ReduceClones(&traffic.ClonesPayload{Count: 3, Uniques: 2}))

	assert.Equal(t, traffic.CountSummary{}, ReduceViews(nil))
	assert.Equal(t, traffic.CountSummary{}, ReduceClones(nil))
}

func TestReduceReferrers_TieOnCountHigherUniquesWins(t *testing.T) {
	summary := ReduceReferrers(traffic.ReferrersPayload{
		{Referrer: "google", Count: 10, Uniques: 5},
		{Referrer: "bing", Count: 10, Uniques: 8},
	})

	assert.Equal(t, traffic.ReferrerSummary{
		TopReferrer:        "bing",
		TopReferrerCount:   10,
		TopReferrerUniques: 8,
		TotalCount:         20,
		TotalUniques:       13,
		Distinct:           2,
	}, summary)
}

func TestReduceReferrers_FullTieBrokenByName(t *testing.T) {
	summary := ReduceReferrers(traffic.ReferrersPayload{
		{Referrer: "yahoo", Count: 4, Uniques: 2},
		{Referrer: "duckduckgo", Count: 4, Uniques: 2},
	})
	assert.Equal(t, "duckduckgo", summary.TopReferrer)
}

func TestReducePaths_Empty(t *testing.T) {
	summary := ReducePaths(traffic.PathsPayload{})
	assert.Equal(t, traffic.PathSummary{TopPath: "none"}, summary)
	assert.Equal(t, 0, summary.TopPathCount)
	assert.Equal(t, 0, summary.ReadmeViews)
	assert.Equal(t, 0, summary.Distinct)
}

func TestReducePaths_ReadmeIsCaseInsensitive(t *testing.T) {
	summary := ReducePaths(traffic.PathsPayload{
		{Path: "/ccp-nc/soprano", Title: "soprano", Count: 20, Uniques: 9},
		{Path: "/ccp-nc/soprano/blob/master/README.md", Title: "README.md", Count: 5, Uniques: 3},
		{Path: "/ccp-nc/soprano/blob/master/docs/readme.md", Title: "readme.md", Count: 2, Uniques: 1},
		{Path: "/readme.md", Count: 1, Uniques: 1},
		{Path: "/ccp-nc/soprano/blob/master/README.md.bak", Count: 50, Uniques: 1},
	})

	assert.Equal(t, "/ccp-nc/soprano/blob/master/README.md.bak", summary.TopPath)
	assert.Equal(t, 8, summary.ReadmeViews)
	assert.Equal(t, 5, summary.ReadmeUniques)
	assert.Equal(t, 78, summary.TotalCount)
	assert.Equal(t, 15, summary.TotalUniques)
	assert.Equal(t, 5, summary.Distinct)
}

func TestIsReadme(t *testing.T) {
	assert.True(t, IsReadme("/README.md"))
	assert.True(t, IsReadme("/readme.md"))
	assert.True(t, IsReadme("/o/r/blob/main/ReadMe.MD"))
	assert.False(t, IsReadme("/o/r/blob/main/NOTREADME.md"))
	assert.False(t, IsReadme("README.md"))
	assert.False(t, IsReadme("/o/r/readme.markdown"))
}

func TestReduce_EmptyEqualsNoData(t *testing.T) {
	empties := map[traffic.Metric]traffic.Payload{
		traffic.MetricViews:     &traffic.ViewsPayload{},
		traffic.MetricClones:    &traffic.ClonesPayload{Clones: []traffic.Point{}},
		traffic.MetricReferrers: traffic.ReferrersPayload{},
		traffic.MetricPaths:     traffic.PathsPayload{},
	}

	for _, m := range traffic.AllMetrics() {
		t.Run(m.String(), func(t *testing.T) {
			noData := ZeroFill(m)
			assert.Equal(t, noData, Reduce(m, nil))
			assert.Equal(t, noData, Reduce(m, empties[m]))
			assert.True(t, noData.Has(m))
			for _, other := range traffic.AllMetrics() {
				if other != m {
					assert.False(t, noData.Has(other), "fragment carries only its own section")
				}
			}
		})
	}
}

func TestReduce_Dispatch(t *testing.T) {
	rec := Reduce(traffic.MetricReferrers, traffic.ReferrersPayload{{Referrer: "github.com", Count: 3, Uniques: 1}})
	require.NotNil(t, rec.Referrers)
	assert.Equal(t, "github.com", rec.Referrers.TopReferrer)

	rec = Reduce(traffic.MetricViews, &traffic.ViewsPayload{Count: 9, Uniques: 2})
	assert.Equal(t, &traffic.CountSummary{Count: 9, Uniques: 2}, rec.Views)

	// a payload of the wrong kind is treated as no data
	rec = Reduce(traffic.MetricClones, traffic.PathsPayload{{Path: "/a", Count: 1}})
	assert.Equal(t, &traffic.CountSummary{}, rec.Clones)
}

func TestReduce_PermutationInvariant(t *testing.T) {
	referrers := traffic.ReferrersPayload{
		{Referrer: "google", Count: 10, Uniques: 5},
		{Referrer: "bing", Count: 10, Uniques: 8},
		{Referrer: "github.com", Count: 7, Uniques: 7},
		{Referrer: "duckduckgo", Count: 10, Uniques: 8},
		{Referrer: "news.ycombinator.com", Count: 1, Uniques: 1},
	}
	paths := traffic.PathsPayload{
		{Path: "/o/r", Count: 5, Uniques: 2},
		{Path: "/o/r/README.md", Count: 5, Uniques: 2},
		{Path: "/o/r/issues", Count: 3, Uniques: 3},
		{Path: "/o/r/wiki/README.MD", Count: 1, Uniques: 1},
	}

	wantReferrers := ReduceReferrers(referrers)
	wantPaths := ReducePaths(paths)
	assert.Equal(t, "bing", wantReferrers.TopReferrer)
	assert.Equal(t, "/o/r", wantPaths.TopPath)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		r := append(traffic.ReferrersPayload(nil), referrers...)
		rng.Shuffle(len(r), func(a, b int) { r[a], r[b] = r[b], r[a] })
		assert.Equal(t, wantReferrers, ReduceReferrers(r))

		p := append(traffic.PathsPayload(nil), paths...)
		rng.Shuffle(len(p), func(a, b int) { p[a], p[b] = p[b], p[a] })
		assert.Equal(t, wantPaths, ReducePaths(p))
	}
}
