package traffic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetric_Endpoint(t *testing.T) {
	tests := []struct {
		metric   Metric
		endpoint string
	}{
		{MetricViews, "traffic/views"},
		{MetricClones, "traffic/clones"},
		{MetricReferrers, "traffic/popular/referrers"},
		{MetricPaths, "traffic/popular/paths"},
		{Metric("stars"), ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			assert.Equal(t, tt.endpoint, tt.metric.Endpoint())
			assert.Equal(t, tt.endpoint != "", tt.metric.Valid())
		})
	}
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric(" Referrers ")
	require.NoError(t, err)
	assert.Equal(t, MetricReferrers, m)

	_, err = ParseMetric("stars")
	assert.True(t, errors.Is(err, ErrUnknownMetric))
}

func TestParseMetrics(t *testing.T) {
	t.Run("empty yields all", func(t *testing.T) {
		metrics, err := ParseMetrics("")
		require.NoError(t, err)
		assert.Equal(t, AllMetrics(), metrics)
	})

	t.Run("dedupes and keeps order", func(t *testing.T) {
		metrics, err := ParseMetrics("paths,views,,paths")
		require.NoError(t, err)
		assert.Equal(t, []Metric{MetricPaths, MetricViews}, metrics)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := ParseMetrics("views,forks")
		assert.ErrorIs(t, err, ErrUnknownMetric)
	})
}

func TestMetric_IsTimeSeries(t *testing.T) {
	assert.True(t, MetricViews.IsTimeSeries())
	assert.True(t, MetricClones.IsTimeSeries())
	assert.False(t, MetricReferrers.IsTimeSeries())
	assert.False(t, MetricPaths.IsTimeSeries())
}
