package traffic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMetric is returned when a metric name is not one of the four traffic endpoints
var ErrUnknownMetric = errors.New("unknown metric")

// Metric identifies one of the repository traffic endpoints
type Metric string

const (
	MetricViews     Metric = "views"
	MetricClones    Metric = "clones"
	MetricReferrers Metric = "referrers"
	MetricPaths     Metric = "paths"
)

// AllMetrics returns every metric in collection order
func AllMetrics() []Metric {
	return []Metric{MetricViews, MetricClones, MetricReferrers, MetricPaths}
}

// String implements fmt.Stringer
func (m Metric) String() string {
	return string(m)
}

// Endpoint returns the path below /repos/{owner}/{repo}/ serving this metric
func (m Metric) Endpoint() string {
	switch m {
	case MetricViews:
		return "traffic/views"
	case MetricClones:
		return "traffic/clones"
	case MetricReferrers:
		return "traffic/popular/referrers"
	case MetricPaths:
		return "traffic/popular/paths"
	default:
		return ""
	}
}

// Valid reports whether m is a known metric
func (m Metric) Valid() bool {
	return m.Endpoint() != ""
}

// IsTimeSeries reports whether the payload carries its own per-entry timestamps
func (m Metric) IsTimeSeries() bool {
	return m == MetricViews || m == MetricClones
}

// ParseMetric parses a metric name (case-insensitive)
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
	return m, nil
}

// ParseMetrics parses a comma separated list of metric names.
// An empty list yields AllMetrics. Duplicates are dropped.
func ParseMetrics(s string) ([]Metric, error) {
	if strings.TrimSpace(s) == "" {
		return AllMetrics(), nil
	}

	seen := make(map[Metric]bool)
	var metrics []Metric
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m, err := ParseMetric(part)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		metrics = append(metrics, m)
	}
	return metrics, nil
}
