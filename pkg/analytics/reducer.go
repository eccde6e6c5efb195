package analytics

import (
	"strings"

	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

// readmeSuffix matches README paths case-insensitively, at any depth
const readmeSuffix = "/readme.md"

// ReduceViews extracts the top-level totals of a views payload
func ReduceViews(p *traffic.ViewsPayload) traffic.CountSummary {
	if p == nil {
		return traffic.CountSummary{}
	}
	return traffic.CountSummary{Count: p.Count, Uniques: p.Uniques}
}

// ReduceClones extracts the top-level totals of a clones payload
func ReduceClones(p *traffic.ClonesPayload) traffic.CountSummary {
	if p == nil {
		return traffic.CountSummary{}
	}
	return traffic.CountSummary{Count: p.Count, Uniques: p.Uniques}
}

// ReduceReferrers summarizes a referrers payload
func ReduceReferrers(p traffic.ReferrersPayload) traffic.ReferrerSummary {
	summary := traffic.ReferrerSummary{TopReferrer: traffic.NoTopEntry}

	var top *traffic.Referrer
	for i := range p {
		r := &p[i]
		summary.TotalCount += r.Count
		summary.TotalUniques += r.Uniques
		if top == nil || ranksAbove(r.Count, r.Uniques, r.Referrer, top.Count, top.Uniques, top.Referrer) {
			top = r
		}
	}
	summary.Distinct = len(p)

	if top != nil {
		summary.TopReferrer = top.Referrer
		summary.TopReferrerCount = top.Count
		summary.TopReferrerUniques = top.Uniques
	}
	return summary
}

// ReducePaths summarizes a paths payload, including README traffic
func ReducePaths(p traffic.PathsPayload) traffic.PathSummary {
	summary := traffic.PathSummary{TopPath: traffic.NoTopEntry}

	var top *traffic.Path
	for i := range p {
		path := &p[i]
		summary.TotalCount += path.Count
		summary.TotalUniques += path.Uniques
		if IsReadme(path.Path) {
			summary.ReadmeViews += path.Count
			summary.ReadmeUniques += path.Uniques
		}
		if top == nil || ranksAbove(path.Count, path.Uniques, path.Path, top.Count, top.Uniques, top.Path) {
			top = path
		}
	}
	summary.Distinct = len(p)

	if top != nil {
		summary.TopPath = top.Path
		summary.TopPathCount = top.Count
		summary.TopPathUniques = top.Uniques
	}
	return summary
}

// IsReadme reports whether path points at a README.md file
func IsReadme(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), readmeSuffix)
}

// ranksAbove orders entries by count desc, then uniques desc, then name asc
func ranksAbove(count, uniques int, name string, otherCount, otherUniques int, otherName string) bool {
	if count != otherCount {
		return count > otherCount
	}
	if uniques != otherUniques {
		return uniques > otherUniques
	}
	return name < otherName
}

// Reduce turns a payload into a record fragment with only the section of metric set.
// A nil payload, or one of the wrong type, reduces to the zero shape.
func Reduce(metric traffic.Metric, payload traffic.Payload) *traffic.DailyRecord {
	rec := &traffic.DailyRecord{}
	switch metric {
	case traffic.MetricViews:
		p, _ := payload.(*traffic.ViewsPayload)
		s := ReduceViews(p)
		rec.Views = &s
	case traffic.MetricClones:
		p, _ := payload.(*traffic.ClonesPayload)
		s := ReduceClones(p)
		rec.Clones = &s
	case traffic.MetricReferrers:
		p, _ := payload.(traffic.ReferrersPayload)
		s := ReduceReferrers(p)
		rec.Referrers = &s
	case traffic.MetricPaths:
		p, _ := payload.(traffic.PathsPayload)
		s := ReducePaths(p)
		rec.Paths = &s
	}
	return rec
}

// ZeroFill returns the fragment used when a metric could not be collected
func ZeroFill(metric traffic.Metric) *traffic.DailyRecord {
	return Reduce(metric, nil)
}
