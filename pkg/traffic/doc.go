// Package traffic defines the domain types shared by every traffic-stats component.
//
// # Overview
//
// GitHub exposes four traffic endpoints per repository. Each one is modelled as a
// Metric with a typed payload:
//
//	views      -> *ViewsPayload      {count, uniques, views: [{timestamp, count, uniques}]}
//	clones     -> *ClonesPayload     {count, uniques, clones: [{timestamp, count, uniques}]}
//	referrers  -> ReferrersPayload   [{referrer, count, uniques}]
//	paths      -> PathsPayload       [{path, title, count, uniques}]
//
// JSON field names match GitHub's wire format, so a payload re-encodes to the shape the
// API returned. A nil Payload means "no data" (an empty list or a 404).
//
// # Daily records
//
// DailyRecord is one row of the summary table, keyed by (date, repository). Each metric
// contributes an optional section; a nil section is "not present" and leaves previously
// stored values untouched when the record is upserted.
//
//	rec := traffic.DailyRecord{Date: "2026-01-15", Repository: "soprano"}
//	rec.Merge(analytics.Reduce(traffic.MetricViews, payload))
//
// # Related Packages
//
//   - pkg/fetcher: produces payloads
//   - pkg/analytics: reduces payloads into record sections and combines snapshots
//   - pkg/storage: persists records and raw snapshots
package traffic
