// Package analytics turns raw traffic payloads into summary rows and combined series.
//
// # Reduction
//
// Reduce maps one metric payload to the matching section of a DailyRecord:
//
//	views, clones  -> {count, uniques} from the payload totals
//	referrers      -> top referrer by (count, uniques, name), totals, distinct count
//	paths          -> top path, totals, distinct count, README traffic
//
// Nil and empty payloads reduce to the same zero shape as a 404, so a failed fetch
// (ZeroFill) is indistinguishable from a day with no traffic:
//
//	rec := traffic.NewDailyRecord("soprano", time.Now())
//	rec.Merge(analytics.Reduce(traffic.MetricReferrers, payload))
//
// # Combining
//
// Combiner reads every raw snapshot of a (repository, metric) pair and max-merges
// them per date and sub-key. Views and clones are keyed by each point's own
// timestamp; referrers and paths carry no date, so they are keyed by the snapshot's
// file date. The output is sorted and byte-identical across runs.
//
//	combiner := analytics.NewCombiner(snapshots, analytics.WithLogger(logger))
//	outcomes := combiner.CombineAll(ctx, repos, traffic.AllMetrics(), 4)
//
// Unreadable snapshot files are logged, listed in CombineResult.Skipped and left out.
//
// # Related Packages
//
//   - pkg/storage: snapshot files and the summary table
//   - pkg/collector: calls Reduce and ZeroFill once per run
package analytics
