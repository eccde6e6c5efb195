// Package collector runs one daily traffic collection for a repository.
//
// A run optionally takes the Redis run lock, fetches the configured metrics with a
// small errgroup fan-out, writes a raw snapshot for every metric that returned data,
// reduces each payload into its section of the DailyRecord (zero-filling failed or
// empty metrics), and upserts the record into the summary store.
//
// A transport failure on any metric fails the whole run before any file is touched,
// so a repository has either a complete row for the day or none.
//
//	c, err := collector.New(client, snapshots, summary, collector.Config{Workers: 2},
//		collector.WithLogger(logger),
//		collector.WithMetrics(metrics),
//	)
//	rec, err := c.Run(ctx, "soprano")
package collector
