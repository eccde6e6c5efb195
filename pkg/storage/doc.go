// Package storage persists traffic data: raw daily snapshots, the summary table and the
// per-repository run lock.
//
// # Snapshots
//
// SnapshotStore keeps one JSON file per (repository, metric, date):
//
//	traffic-stats/soprano-views-2026-01-15.json
//
// Each file is an array of entries, one per collection run on that day:
//
//	[{"timestamp": "2026-01-15T06:00:03Z", "data": {...verbatim payload...}}]
//
// List matches filenames exactly, so "soprano-views-combined.json" and the files of a
// repository named "soprano-extra" never leak into the listing of "soprano". All writes
// go through a temp file and a rename.
//
// # Summary table
//
// SummaryStore holds at most one row per (date, repository). Upsert overwrites only the
// sections present in the incoming record:
//
//	store, err := storage.OpenSummaryStore(ctx, storage.SummaryConfig{
//		Backend:   storage.BackendCSV,
//		OutputDir: "traffic-stats",
//	})
//	err = store.Upsert(ctx, record)
//
// Backends:
//   - csv (default): traffic-stats/summary.csv, rewritten in full on every upsert
//   - sqlite3: table traffic_summary via mattn/go-sqlite3
//   - postgres: table traffic_summary via lib/pq
//
// # Run lock
//
// RunLocker takes a Redis key per repository with SET NX and a TTL, and releases it with a
// compare-and-delete script so an expired lock taken over by another run is left alone.
//
//	lock, err := locker.Acquire(ctx, "soprano")
//	if errors.Is(err, storage.ErrLockHeld) {
//		// another run is in progress
//	}
//	defer lock.Release(ctx)
//
// # Related Packages
//
//   - pkg/collector: writes snapshots and upserts records
//   - pkg/analytics: reads snapshots to build combined series
package storage
