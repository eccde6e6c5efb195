// Package async provides a bounded worker pool for fanning work out over goroutines.
//
// # Overview
//
// WorkerPool runs submitted tasks on a fixed number of workers with per-task timeouts,
// panic recovery and context cancellation. Batch wraps the pool for the common case of
// applying one function to every element of a slice.
//
//	errs := async.Batch(ctx, pairs, 4, "combine", 5*time.Minute,
//		func(ctx context.Context, p pair) error {
//			return combine(ctx, p)
//		},
//		async.WithLogger(logger))
//
// Errors returned by tasks are collected and returned by Batch; a panicking task is
// logged with its stack trace and reported as an error.
//
// # Related Packages
//
//   - pkg/analytics: CombineAll runs every (repository, metric) pair through Batch
package async
