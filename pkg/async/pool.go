package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/observability"
)

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	logger       *observability.Logger
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	shutdownOnce sync.Once
}

// Option configures a WorkerPool
type Option func(*WorkerPool)

// WithLogger sets the logger used for panics and dropped errors
func WithLogger(logger *observability.Logger) Option {
	return func(p *WorkerPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewWorkerPool creates a new worker pool. A zero timeout disables per-task timeouts.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 4, "combine", 5*time.Minute)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return combine(ctx, repository, metric)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration, opts ...Option) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   observability.NopLogger(),
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(pool)
	}

	// Start workers and wait for them to finish in background
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool.
// Returns error if pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// Shutdown may close workCh between the check above and the send below
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// Wait stops accepting tasks and blocks until every submitted task has run
func (p *WorkerPool) Wait() {
	p.closeWork()
	<-p.doneCh
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.closeWork()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) closeWork() {
	p.closeOnce.Do(func() {
		close(p.workCh)
	})
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).WithField("task", p.taskName).Warn("Worker pool error channel full, dropping error")
	}
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

// run executes one task with its own timeout and panic recovery
func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"task":   p.taskName,
				"worker": id,
				"stack":  string(debug.Stack()),
			}).Errorf("Panic in worker: %v", r)
			p.report(fmt.Errorf("panic in %s: %v", p.taskName, r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

// Batch processes a slice of items concurrently using a worker pool.
// Returns all errors encountered.
//
// Example:
//
//	errs := Batch(ctx, pairs, 4, "combine", time.Minute, func(ctx context.Context, p pair) error {
//	    return combine(ctx, p)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error, opts ...Option) []error {

	pool := NewWorkerPool(ctx, workers, taskName, timeout, opts...)
	defer pool.Shutdown(5 * time.Second)

	var errs []error
	collect := func() {
		for {
			select {
			case err := <-pool.errCh:
				errs = append(errs, err)
			default:
				return
			}
		}
	}

	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			collect()
			return append(errs, err)
		}
		collect()
	}

	pool.Wait()
	pool.cancel()

	collect()
	return errs
}
