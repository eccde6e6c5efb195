package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager runs cleanup steps once a command has finished or been interrupted
type ShutdownManager struct {
	logger          *Logger
	shutdownFuncs   []namedShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
	once            sync.Once
	err             error
}

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		shutdownTimeout: timeout,
	}
}

// Register adds a cleanup step. Steps run in reverse registration order.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{name: name, fn: fn})
}

// Shutdown runs every registered step once, even if an earlier step fails
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
		defer cancel()

		sm.mu.Lock()
		funcs := sm.shutdownFuncs
		sm.mu.Unlock()

		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			step := funcs[i]
			if err := step.fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("step", step.name).Error("Shutdown step failed")
				errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
				continue
			}
			sm.logger.WithField("step", step.name).Debug("Shutdown step complete")
		}
		sm.err = errors.Join(errs...)
	})
	return sm.err
}

// SignalContext returns a context canceled on SIGINT or SIGTERM
func SignalContext(parent context.Context, logger *Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warnf("Received signal %s, canceling run", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
