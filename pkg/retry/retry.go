package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy configures retry behavior
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxWaits bounds scheduled waits requested through WaitError
	MaxWaits int
}

// DefaultPolicy returns the default retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     1 * time.Minute,
		Multiplier:   2.0,
		MaxWaits:     3,
	}
}

// NewPolicy creates a policy, replacing invalid values with defaults
func NewPolicy(p Policy) *Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxWaits < 0 {
		p.MaxWaits = 0
	}
	return &p
}

// NextDelay returns the delay before the retry following the given number of failed attempts
func (p *Policy) NextDelay(attempts int) time.Duration {
	if attempts <= 1 {
		return p.InitialDelay
	}

	// delay = initialDelay * (multiplier ^ (attempts - 1))
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// WaitError asks Do to sleep until Until and try again without consuming an attempt
type WaitError struct {
	Until time.Time
	Err   error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.Until.Format(time.RFC3339), e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type options struct {
	sleep   Sleeper
	now     func() time.Time
	onRetry func(attempt int, delay time.Duration, err error)
}

// Option configures a single Do call
type Option func(*options)

// WithSleeper replaces the sleep function
func WithSleeper(s Sleeper) Option {
	return func(o *options) {
		o.sleep = s
	}
}

// WithNow replaces the clock used to turn WaitError.Until into a delay
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithOnRetry registers a callback invoked before every sleep
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do runs op until it succeeds or the policy gives up.
// retryable decides whether a failed attempt may be retried; nil retries everything.
func Do(ctx context.Context, policy *Policy, op func(context.Context) error, retryable func(error) bool, opts ...Option) error {
	if policy == nil {
		policy = NewPolicy(DefaultPolicy())
	}
	o := options{sleep: SleepContext, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := 0
	waits := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var waitErr *WaitError
		if errors.As(err, &waitErr) && waits < policy.MaxWaits {
			waits++
			delay := waitErr.Until.Sub(o.now())
			if delay < 0 {
				delay = 0
			}
			if o.onRetry != nil {
				o.onRetry(attempts+1, delay, err)
			}
			if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		attempts++
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempts >= policy.MaxAttempts {
			return &ExhaustedError{Attempts: attempts, Err: err}
		}

		delay := policy.NextDelay(attempts)
		if o.onRetry != nil {
			o.onRetry(attempts, delay, err)
		}
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}
