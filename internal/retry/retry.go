// Package retry runs an operation with bounded exponential backoff.
//
// Only errors that implement Retryable() bool and report true are retried;
// everything else is returned on first occurrence. The delay before attempt
// k (k >= 2) is BaseDelay * 2^(k-2), optionally spread by a symmetric jitter
// fraction. A panic inside the operation is recovered and returned as a
// *PanicError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// maxShift bounds the exponent so long policies cannot overflow a Duration.
const maxShift = 30

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Jitter in [0, 1) spreads each delay uniformly by +/- Jitter*delay.
	Jitter float64
	// AttemptTimeout, when positive, bounds each individual attempt.
	AttemptTimeout time.Duration
}

// ExhaustedError is returned after MaxAttempts retryable failures.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking operation.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("retry: operation panicked: %v", e.Value) }

// CanceledError is returned when ctx ends before an attempt or during a
// backoff wait. Attempts counts the attempts that ran.
type CanceledError struct {
	Attempts int
	Err      error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("retry: canceled after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Controller applies a Policy. It carries no per-call state and is safe for
// concurrent use.
type Controller struct {
	policy  Policy
	sleep   Sleeper
	rand    func() float64
	observe func(attempt int, err error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleeper replaces the real timer, typically to record delays in tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

// WithObserver registers a callback invoked after every attempt with its
// 1-based number and result.
func WithObserver(f func(attempt int, err error)) Option {
	return func(c *Controller) { c.observe = f }
}

// New returns a Controller for p. MaxAttempts below 1 is treated as 1.
func New(p Policy, opts ...Option) *Controller {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	c := &Controller{
		policy: p,
		sleep:  sleepCtx,
		rand:   rand.Float64,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy returns the controller's policy.
func (c *Controller) Policy() Policy { return c.policy }

// Delay returns the wait before the given 1-based attempt. The first attempt
// never waits.
func (c *Controller) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	d := c.policy.BaseDelay << min(attempt-2, maxShift)
	if j := c.policy.Jitter; j > 0 {
		d = time.Duration(float64(d) * (1 + j*(2*c.rand()-1)))
	}
	return max(d, 0)
}

// Do calls op until it succeeds, returns a non-retryable error, or the policy
// is exhausted. Cancelling ctx before an attempt or during a backoff wait
// returns a *CanceledError wrapping ctx.Err().
func Do[T any](ctx context.Context, c *Controller, op func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &CanceledError{Attempts: attempt - 1, Err: err}
		}

		v, err := runAttempt(ctx, c.policy.AttemptTimeout, op)
		if c.observe != nil {
			c.observe(attempt, err)
		}
		if err == nil {
			return v, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		if attempt >= c.policy.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}
		if err := c.sleep(ctx, c.Delay(attempt+1)); err != nil {
			return zero, &CanceledError{Attempts: attempt, Err: err}
		}
	}
}

// runAttempt executes one attempt under timeout and converts a panic into an error.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (v T, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return op(ctx)
}

// Retryable reports whether err, or any error it wraps, asks to be retried.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
