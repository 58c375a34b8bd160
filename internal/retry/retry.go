// Package retry provides a bounded, fixed-delay retry helper.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	Attempts int
	Delay    time.Duration
	// Notify, if set, is called after each failed attempt that will be retried.
	Notify func(attempt int, err error)
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// ExhaustedError is returned when every attempt failed with a retryable error.
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

// Do calls fn until it succeeds, fails with an error retryable rejects, or
// the policy's attempts run out. Attempts below one are treated as one.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	// retry.Call rejects a zero delay.
	delay := max(p.Delay, time.Nanosecond)
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var last error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if err := ctx.Err(); err != nil {
				last = err
				return err
			}
			last = fn(ctx)
			return last
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil || retryable == nil || !retryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if p.Notify != nil && attempt < attempts {
				p.Notify(attempt, err)
			}
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    clk,
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case retry.IsAttemptsExceeded(err):
		return &ExhaustedError{Attempts: attempts, Err: retry.LastError(err)}
	}
	return last
}
