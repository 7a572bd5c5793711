// Package retry provides explicit retry policies for polling and transient
// failure handling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned when a policy runs out of attempts.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. A Multiplier greater than 1 grows the interval after
// every attempt, capped at MaxInterval when set.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Fixed returns a policy that waits the same interval between attempts.
func Fixed(interval time.Duration, attempts int) Policy {
	return Policy{MaxAttempts: attempts, Interval: interval, Multiplier: 1}
}

// Backoff returns an exponential policy doubling from base up to max.
func Backoff(base, max time.Duration, attempts int) Policy {
	return Policy{MaxAttempts: attempts, Interval: base, Multiplier: 2, MaxInterval: max}
}

// Func is a single attempt. Returning done=true stops the loop and Do returns
// err as is (nil on success). Returning done=false schedules another attempt;
// the error, if any, is kept as the last failure.
type Func func(ctx context.Context, attempt int) (done bool, err error)

// Do runs fn until it reports done, the context ends, or attempts run out.
func (p Policy) Do(ctx context.Context, fn Func) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		}

		done, err := fn(ctx, attempt)
		if done {
			return err
		}
		if err != nil {
			lastErr = err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, attempts)
}

// delay returns the wait before the given attempt (attempt >= 1).
func (p Policy) delay(attempt int) time.Duration {
	d := p.Interval
	if d <= 0 {
		return 0
	}
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxInterval > 0 && d >= p.MaxInterval {
				return p.MaxInterval
			}
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
