// Package retry implements the bounded exponential-backoff policy shared by
// the remote-call drivers. A Policy decides how many times a fallible
// operation may run and how long to wait between attempts; it knows nothing
// about what the operation does.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapped) when every attempt allowed by the policy
// has failed. The last attempt's error remains reachable through the unwrap
// chain.
var ErrExhausted = errors.New("retry budget exhausted")

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMultiplier      = 2.0
	DefaultMaxInterval     = 30 * time.Second
)

// Policy is a bounded exponential-backoff retry policy. The zero value is not
// usable; construct with NewPolicy or fill every field.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration

	// sleep is swappable so tests don't wait on real clocks.
	sleep func(context.Context, time.Duration) error
}

func NewPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
	}
}

// WithSleep returns a copy of the policy using the given sleep function.
func (p Policy) WithSleep(sleep func(context.Context, time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// Do runs fn until it succeeds or the attempt budget is spent. Attempts are
// strictly sequential. Between attempts Do sleeps for the current backoff
// interval, honoring ctx cancellation; a canceled ctx surfaces as the ctx
// error, not as exhaustion.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: MaxAttempts must be at least 1, got %d", p.MaxAttempts)
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	interval := p.InitialInterval
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		interval = p.next(interval)
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}

func (p Policy) next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if p.MaxInterval > 0 && next > p.MaxInterval {
		return p.MaxInterval
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
