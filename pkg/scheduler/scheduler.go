// Package scheduler polls for results that are delivered asynchronously,
// backing off exponentially until a value appears or a deadline passes.
package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout reports that the deadline passed before the extractor produced a
// value. It is distinct from any error returned by the extractor itself.
var ErrTimeout = errors.New("scheduler: timed out waiting for response")

const (
	DefaultFloor   = 100 * time.Millisecond
	DefaultCeiling = 500 * time.Millisecond
	DefaultTimeout = 5 * time.Second
)

type config struct {
	floor   time.Duration
	ceiling time.Duration
	timeout time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*config)

func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the first delay and the cap it doubles towards.
func WithBackoff(floor, ceiling time.Duration) Option {
	return func(c *config) {
		if floor > 0 {
			c.floor = floor
		}
		if ceiling > 0 {
			c.ceiling = ceiling
		}
	}
}

func withClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *config) {
		c.now = now
		c.sleep = sleep
	}
}

// Backoff returns min(floor*2^attempt, ceiling).
func Backoff(floor, ceiling time.Duration, attempt int) time.Duration {
	d := floor
	for i := 0; i < attempt; i++ {
		if d >= ceiling {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// ResponseFrom runs producer once and then calls extractor on its result until
// extractor reports a value, returns an error, or the deadline (now+timeout,
// fixed at call time) passes. The deadline is checked before every sleep and a
// sleep never extends past it.
func ResponseFrom[T, U any](
	ctx context.Context,
	producer func(ctx context.Context) (T, error),
	extractor func(ctx context.Context, produced T) (U, bool, error),
	opts ...Option,
) (U, error) {
	cfg := config{floor: DefaultFloor, ceiling: DefaultCeiling, timeout: DefaultTimeout, now: time.Now, sleep: sleepCtx}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ceiling < cfg.floor {
		cfg.ceiling = cfg.floor
	}
	var zero U
	deadline := cfg.now().Add(cfg.timeout)

	produced, err := producer(ctx)
	if err != nil {
		return zero, err
	}
	for attempt := 0; ; attempt++ {
		value, ok, err := extractor(ctx, produced)
		if err != nil {
			return zero, err
		}
		if ok {
			return value, nil
		}
		remaining := deadline.Sub(cfg.now())
		if remaining <= 0 {
			return zero, ErrTimeout
		}
		delay := Backoff(cfg.floor, cfg.ceiling, attempt)
		if delay > remaining {
			delay = remaining
		}
		if err := cfg.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
