// Package replay rejects duplicate or stale inbound requests using a
// request-id ledger kept in the shared cache.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/apperr"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/metrics"
)

const (
	keyPrefix = "replay_"

	// DefaultPast and DefaultFuture bound the accepted request timestamp
	// relative to the current UTC time.
	DefaultPast   = time.Minute
	DefaultFuture = 9 * time.Minute
)

// Key returns the cache key that records a request id.
func Key(requestID string) string {
	return keyPrefix + requestID
}

type Guard struct {
	cache   cache.Cache
	past    time.Duration
	future  time.Duration
	now     func() time.Time
	metrics *metrics.Registry
}

type Option func(*Guard)

func WithWindow(past, future time.Duration) Option {
	return func(g *Guard) {
		if past > 0 {
			g.past = past
		}
		if future > 0 {
			g.future = future
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(g *Guard) { g.metrics = m }
}

func New(c cache.Cache, opts ...Option) *Guard {
	g := &Guard{cache: c, past: DefaultPast, future: DefaultFuture, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate rejects a request id that was already recorded, or whose timestamp
// lies outside [now-past, now+future]. It does not record the id; callers must
// call Put right after a successful Validate or use ValidateAndPut.
func (g *Guard) Validate(ctx context.Context, requestID string, ts time.Time) error {
	if strings.TrimSpace(requestID) == "" {
		return g.reject(ctx, "missing_id", apperr.InvalidRequest("requestId is required"))
	}
	seen, err := g.cache.Exists(ctx, Key(requestID))
	if err != nil {
		return g.reject(ctx, "cache_error", apperr.TooManyRequests().Wrap(err))
	}
	if seen {
		return g.reject(ctx, "duplicate", apperr.TooManyRequests())
	}
	if !g.inWindow(ts) {
		return g.reject(ctx, "outside_window", apperr.TooManyRequests())
	}
	g.metrics.IncReplay("accepted")
	return nil
}

// Put records the request id with the timestamp it was first seen with.
func (g *Guard) Put(ctx context.Context, requestID string, ts time.Time) error {
	if err := g.cache.Put(ctx, Key(requestID), ts.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record request %s: %w", requestID, err)
	}
	return nil
}

// ValidateAndPut checks the window and then records the id with a single
// check-and-set, so two concurrent requests with the same id cannot both pass.
func (g *Guard) ValidateAndPut(ctx context.Context, requestID string, ts time.Time) error {
	if strings.TrimSpace(requestID) == "" {
		return g.reject(ctx, "missing_id", apperr.InvalidRequest("requestId is required"))
	}
	if !g.inWindow(ts) {
		return g.reject(ctx, "outside_window", apperr.TooManyRequests())
	}
	stored, err := g.cache.PutIfAbsent(ctx, Key(requestID), ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return g.reject(ctx, "cache_error", apperr.TooManyRequests().Wrap(err))
	}
	if !stored {
		return g.reject(ctx, "duplicate", apperr.TooManyRequests())
	}
	g.metrics.IncReplay("accepted")
	return nil
}

func (g *Guard) inWindow(ts time.Time) bool {
	now := g.now().UTC()
	ts = ts.UTC()
	return !ts.Before(now.Add(-g.past)) && !ts.After(now.Add(g.future))
}

func (g *Guard) reject(ctx context.Context, outcome string, err *apperr.ClientError) error {
	g.metrics.IncReplay(outcome)
	ev := log.Ctx(ctx).Warn().Str("outcome", outcome)
	if cause := errors.Unwrap(err); cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("request rejected by replay guard")
	return err
}
