package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss reports an absent or expired key.
	ErrMiss = errors.New("cache: miss")
	// ErrUnavailable reports a backend that could not be reached.
	ErrUnavailable = errors.New("cache: unavailable")
)

// Cache is the contract shared by the in-process and the Redis backend.
// Implementations are safe for concurrent use; callers never lock around them.
type Cache interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// GetIfPresent is Get without side effects that additionally treats an
	// empty stored value as absent.
	GetIfPresent(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	// PutIfAbsent stores value only when key is absent and reports whether it did.
	PutIfAbsent(ctx context.Context, key, value string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Invalidate(ctx context.Context, key string) error
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend      string
	TTL          time.Duration
	MemorySize   int
	RedisRetries int
	RetryDelay   time.Duration
}

// New builds the backend named by cfg.Backend. The Redis backend requires a
// reachable client; there is no silent fallback because the replay ledger and
// the blacklist must be shared across replicas.
func New(ctx context.Context, cfg Config, client *redis.Client) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory, "guava":
		return NewMemoryCache(cfg.MemorySize, cfg.TTL), nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("cache: redis backend selected without a client")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
		}
		return NewRedisCache(client, cfg.TTL, cfg.RedisRetries, cfg.RetryDelay), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
