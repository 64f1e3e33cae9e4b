package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCache stores entries in Redis with a fixed TTL. Every operation is
// retried with exponential backoff before it is reported as ErrUnavailable.
type RedisCache struct {
	client     *redis.Client
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRedisCache(client *redis.Client, ttl time.Duration, retries int, retryDelay time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if retries < 0 {
		retries = 0
	}
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &RedisCache{client: client, ttl: ttl, retries: retries, retryDelay: retryDelay, sleep: sleepCtx}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := r.retryable(ctx, "get", func() error {
		v, err := r.client.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *RedisCache) GetIfPresent(ctx context.Context, key string) (string, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrMiss
	}
	return v, nil
}

func (r *RedisCache) Put(ctx context.Context, key, value string) error {
	return r.retryable(ctx, "put", func() error {
		return r.client.Set(ctx, key, value, r.ttl).Err()
	})
}

func (r *RedisCache) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	var stored bool
	err := r.retryable(ctx, "put_if_absent", func() error {
		ok, err := r.client.SetNX(ctx, key, value, r.ttl).Result()
		if err != nil {
			return err
		}
		stored = ok
		return nil
	})
	return stored, err
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := r.retryable(ctx, "exists", func() error {
		n, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		found = n > 0
		return nil
	})
	return found, err
}

func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	return r.retryable(ctx, "invalidate", func() error {
		return r.client.Del(ctx, key).Err()
	})
}

func (r *RedisCache) retryable(ctx context.Context, op string, fn func() error) error {
	delay := r.retryDelay
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		lastErr = err
		log.Ctx(ctx).Error().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("redis operation failed")
		if attempt == r.retries {
			break
		}
		if err := r.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, lastErr)
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

// RedisConfig describes how to reach the distributed cache.
type RedisConfig struct {
	Addr             string
	Password         string
	DB               int
	TLS              bool
	TLSInsecure      bool
	AllowInsecureTLS bool
	TLSServerName    string
	TLSCACertFile    string
	TLSCertFile      string
	TLSKeyFile       string
	RequireTLS       bool
	DialTimeout      time.Duration
	PingTimeout      time.Duration
}

// NewRedisClient connects and pings once; the caller owns Close.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	tlsConfig, err := loadRedisTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RequireTLS && tlsConfig == nil {
		return nil, fmt.Errorf("redis require_tls is set but tls is not enabled")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		TLSConfig:   tlsConfig,
		DialTimeout: cfg.DialTimeout,
	})
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	ctxPing, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func loadRedisTLSConfig(cfg RedisConfig) (*tls.Config, error) {
	if !cfg.TLS {
		return nil, nil
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSInsecure {
		if !cfg.AllowInsecureTLS {
			return nil, fmt.Errorf("redis tls_insecure requires allow_insecure_tls")
		}
		tc.InsecureSkipVerify = true
	}
	if cfg.TLSServerName != "" {
		tc.ServerName = cfg.TLSServerName
	}
	if cfg.TLSCACertFile != "" {
		caBytes, err := os.ReadFile(filepath.Clean(cfg.TLSCACertFile))
		if err != nil {
			return nil, fmt.Errorf("read redis ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("parse redis ca cert: no valid certificates")
		}
		tc.RootCAs = pool
	}
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return nil, fmt.Errorf("both redis tls cert and key files must be set")
		}
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.TLSCertFile), filepath.Clean(cfg.TLSKeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis mTLS keypair: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}
