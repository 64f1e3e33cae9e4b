// Package store opens the Postgres pool shared by the repositories.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var pgxPoolNewWithConfig = pgxpool.NewWithConfig

// PostgresConfig describes the database. URL wins over the discrete fields.
type PostgresConfig struct {
	URL        string
	User       string
	Password   string
	Host       string
	Port       int
	Name       string
	SSLMode    string
	RequireTLS bool

	MaxConns       int32
	ConnectRetries int
	RetryDelay     time.Duration
	PingTimeout    time.Duration
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 30
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	return c
}

// DSN returns the connection string described by c.
func (c PostgresConfig) DSN() string {
	if dsn := strings.TrimSpace(c.URL); dsn != "" {
		return dsn
	}
	user := strings.TrimSpace(c.User)
	if user == "" {
		user = "consent_manager"
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port <= 0 || port > 65535 {
		port = 5432
	}
	dbName := strings.TrimSpace(c.Name)
	if dbName == "" {
		dbName = "consent_manager"
	}
	sslmode := strings.TrimSpace(c.SSLMode)
	if sslmode == "" {
		sslmode = "disable"
	}
	uri := &url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + dbName,
	}
	if c.Password != "" {
		uri.User = url.UserPassword(user, c.Password)
	} else {
		uri.User = url.User(user)
	}
	q := uri.Query()
	q.Set("sslmode", sslmode)
	uri.RawQuery = q.Encode()
	return uri.String()
}

// NewPostgresPool connects and pings, retrying until ConnectRetries is spent
// or ctx is done.
func NewPostgresPool(ctx context.Context, c PostgresConfig) (*pgxpool.Pool, error) {
	c = c.withDefaults()
	dsn := c.DSN()
	if c.RequireTLS {
		if err := ValidatePostgresTLS(dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = c.MaxConns
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = time.Minute * 5
	var lastErr error
	for i := 0; i < c.ConnectRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, c.RetryDelay); err != nil {
				return nil, fmt.Errorf("db connect: %w", err)
			}
		}
		pool, err := pgxPoolNewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		ctxPing, cancel := context.WithTimeout(ctx, c.PingTimeout)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
		log.Ctx(ctx).Warn().Err(err).Int("attempt", i+1).Msg("postgres not ready")
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

// ValidatePostgresTLS rejects connection strings that would fall back to
// plaintext.
func ValidatePostgresTLS(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid database url: %w", err)
	}
	sslmode := strings.ToLower(strings.TrimSpace(parsed.Query().Get("sslmode")))
	switch sslmode {
	case "verify-full", "verify-ca", "require":
		return nil
	case "allow", "disable", "prefer":
		return fmt.Errorf("database require_tls is set but sslmode=%q is insecure", sslmode)
	default:
		return fmt.Errorf("database require_tls needs explicit sslmode=require|verify-ca|verify-full")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
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
