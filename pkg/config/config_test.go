package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8000" || cfg.Cache.Backend != "memory" || cfg.Cache.TTL != 5*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Replay.Past != time.Minute || cfg.Replay.Future != 9*time.Minute {
		t.Fatalf("unexpected replay window %+v", cfg.Replay)
	}
	if len(cfg.Kafka.Topics) != 4 {
		t.Fatalf("expected default topics, got %v", cfg.Kafka.Topics)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CM_CACHE_BACKEND", "redis")
	t.Setenv("CM_CACHE_TTL", "90s")
	t.Setenv("CM_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CM_REPLAY_FUTURE", "2m")
	t.Setenv("CM_GATEWAY_URL", "https://gw.example.com")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 90*time.Second {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if strings.Join(cfg.Kafka.Brokers, "|") != "k1:9092|k2:9092" {
		t.Fatalf("unexpected brokers %q", cfg.Kafka.Brokers)
	}
	if cfg.Replay.Future != 2*time.Minute || cfg.Gateway.URL != "https://gw.example.com" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Replay, cfg.Gateway)
	}
	if got := cfg.CacheConfig(); got.Backend != "redis" || got.TTL != 90*time.Second {
		t.Fatalf("unexpected cache.Config %+v", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cm.yaml")
	body := "env: staging\ndatabase:\n  host: db.internal\n  port: 6543\nconsent:\n  url: https://consents.internal\n  retries: 4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "staging" || cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Fatalf("unexpected file values %+v", cfg)
	}
	if cfg.Consent.Retries != 4 || cfg.Consent.RetryDelay != 200*time.Millisecond {
		t.Fatalf("unexpected consent retry settings %+v", cfg.Consent)
	}
	if dsn := cfg.PostgresConfig().DSN(); !strings.Contains(dsn, "db.internal:6543") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	if _, err := Load(viper.New(), filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func validProduction() Config {
	return Config{
		Env:                "production",
		StrictProdSecurity: true,
		HTTP:               HTTPConfig{CORSOrigins: "https://hiu.example.com"},
		Cache:              CacheConfig{Backend: "redis"},
		Redis:              RedisConfig{Addr: "redis:6379", RequireTLS: true, TLS: true},
		Database:           DatabaseConfig{RequireTLS: true},
		Identity:           IdentityConfig{URL: "https://idp.example.com/realms/cm", ClientSecret: "s1"},
		Gateway:            GatewayConfig{URL: "https://gw.example.com", ClientSecret: "s2"},
		Consent:            ConsentConfig{URL: "https://consents.example.com"},
		Replay:             ReplayConfig{Past: time.Minute, Future: 9 * time.Minute},
	}
}

func TestValidateProduction(t *testing.T) {
	if err := validProduction().Validate(); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}

	cases := map[string]func(*Config){
		"db_tls_required":    func(c *Config) { c.Database.RequireTLS = false },
		"redis_tls_required": func(c *Config) { c.Redis.RequireTLS = false },
		"redis_insecure":     func(c *Config) { c.Redis.TLSInsecure = true },
		"cors_wildcard":      func(c *Config) { c.HTTP.CORSOrigins = "*" },
		"cors_localhost":     func(c *Config) { c.HTTP.CORSOrigins = "https://localhost:3000" },
		"cors_http":          func(c *Config) { c.HTTP.CORSOrigins = "http://hiu.example.com" },
		"cors_missing":       func(c *Config) { c.HTTP.CORSOrigins = " , " },
		"gateway_secret":     func(c *Config) { c.Gateway.ClientSecret = "" },
		"identity_secret":    func(c *Config) { c.Identity.ClientSecret = " " },
		"unknown_backend":    func(c *Config) { c.Cache.Backend = "memcached" },
		"bad_consent_url":    func(c *Config) { c.Consent.URL = "consents" },
		"zero_replay_window": func(c *Config) { c.Replay.Past = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validProduction()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateSkipsHardeningOutsideProduction(t *testing.T) {
	c := validProduction()
	c.Env = "development"
	c.Database.RequireTLS = false
	c.HTTP.CORSOrigins = "*"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected skip in development, got %v", err)
	}

	c = validProduction()
	c.StrictProdSecurity = false
	c.Database.RequireTLS = false
	if err := c.Validate(); err != nil {
		t.Fatalf("expected skip when strict mode is off, got %v", err)
	}
}

func TestIsProductionLike(t *testing.T) {
	for env, want := range map[string]bool{"prod": true, " Staging ": true, "dev": false, "": false} {
		if got := IsProductionLike(env); got != want {
			t.Fatalf("%q: got %v want %v", env, got, want)
		}
	}
}
