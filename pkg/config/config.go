// Package config loads the consent manager configuration from defaults, an
// optional YAML file and CM_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/cache"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/queue"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/store"
)

const EnvPrefix = "CM"

type Config struct {
	Env       string          `mapstructure:"env"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Consent   ConsentConfig   `mapstructure:"consent"`
	Replay    ReplayConfig    `mapstructure:"replay"`
	DataFlow  DataFlowConfig  `mapstructure:"dataflow"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	// StrictProdSecurity enables Validate's production checks in
	// production-like environments.
	StrictProdSecurity bool `mapstructure:"strict_prod_security"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     string        `mapstructure:"cors_allowed_origins"`
	ClientTimeout   time.Duration `mapstructure:"client_timeout"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

type CacheConfig struct {
	Backend      string        `mapstructure:"backend"`
	TTL          time.Duration `mapstructure:"ttl"`
	MemorySize   int           `mapstructure:"memory_size"`
	RedisRetries int           `mapstructure:"redis_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type RedisConfig struct {
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	TLS              bool          `mapstructure:"tls"`
	TLSInsecure      bool          `mapstructure:"tls_insecure"`
	AllowInsecureTLS bool          `mapstructure:"allow_insecure_tls"`
	TLSServerName    string        `mapstructure:"tls_server_name"`
	TLSCACertFile    string        `mapstructure:"tls_ca_cert_file"`
	TLSCertFile      string        `mapstructure:"tls_cert_file"`
	TLSKeyFile       string        `mapstructure:"tls_key_file"`
	RequireTLS       bool          `mapstructure:"require_tls"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Name           string        `mapstructure:"name"`
	SSLMode        string        `mapstructure:"sslmode"`
	RequireTLS     bool          `mapstructure:"require_tls"`
	MaxConns       int32         `mapstructure:"max_conns"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topics  []string `mapstructure:"topics"`
}

// IdentityConfig points at the identity provider that issues user tokens and
// the consent manager's own service token.
type IdentityConfig struct {
	URL          string `mapstructure:"url"`
	Issuer       string `mapstructure:"issuer"`
	JWKSURL      string `mapstructure:"jwks_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Discover     bool   `mapstructure:"discover"`
}

type GatewayConfig struct {
	URL          string `mapstructure:"url"`
	JWKSURL      string `mapstructure:"jwks_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type ConsentConfig struct {
	URL        string        `mapstructure:"url"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type ReplayConfig struct {
	Past   time.Duration `mapstructure:"past"`
	Future time.Duration `mapstructure:"future"`
}

type DataFlowConfig struct {
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
	AckFloor   time.Duration `mapstructure:"ack_floor"`
	AckCeiling time.Duration `mapstructure:"ack_ceiling"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SetDefaults registers every key so that environment overrides are seen by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("strict_prod_security", true)

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.cors_allowed_origins", "")
	v.SetDefault("http.client_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.no_color", false)

	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.memory_size", 10000)
	v.SetDefault("cache.redis_retries", 3)
	v.SetDefault("cache.retry_delay", 100*time.Millisecond)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.tls_insecure", false)
	v.SetDefault("redis.allow_insecure_tls", false)
	v.SetDefault("redis.tls_server_name", "")
	v.SetDefault("redis.tls_ca_cert_file", "")
	v.SetDefault("redis.tls_cert_file", "")
	v.SetDefault("redis.tls_key_file", "")
	v.SetDefault("redis.require_tls", false)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.user", "consent_manager")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "consent_manager")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.require_tls", false)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.connect_retries", 30)
	v.SetDefault("database.retry_delay", 2*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_id", "consent-manager")
	v.SetDefault("kafka.topics", queue.DefaultTopics())

	v.SetDefault("identity.url", "http://localhost:8080/auth/realms/consent-manager")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.jwks_url", "")
	v.SetDefault("identity.client_id", "consent-manager-service")
	v.SetDefault("identity.client_secret", "")
	v.SetDefault("identity.discover", false)

	v.SetDefault("gateway.url", "http://localhost:8090")
	v.SetDefault("gateway.jwks_url", "")
	v.SetDefault("gateway.client_id", "consent-manager")
	v.SetDefault("gateway.client_secret", "")

	v.SetDefault("consent.url", "http://localhost:9000")
	v.SetDefault("consent.retries", 2)
	v.SetDefault("consent.retry_delay", 200*time.Millisecond)

	v.SetDefault("replay.past", time.Minute)
	v.SetDefault("replay.future", 9*time.Minute)

	v.SetDefault("dataflow.ack_timeout", 5*time.Second)
	v.SetDefault("dataflow.ack_floor", 100*time.Millisecond)
	v.SetDefault("dataflow.ack_ceiling", 500*time.Millisecond)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "consent-manager")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// BindEnv makes CM_SECTION_KEY override section.key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads defaults, then path (when non-empty, or ./consent-manager.yaml
// when present), then the environment.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	BindEnv(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("consent-manager")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Kafka.Topics = splitList(cfg.Kafka.Topics)
	return cfg, nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Backend:      c.Cache.Backend,
		TTL:          c.Cache.TTL,
		MemorySize:   c.Cache.MemorySize,
		RedisRetries: c.Cache.RedisRetries,
		RetryDelay:   c.Cache.RetryDelay,
	}
}

func (c Config) RedisConfig() cache.RedisConfig {
	r := c.Redis
	return cache.RedisConfig{
		Addr:             r.Addr,
		Password:         r.Password,
		DB:               r.DB,
		TLS:              r.TLS,
		TLSInsecure:      r.TLSInsecure,
		AllowInsecureTLS: r.AllowInsecureTLS,
		TLSServerName:    r.TLSServerName,
		TLSCACertFile:    r.TLSCACertFile,
		TLSCertFile:      r.TLSCertFile,
		TLSKeyFile:       r.TLSKeyFile,
		RequireTLS:       r.RequireTLS,
		DialTimeout:      r.DialTimeout,
	}
}

func (c Config) PostgresConfig() store.PostgresConfig {
	d := c.Database
	return store.PostgresConfig{
		URL:            d.URL,
		User:           d.User,
		Password:       d.Password,
		Host:           d.Host,
		Port:           d.Port,
		Name:           d.Name,
		SSLMode:        d.SSLMode,
		RequireTLS:     d.RequireTLS,
		MaxConns:       d.MaxConns,
		ConnectRetries: d.ConnectRetries,
		RetryDelay:     d.RetryDelay,
	}
}

func (c Config) KafkaConfig() queue.KafkaConfig {
	return queue.KafkaConfig{Brokers: c.Kafka.Brokers, GroupID: c.Kafka.GroupID, Topics: c.Kafka.Topics}
}
