// Package config loads process configuration from flags, environment and an
// optional config file through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. EXPEDIENTS_REDIS_URL.
const EnvPrefix = "EXPEDIENTS"

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Log             LogConfig
	Store           StoreConfig
	Redis           RedisConfig
	Postgres        PostgresConfig
	Kafka           KafkaConfig
	Slack           SlackConfig
	Mixpanel        MixpanelConfig
	Payment         PaymentConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Driver string
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig selects the database/sql driver ("pgx" or "postgres").
type PostgresConfig struct {
	DSN    string
	Driver string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SlackConfig struct {
	WebhookURL string
}

type MixpanelConfig struct {
	Token string
	URL   string
}

// PaymentConfig configures the gateway. With no APIURL the deterministic
// stub gateway is used and DeclineAbove is its threshold.
type PaymentConfig struct {
	APIURL           string
	APIKey           string
	Timeout          time.Duration
	DeclineAbove     float64
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// SetDefaults registers every key with its default so env overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":3000")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.driver", "pgx")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "expedient-events")
	v.SetDefault("slack.webhook_url", "")
	v.SetDefault("mixpanel.token", "")
	v.SetDefault("mixpanel.url", "https://api.mixpanel.com/track")
	v.SetDefault("payment.api_url", "")
	v.SetDefault("payment.api_key", "")
	v.SetDefault("payment.timeout", 10*time.Second)
	v.SetDefault("payment.decline_above", 1000.0)
	v.SetDefault("payment.breaker_threshold", 5)
	v.SetDefault("payment.breaker_cooldown", 30*time.Second)
}

// BindEnv wires EXPEDIENTS_* variables onto dotted keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads and validates configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:            v.GetString("addr"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Store: StoreConfig{Driver: strings.ToLower(v.GetString("store.driver"))},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Postgres: PostgresConfig{
			DSN:    v.GetString("postgres.dsn"),
			Driver: v.GetString("postgres.driver"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetStringSlice("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Slack:    SlackConfig{WebhookURL: v.GetString("slack.webhook_url")},
		Mixpanel: MixpanelConfig{Token: v.GetString("mixpanel.token"), URL: v.GetString("mixpanel.url")},
		Payment: PaymentConfig{
			APIURL:           strings.TrimRight(v.GetString("payment.api_url"), "/"),
			APIKey:           v.GetString("payment.api_key"),
			Timeout:          v.GetDuration("payment.timeout"),
			DeclineAbove:     v.GetFloat64("payment.decline_above"),
			BreakerThreshold: v.GetInt("payment.breaker_threshold"),
			BreakerCooldown:  v.GetDuration("payment.breaker_cooldown"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for store.driver=redis")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for store.driver=postgres")
		}
		if c.Postgres.Driver != "pgx" && c.Postgres.Driver != "postgres" {
			return fmt.Errorf("postgres.driver must be pgx or postgres, got %q", c.Postgres.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	if c.Payment.APIURL != "" && c.Payment.APIKey == "" {
		return fmt.Errorf("payment.api_key is required when payment.api_url is set")
	}
	if c.Payment.DeclineAbove <= 0 {
		return fmt.Errorf("payment.decline_above must be positive")
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
