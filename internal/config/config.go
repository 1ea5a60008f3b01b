package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "STOREFRONT"

type Config struct {
	Storage  string         `mapstructure:"storage"` // postgres or memory
	HTTP     HTTPConfig     `mapstructure:"http"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Session  SessionConfig  `mapstructure:"session"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// GRPCConfig with an empty Port disables the gRPC health endpoint.
type GRPCConfig struct {
	Port string `mapstructure:"port"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"db_name"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// MongoConfig with an empty URI keeps the catalog in memory.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
}

// RedisConfig with an empty Addr keeps sessions in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig with no brokers disables the outbox relay and uses an
// in-process payment queue.
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	EventsTopic  string   `mapstructure:"events_topic"`
	PaymentTopic string   `mapstructure:"payment_topic"`
	GroupID      string   `mapstructure:"group_id"`
}

type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
	Jitter     time.Duration `mapstructure:"jitter"`
}

type PricingConfig struct {
	PolicyCacheTTL time.Duration `mapstructure:"policy_cache_ttl"`
}

type PaymentConfig struct {
	// GatewayURL selects the HTTP gateway; empty uses the fake one.
	GatewayURL      string        `mapstructure:"gateway_url"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Backoff         time.Duration `mapstructure:"backoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerOpen     time.Duration `mapstructure:"breaker_open"`
	QueueSize       int           `mapstructure:"queue_size"`
}

type OutboxConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage", "postgres")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)

	v.SetDefault("grpc.port", "9000")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.db_name", "storefront")
	v.SetDefault("postgres.migrations_path", "./internal/repository/migrations")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "catalog")
	v.SetDefault("mongo.connect_timeout", 10*time.Second)
	v.SetDefault("mongo.max_pool_size", 100)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "order-events")
	v.SetDefault("kafka.payment_topic", "payment-requests")
	v.SetDefault("kafka.group_id", "storefront-payments")

	v.SetDefault("session.cookie_name", "storefront_session")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.jitter", 10*time.Minute)

	v.SetDefault("pricing.policy_cache_ttl", 30*time.Second)

	v.SetDefault("payment.gateway_url", "")
	v.SetDefault("payment.attempt_timeout", 10*time.Second)
	v.SetDefault("payment.max_attempts", 3)
	v.SetDefault("payment.backoff", 2*time.Second)
	v.SetDefault("payment.breaker_failures", 5)
	v.SetDefault("payment.breaker_open", 30*time.Second)
	v.SetDefault("payment.queue_size", 256)

	v.SetDefault("outbox.tick", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads defaults, then the optional config file, then STOREFRONT_*
// environment variables (STOREFRONT_POSTGRES_HOST overrides postgres.host).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// comma separated list from the environment
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.Payment.MaxAttempts < 1 {
		return errors.New("payment.max_attempts must be at least 1")
	}
	if c.Payment.AttemptTimeout <= 0 {
		return errors.New("payment.attempt_timeout must be positive")
	}
	if c.Outbox.Tick <= 0 {
		return errors.New("outbox.tick must be positive")
	}
	return nil
}
