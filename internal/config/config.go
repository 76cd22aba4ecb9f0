// Package config loads service configuration from an optional YAML file, an
// optional .env file and the process environment (highest precedence).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Storage  Storage  `yaml:"storage"`
	Queue    Queue    `yaml:"queue"`
	Consumer Consumer `yaml:"consumer"`
	Metrics  Metrics  `yaml:"metrics"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
}

type HTTP struct {
	Host               string        `yaml:"host" env:"HOST" env-default:"0.0.0.0"`
	Port               int           `yaml:"port" env:"PORT" env-default:"8080"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"0"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" env-default:"10485760"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Log struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format   string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
	Detailed bool   `yaml:"detailed" env:"ENABLE_DETAILED_LOGGING" env-default:"true"`
}

type Storage struct {
	DBPath      string `yaml:"db_path" env:"DB_PATH" env-default:"dedup_store.db"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
}

type Queue struct {
	MaxSize         int           `yaml:"max_size" env:"QUEUE_MAX_SIZE" env-default:"10000"`
	BatchSize       int           `yaml:"batch_size" env:"BATCH_PROCESS_SIZE" env-default:"100"`
	ProcessInterval time.Duration `yaml:"process_interval" env:"PROCESS_INTERVAL" env-default:"100ms"`
}

type Consumer struct {
	ErrorBackoff    time.Duration `yaml:"error_backoff" env:"CONSUMER_ERROR_BACKOFF" env-default:"100ms"`
	MaxAttempts     int           `yaml:"max_attempts" env:"CONSUMER_MAX_ATTEMPTS" env-default:"3"`
	DrainOnShutdown bool          `yaml:"drain_on_shutdown" env:"CONSUMER_DRAIN_ON_SHUTDOWN" env-default:"false"`
	DrainTimeout    time.Duration `yaml:"drain_timeout" env:"CONSUMER_DRAIN_TIMEOUT" env-default:"5s"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled" env:"ENABLE_METRICS" env-default:"true"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"24h"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"logagg"`
}

// Load builds a Config. A .env file in the working directory is applied to
// the environment first if present. When path is non-empty the YAML file is
// read and environment variables override it; otherwise only the environment
// and defaults are used.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied and no
// environment lookups.
func Default() *Config {
	return &Config{
		HTTP:     HTTP{Host: "0.0.0.0", Port: 8080, MaxBodyBytes: 10 << 20, ShutdownTimeout: 10 * time.Second},
		Log:      Log{Level: "info", Format: "text", Detailed: true},
		Storage:  Storage{DBPath: "dedup_store.db"},
		Queue:    Queue{MaxSize: 10000, BatchSize: 100, ProcessInterval: 100 * time.Millisecond},
		Consumer: Consumer{ErrorBackoff: 100 * time.Millisecond, MaxAttempts: 3, DrainTimeout: 5 * time.Second},
		Metrics:  Metrics{Enabled: true},
		Redis:    Redis{TTL: 24 * time.Hour},
		Kafka:    Kafka{GroupID: "logagg"},
	}
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be 1-65535, got %d", c.HTTP.Port))
	}
	if c.HTTP.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.HTTP.MaxBodyBytes))
	}
	if c.HTTP.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.HTTP.RateLimitPerMinute))
	}
	if c.Queue.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_SIZE must be positive, got %d", c.Queue.MaxSize))
	}
	if c.Queue.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("BATCH_PROCESS_SIZE must be positive, got %d", c.Queue.BatchSize))
	}
	if c.Queue.ProcessInterval <= 0 {
		errs = append(errs, fmt.Errorf("PROCESS_INTERVAL must be positive, got %s", c.Queue.ProcessInterval))
	}
	if c.Consumer.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("CONSUMER_MAX_ATTEMPTS must be positive, got %d", c.Consumer.MaxAttempts))
	}
	if c.Consumer.ErrorBackoff < 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_ERROR_BACKOFF must not be negative, got %s", c.Consumer.ErrorBackoff))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}
	if c.Storage.DBPath == "" && c.Storage.DatabaseURL == "" {
		errs = append(errs, errors.New("one of DB_PATH or DATABASE_URL is required"))
	}
	if (len(c.KafkaBrokers()) > 0) != (c.Kafka.Topic != "") {
		errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// KafkaBrokers returns the broker list with blanks removed.
func (c *Config) KafkaBrokers() []string {
	out := make([]string, 0, len(c.Kafka.Brokers))
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// KafkaEnabled reports whether the Kafka source should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers()) > 0 && c.Kafka.Topic != ""
}

// RedisEnabled reports whether the hot-key cache should be used.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
}
