package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray .env is read.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.False(t, cfg.KafkaEnabled())
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("PORT", "9090")
	t.Setenv("QUEUE_MAX_SIZE", "5")
	t.Setenv("PROCESS_INTERVAL", "250ms")
	t.Setenv("CONSUMER_DRAIN_ON_SHUTDOWN", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_TOPIC", "logs")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.Queue.MaxSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.ProcessInterval)
	assert.True(t, cfg.Consumer.DrainOnShutdown)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers())
	assert.True(t, cfg.KafkaEnabled())
	assert.True(t, cfg.RedisEnabled())
}

func TestLoad_YAMLFileWithEnvPrecedence(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "logagg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 7000
queue:
  max_size: 42
storage:
  db_path: /tmp/from-file.db
`), 0o600))
	t.Setenv("QUEUE_MAX_SIZE", "43")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, 43, cfg.Queue.MaxSize, "environment overrides file")
	assert.Equal(t, "/tmp/from-file.db", cfg.Storage.DBPath)
	assert.Equal(t, 3, cfg.Consumer.MaxAttempts, "defaults fill unset fields")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_PATH=dotenv.db\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DB_PATH") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv.db", cfg.Storage.DBPath)
}

func TestLoad_MissingFile(t *testing.T) {
	inTempDir(t)
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		msg  string
	}{
		{"zero queue", func(c *Config) { c.Queue.MaxSize = 0 }, "QUEUE_MAX_SIZE"},
		{"zero batch", func(c *Config) { c.Queue.BatchSize = 0 }, "BATCH_PROCESS_SIZE"},
		{"zero interval", func(c *Config) { c.Queue.ProcessInterval = 0 }, "PROCESS_INTERVAL"},
		{"zero attempts", func(c *Config) { c.Consumer.MaxAttempts = 0 }, "CONSUMER_MAX_ATTEMPTS"},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, "PORT"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"no storage", func(c *Config) { c.Storage.DBPath = "" }, "DB_PATH"},
		{"kafka half set", func(c *Config) { c.Kafka.Topic = "logs" }, "KAFKA_BROKERS"},
		{"negative rate", func(c *Config) { c.HTTP.RateLimitPerMinute = -1 }, "RATE_LIMIT_PER_MINUTE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
