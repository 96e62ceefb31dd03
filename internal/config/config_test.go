package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

transport:
  provider: sparkpost
  send_timeout_seconds: 20

sparkpost:
  api_key: "test-api-key"

dispatch:
  batch_size: 250
  concurrency: 10
  chunk_delay_ms: 100
  rate_per_second: 40

scheduler:
  interval_seconds: 15

defaults:
  book_link: "https://book.example.com"
  discount_code: "SPRING"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "sparkpost", cfg.Transport.Provider)
	assert.Equal(t, 20*time.Second, cfg.Transport.SendTimeout())
	assert.Equal(t, "test-api-key", cfg.SparkPost.APIKey)
	assert.Equal(t, "https://api.sparkpost.com/api/v1", cfg.SparkPost.BaseURL)

	assert.Equal(t, 250, cfg.Dispatch.BatchSize)
	assert.Equal(t, 10, cfg.Dispatch.Concurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Dispatch.ChunkDelay())
	assert.Equal(t, 40, cfg.Dispatch.RatePerSecond)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval())

	assert.Equal(t, map[string]string{
		"book_link":     "https://book.example.com",
		"discount_code": "SPRING",
	}, cfg.Defaults.Vars())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "ses", cfg.Transport.Provider)
	assert.Equal(t, 15*time.Second, cfg.Transport.SendTimeout())
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, "us-east-1", cfg.Attachments.S3Region)
	assert.Equal(t, 100, cfg.Dispatch.BatchSize)
	assert.Equal(t, 5, cfg.Dispatch.Concurrency)
	assert.Equal(t, 50*time.Millisecond, cfg.Dispatch.ChunkDelay())
	assert.Equal(t, 10*time.Minute, cfg.Dispatch.LeaseTTL())
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval())
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Defaults.Vars())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "dispatch:\n  batch_size: 100\n")

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/mailer")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("EMAIL_PROVIDER", "sparkpost")
	t.Setenv("DISPATCH_BATCH_SIZE", "40")
	t.Setenv("DISPATCH_CONCURRENCY", "not-a-number")
	t.Setenv("SYNC_HOOK_URL", "https://hooks.example.com/sync")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/mailer", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, "sparkpost", cfg.Transport.Provider)
	assert.Equal(t, 40, cfg.Dispatch.BatchSize)
	assert.Equal(t, 5, cfg.Dispatch.Concurrency, "malformed override is ignored")
	assert.Equal(t, "https://hooks.example.com/sync", cfg.Sync.HookURL)
}

func TestServerGetHost(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	assert.Equal(t, "127.0.0.1", ServerConfig{Host: "127.0.0.1"}.GetHost())

	t.Setenv("SERVER_HOST", "10.0.0.5")
	assert.Equal(t, "10.0.0.5", ServerConfig{Host: "127.0.0.1"}.GetHost())

	t.Setenv("ECS_CONTAINER_METADATA_URI", "http://169.254.170.2/v4")
	assert.Equal(t, "0.0.0.0", ServerConfig{Host: "127.0.0.1"}.GetHost())
}
