package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Transport   TransportConfig   `yaml:"transport"`
	SES         SESConfig         `yaml:"ses"`
	SparkPost   SparkPostConfig   `yaml:"sparkpost"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
	Sync        SyncConfig        `yaml:"sync"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection and pool settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the optional Redis connection. When URL is empty the
// dispatch lease falls back to PostgreSQL advisory locks and the provider
// send budget is disabled.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TransportConfig selects the email provider used for sends
type TransportConfig struct {
	Provider           string `yaml:"provider"` // "ses" or "sparkpost"
	SendTimeoutSeconds int    `yaml:"send_timeout_seconds"`
}

// SendTimeout returns the per-send timeout as a duration
func (c TransportConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES v2 configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AttachmentsConfig holds the S3 location campaign attachments are read from
type AttachmentsConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
}

// DispatchConfig holds the batch dispatch engine tuning inputs. None of
// these are derived from a provider's published limits; operators set them
// so one invocation stays under the host's execution ceiling.
type DispatchConfig struct {
	BatchSize       int `yaml:"batch_size"`
	Concurrency     int `yaml:"concurrency"`
	ChunkDelayMS    int `yaml:"chunk_delay_ms"`
	LeaseTTLSeconds int `yaml:"lease_ttl_seconds"`
	RatePerSecond   int `yaml:"rate_per_second"`
	DailyLimit      int `yaml:"daily_limit"`
}

// ChunkDelay returns the pause between chunks as a duration
func (c DispatchConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMS) * time.Millisecond
}

// LeaseTTL returns the dispatch lease lifetime as a duration
func (c DispatchConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// SchedulerConfig holds the scheduling trigger polling settings
type SchedulerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval returns the polling interval as a duration
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// DefaultsConfig holds account-wide template variables. Values stored in
// the account_settings table take precedence over these.
type DefaultsConfig struct {
	BookLink     string `yaml:"book_link"`
	DiscountCode string `yaml:"discount_code"`
	BrandLogoURL string `yaml:"brand_logo_url"`
}

// Vars returns the non-empty defaults keyed by template variable name
func (c DefaultsConfig) Vars() map[string]string {
	vars := map[string]string{}
	if c.BookLink != "" {
		vars["book_link"] = c.BookLink
	}
	if c.DiscountCode != "" {
		vars["discount_code"] = c.DiscountCode
	}
	if c.BrandLogoURL != "" {
		vars["brand_logo_url"] = c.BrandLogoURL
	}
	return vars
}

// SyncConfig holds the downstream sync hook fired after a campaign finishes
type SyncConfig struct {
	HookURL        string `yaml:"hook_url"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the hook timeout as a duration
func (c SyncConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoggingConfig holds structured logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Transport.Provider == "" {
		cfg.Transport.Provider = "ses"
	}
	if cfg.Transport.SendTimeoutSeconds == 0 {
		cfg.Transport.SendTimeoutSeconds = 15
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.Attachments.S3Region == "" {
		cfg.Attachments.S3Region = cfg.SES.Region
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 100
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 5
	}
	if cfg.Dispatch.ChunkDelayMS == 0 {
		cfg.Dispatch.ChunkDelayMS = 50
	}
	if cfg.Dispatch.LeaseTTLSeconds == 0 {
		cfg.Dispatch.LeaseTTLSeconds = 600
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.TimeoutSeconds == 0 {
		cfg.Sync.TimeoutSeconds = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Transport.Provider = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.SparkPost.APIKey = v
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.SparkPost.BaseURL = v
	}
	if v := os.Getenv("ATTACHMENTS_S3_BUCKET"); v != "" {
		cfg.Attachments.S3Bucket = v
	}
	if v := os.Getenv("SYNC_HOOK_URL"); v != "" {
		cfg.Sync.HookURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	overrideInt("DISPATCH_BATCH_SIZE", &cfg.Dispatch.BatchSize)
	overrideInt("DISPATCH_CONCURRENCY", &cfg.Dispatch.Concurrency)
	overrideInt("DISPATCH_CHUNK_DELAY_MS", &cfg.Dispatch.ChunkDelayMS)
	overrideInt("DISPATCH_RATE_PER_SECOND", &cfg.Dispatch.RatePerSecond)
	overrideInt("SCHEDULER_INTERVAL_SECONDS", &cfg.Scheduler.IntervalSeconds)

	return cfg, nil
}

// overrideInt replaces *dst with a positive integer env value. Malformed or
// non-positive values are ignored so a typo never zeroes a tuning input.
func overrideInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return
	}
	*dst = n
}
