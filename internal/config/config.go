// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/autocut-api/internal/job"
)

// Static errors for configuration validation.
var (
	// ErrUnknownNotifier is returned when NOTIFIER is not log, nats or redis.
	ErrUnknownNotifier = errors.New("config: NOTIFIER must be one of log, nats, redis")
	// ErrUnknownRetryPolicy is returned when RETRY_POLICY is not reject or respend.
	ErrUnknownRetryPolicy = errors.New("config: RETRY_POLICY must be reject or respend")
	// ErrNATSURLRequired is returned when NOTIFIER=nats without NATS_URL.
	ErrNATSURLRequired = errors.New("config: NATS_URL is required when NOTIFIER=nats")
	// ErrRedisAddrRequired is returned when NOTIFIER=redis without REDIS_ADDR.
	ErrRedisAddrRequired = errors.New("config: REDIS_ADDR is required when NOTIFIER=redis")
	// ErrInvalidMaxRetries is returned when DEFAULT_MAX_RETRIES is negative.
	ErrInvalidMaxRetries = errors.New("config: DEFAULT_MAX_RETRIES must not be negative")
)

// Notifier backends.
const (
	NotifierLog   = "log"
	NotifierNATS  = "nats"
	NotifierRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MaxUploadBytes int64    `env:"MAX_UPLOAD_BYTES, default=536870912" json:"max_upload_bytes"`

	// Database settings. An empty URL selects the in-memory store.
	DatabaseURL string `env:"DATABASE_URL" json:"-"` // Masked in JSON
	DBMaxConns  int32  `env:"DB_MAX_CONNS, default=10" json:"db_max_conns"`

	// Billing settings
	DefaultMaxRetries int    `env:"DEFAULT_MAX_RETRIES, default=3" json:"default_max_retries"`
	RetryPolicy       string `env:"RETRY_POLICY, default=reject" json:"retry_policy"`

	// Notification settings
	Notifier          string `env:"NOTIFIER, default=log" json:"notifier"`
	NATSURL           string `env:"NATS_URL" json:"nats_url,omitempty"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX, default=autocut.jobs" json:"nats_subject_prefix"`
	RedisAddr         string `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisChannel      string `env:"REDIS_CHANNEL, default=autocut:jobs" json:"redis_channel"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/autocut" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// PostgresEnabled returns true if a database URL is configured.
func (c *Config) PostgresEnabled() bool {
	return c.DatabaseURL != ""
}

// Load reads an optional .env file and then the environment.
// It returns an error if any value is invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and their dependent settings.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Notifier) {
	case NotifierLog, "":
	case NotifierNATS:
		if c.NATSURL == "" {
			return ErrNATSURLRequired
		}
	case NotifierRedis:
		if c.RedisAddr == "" {
			return ErrRedisAddrRequired
		}
	default:
		return ErrUnknownNotifier
	}
	if _, err := job.ParseRetryPolicy(c.RetryPolicy); err != nil {
		return ErrUnknownRetryPolicy
	}
	if c.DefaultMaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	return nil
}

// Policy returns the parsed retry policy. Call Validate first.
func (c *Config) Policy() job.RetryPolicy {
	p, err := job.ParseRetryPolicy(c.RetryPolicy)
	if err != nil {
		return job.RetryReject
	}
	return p
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, Database: %s, Notifier: %s, RetryPolicy: %s, DefaultMaxRetries: %d, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.storeKind(),
		c.Notifier,
		c.RetryPolicy,
		c.DefaultMaxRetries,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func (c *Config) storeKind() string {
	if c.PostgresEnabled() {
		return "postgres"
	}
	return "memory"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
