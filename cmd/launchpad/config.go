package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	CI       CIConfig       `mapstructure:"ci"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Workers  WorkersConfig  `mapstructure:"workers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// SharedSecret is an optional secret to validate the X-Gateway-Secret
	// header. If empty, secret validation is skipped.
	SharedSecret string `mapstructure:"shared_secret"`
}

// SecretsConfig holds credential encryption configuration. Both values are
// required; the process refuses to start without them.
type SecretsConfig struct {
	// Passphrase is the key derivation passphrase.
	// Set via LAUNCHPAD_SECRETS_PASSPHRASE.
	Passphrase string `mapstructure:"passphrase"`

	// Salt is the key derivation salt.
	// Set via LAUNCHPAD_SECRETS_SALT.
	Salt string `mapstructure:"salt"`
}

// CIConfig holds CI provider client configuration.
type CIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryMax        int           `mapstructure:"retry_max"`
	RunPollAttempts int           `mapstructure:"run_poll_attempts"`
	RunPollDelay    time.Duration `mapstructure:"run_poll_delay"`
}

// DispatchConfig holds dispatch behavior configuration.
type DispatchConfig struct {
	// MaxAttempts is how many distinct accounts one deploy or retry call
	// will try before giving up.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// WorkersConfig holds background worker configuration.
type WorkersConfig struct {
	RefreshInterval      time.Duration `mapstructure:"refresh_interval"`
	RefreshBatchSize     int           `mapstructure:"refresh_batch_size"`
	RefreshMaxConcurrent int           `mapstructure:"refresh_max_concurrent"`
	OutboxInterval       time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize      int           `mapstructure:"outbox_batch_size"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/launchpad.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.shared_secret", "")
	v.SetDefault("secrets.passphrase", "")
	v.SetDefault("secrets.salt", "")
	v.SetDefault("ci.base_url", "https://api.github.com")
	v.SetDefault("ci.timeout", "30s")
	v.SetDefault("ci.retry_max", 2)
	v.SetDefault("ci.run_poll_attempts", 2)
	v.SetDefault("ci.run_poll_delay", "1s")
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("workers.refresh_interval", "30s")
	v.SetDefault("workers.refresh_batch_size", 50)
	v.SetDefault("workers.refresh_max_concurrent", 5)
	v.SetDefault("workers.outbox_interval", "10s")
	v.SetDefault("workers.outbox_batch_size", 100)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("LAUNCHPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Secrets.Passphrase == "" {
		return errors.New("secrets.passphrase is required (set LAUNCHPAD_SECRETS_PASSPHRASE)")
	}
	if c.Secrets.Salt == "" {
		return errors.New("secrets.salt is required (set LAUNCHPAD_SECRETS_SALT)")
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
