// Package config defines the top-level configuration for basketbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BASKETBOT_* environment
// variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	MarketData MarketDataConfig `toml:"market_data"`
	Custody    CustodyConfig    `toml:"custody"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	OwnerID    string           `toml:"owner_id"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the pass-report
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketDataConfig holds the market-data provider endpoint and rate limits.
type MarketDataConfig struct {
	BaseURL          string  `toml:"base_url"`
	APIKey           string  `toml:"api_key"`
	CacheTTLMinutes  int     `toml:"cache_ttl_minutes"`
	RequestsPerSec   float64 `toml:"requests_per_sec"`
	RequestBurst     int     `toml:"request_burst"`
	CandidateLimit   int     `toml:"candidate_limit"`
	Platform         string  `toml:"platform"`
}

// CustodyConfig holds the wallet-custody service endpoint and credentials.
// The API secret may be supplied raw or as an encrypted file plus password.
type CustodyConfig struct {
	BaseURL             string `toml:"base_url"`
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	TradeTimeoutSecs    int    `toml:"trade_timeout_secs"`
}

// SchedulerConfig holds per-strategy scheduling parameters.
type SchedulerConfig struct {
	MaxRetries             int `toml:"max_retries"`
	DefaultIntervalMinutes int `toml:"default_interval_minutes"`
	LockTTLSecs            int `toml:"lock_ttl_secs"`
}

// ArchiveConfig holds pass-report archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	IntervalHours int  `toml:"interval_hours"`
}

// ServerConfig holds the HTTP API server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds operator notification channels and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config pre-populated with sensible defaults. Load
// overlays the TOML file and environment on top of this.
func Defaults() Config {
	return Config{
		Mode:     "serve",
		LogLevel: "info",
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		MarketData: MarketDataConfig{
			BaseURL:         "https://api.coingecko.com/api/v3",
			CacheTTLMinutes: 15,
			RequestsPerSec:  0.5,
			RequestBurst:    1,
			CandidateLimit:  25,
			Platform:        "base",
		},
		Custody: CustodyConfig{
			TradeTimeoutSecs: 30,
		},
		Scheduler: SchedulerConfig{
			MaxRetries:             1,
			DefaultIntervalMinutes: 5,
			LockTTLSecs:            120,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			IntervalHours: 24,
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

// Validate checks the configuration for the selected mode and returns an
// error describing the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "cron", "archive", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.OwnerID == "" {
		return fmt.Errorf("config: owner_id must be set")
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		return fmt.Errorf("config: postgres requires dsn or host/database/user")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr must be set")
	}

	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("config: market_data.base_url must be set")
	}

	if c.Custody.BaseURL == "" {
		return fmt.Errorf("config: custody.base_url must be set")
	}
	if c.Custody.APISecret == "" && c.Custody.EncryptedSecretPath == "" {
		return fmt.Errorf("config: custody requires api_secret or encrypted_secret_path")
	}
	if c.Custody.TradeTimeoutSecs <= 0 {
		return fmt.Errorf("config: custody.trade_timeout_secs must be positive")
	}

	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("config: scheduler.max_retries must not be negative")
	}
	if c.Scheduler.DefaultIntervalMinutes <= 0 {
		return fmt.Errorf("config: scheduler.default_interval_minutes must be positive")
	}

	needsS3 := c.Mode == "archive" || (c.Mode == "full" && c.Archive.Enabled)
	if needsS3 && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket must be set for mode %q", c.Mode)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}

	return nil
}
