package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BASKETBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BASKETBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BASKETBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BASKETBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BASKETBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BASKETBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BASKETBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BASKETBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BASKETBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BASKETBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BASKETBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BASKETBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BASKETBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BASKETBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BASKETBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BASKETBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BASKETBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BASKETBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BASKETBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BASKETBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BASKETBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BASKETBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BASKETBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BASKETBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BASKETBOT_S3_FORCE_PATH_STYLE")

	// ── Market data ──
	setStr(&cfg.MarketData.BaseURL, "BASKETBOT_MARKET_DATA_BASE_URL")
	setStr(&cfg.MarketData.APIKey, "BASKETBOT_MARKET_DATA_API_KEY")
	setInt(&cfg.MarketData.CacheTTLMinutes, "BASKETBOT_MARKET_DATA_CACHE_TTL_MINUTES")
	setFloat64(&cfg.MarketData.RequestsPerSec, "BASKETBOT_MARKET_DATA_REQUESTS_PER_SEC")
	setInt(&cfg.MarketData.RequestBurst, "BASKETBOT_MARKET_DATA_REQUEST_BURST")
	setInt(&cfg.MarketData.CandidateLimit, "BASKETBOT_MARKET_DATA_CANDIDATE_LIMIT")
	setStr(&cfg.MarketData.Platform, "BASKETBOT_MARKET_DATA_PLATFORM")

	// ── Custody ──
	setStr(&cfg.Custody.BaseURL, "BASKETBOT_CUSTODY_BASE_URL")
	setStr(&cfg.Custody.APIKey, "BASKETBOT_CUSTODY_API_KEY")
	setStr(&cfg.Custody.APISecret, "BASKETBOT_CUSTODY_API_SECRET")
	setStr(&cfg.Custody.EncryptedSecretPath, "BASKETBOT_CUSTODY_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Custody.SecretPassword, "BASKETBOT_CUSTODY_SECRET_PASSWORD")
	setInt(&cfg.Custody.TradeTimeoutSecs, "BASKETBOT_CUSTODY_TRADE_TIMEOUT_SECS")

	// ── Scheduler ──
	setInt(&cfg.Scheduler.MaxRetries, "BASKETBOT_SCHEDULER_MAX_RETRIES")
	setInt(&cfg.Scheduler.DefaultIntervalMinutes, "BASKETBOT_SCHEDULER_DEFAULT_INTERVAL_MINUTES")
	setInt(&cfg.Scheduler.LockTTLSecs, "BASKETBOT_SCHEDULER_LOCK_TTL_SECS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BASKETBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "BASKETBOT_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.IntervalHours, "BASKETBOT_ARCHIVE_INTERVAL_HOURS")

	// ── Server ──
	setInt(&cfg.Server.Port, "BASKETBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BASKETBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BASKETBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BASKETBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BASKETBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BASKETBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BASKETBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.OwnerID, "BASKETBOT_OWNER_ID")
	setStr(&cfg.Mode, "BASKETBOT_MODE")
	setStr(&cfg.LogLevel, "BASKETBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
