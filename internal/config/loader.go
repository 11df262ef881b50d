package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ICEWATCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ICEWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.WsHost, "ICEWATCH_BINANCE_WS_HOST")
	setStr(&cfg.Binance.RestHost, "ICEWATCH_BINANCE_REST_HOST")
	setInt(&cfg.Binance.DepthLimit, "ICEWATCH_BINANCE_DEPTH_LIMIT")
	setDuration(&cfg.Binance.BufferWindow, "ICEWATCH_BINANCE_BUFFER_WINDOW")

	// ── Deribit ──
	setBool(&cfg.Deribit.Enabled, "ICEWATCH_DERIBIT_ENABLED")
	setStr(&cfg.Deribit.BaseURL, "ICEWATCH_DERIBIT_BASE_URL")
	setStr(&cfg.Deribit.Currency, "ICEWATCH_DERIBIT_CURRENCY")
	setDuration(&cfg.Deribit.RefreshInterval, "ICEWATCH_DERIBIT_REFRESH_INTERVAL")
	setDuration(&cfg.Deribit.HTTPTimeout, "ICEWATCH_DERIBIT_HTTP_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ICEWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ICEWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ICEWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ICEWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ICEWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ICEWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ICEWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ICEWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ICEWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ICEWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ICEWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ICEWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ICEWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ICEWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ICEWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ICEWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ICEWATCH_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "ICEWATCH_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ICEWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ICEWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "ICEWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ICEWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ICEWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ICEWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ICEWATCH_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "ICEWATCH_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ICEWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ICEWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ICEWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ICEWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Symbols, "ICEWATCH_SYMBOLS")
	setStr(&cfg.Mode, "ICEWATCH_MODE")
	setStr(&cfg.LogLevel, "ICEWATCH_LOG_LEVEL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
