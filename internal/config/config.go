// Package config defines the top-level configuration for icewatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ICEWATCH_* environment
// variables.
type Config struct {
	Binance  BinanceConfig          `toml:"binance"`
	Deribit  DeribitConfig          `toml:"deribit"`
	Postgres PostgresConfig         `toml:"postgres"`
	Redis    RedisConfig            `toml:"redis"`
	S3       S3Config               `toml:"s3"`
	Notify   NotifyConfig           `toml:"notify"`
	Assets   map[string]AssetConfig `toml:"assets"`
	Symbols  []string               `toml:"symbols"`
	Mode     string                 `toml:"mode"`
	LogLevel string                 `toml:"log_level"`
}

// BinanceConfig holds the market-data endpoints.
type BinanceConfig struct {
	WsHost       string   `toml:"ws_host"`
	RestHost     string   `toml:"rest_host"`
	DepthLimit   int      `toml:"depth_limit"`
	BufferWindow duration `toml:"buffer_window"`
}

// DeribitConfig holds the derivatives refresh parameters.
type DeribitConfig struct {
	Enabled         bool     `toml:"enabled"`
	BaseURL         string   `toml:"base_url"`
	Currency        string   `toml:"currency"`
	RefreshInterval duration `toml:"refresh_interval"`
	HTTPTimeout     duration `toml:"http_timeout"`
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
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for event archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// AssetConfig carries the per-symbol detection parameters. Thresholds that
// depend on the token's price scale (dust, hidden volume) are strings parsed
// into decimals at wiring time so the TOML stays exact.
type AssetConfig struct {
	// Iceberg detection.
	DustThreshold      string  `toml:"dust_threshold"`
	MinHiddenVolume    string  `toml:"min_hidden_volume"`
	MinIcebergRatio    float64 `toml:"min_iceberg_ratio"`
	MaxRefillDelayMs   int64   `toml:"max_refill_delay_ms"`
	RefillCutoffMs     float64 `toml:"refill_cutoff_ms"`
	RefillAlpha        float64 `toml:"refill_alpha"`
	MinRefillProb      float64 `toml:"min_refill_probability"`
	RaceToleranceMs    int64   `toml:"race_tolerance_ms"`
	PendingRetentionMs int64   `toml:"pending_retention_ms"`

	// Registry decay.
	DecayHalfLifeSec float64 `toml:"decay_half_life_sec"`
	MaxTTLSec        float64 `toml:"max_ttl_sec"`

	// Cohort segmentation.
	WhaleThresholdUSD  float64 `toml:"whale_threshold_usd"`
	MinnowThresholdUSD float64 `toml:"minnow_threshold_usd"`
	WhaleFloorUSD      float64 `toml:"whale_floor_usd"`
	MinnowFloorUSD     float64 `toml:"minnow_floor_usd"`
	DynamicThresholds  bool    `toml:"dynamic_thresholds"`

	// Algo classification.
	AlgoWindowSize       int     `toml:"algo_window_size"`
	AlgoDirectionalRatio float64 `toml:"algo_directional_ratio"`

	// VPIN.
	VPINBucketSizeUSD float64 `toml:"vpin_bucket_size_usd"`
	VPINMinBuckets    int     `toml:"vpin_min_buckets"`
	VPINFlatThreshold float64 `toml:"vpin_flat_threshold"`
	VPINWindow        int     `toml:"vpin_window"`

	// Book metrics.
	OBILambda             float64 `toml:"obi_lambda"`
	OFIDepth              int     `toml:"ofi_depth"`
	BreachTolerancePct    float64 `toml:"breach_tolerance_pct"`
	GammaWallTolerancePct float64 `toml:"gamma_wall_tolerance_pct"`
	ZoneTolerancePct      float64 `toml:"zone_tolerance_pct"`

	// Registry cleanup.
	CleanupInterval duration `toml:"cleanup_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultAsset returns the baseline asset parameters, tuned for BTCUSDT.
func DefaultAsset() AssetConfig {
	return AssetConfig{
		DustThreshold:      "0.0001",
		MinHiddenVolume:    "0.05",
		MinIcebergRatio:    0.3,
		MaxRefillDelayMs:   50,
		RefillCutoffMs:     30,
		RefillAlpha:        0.15,
		MinRefillProb:      0.6,
		RaceToleranceMs:    20,
		PendingRetentionMs: 100,

		DecayHalfLifeSec: 300,
		MaxTTLSec:        3600,

		WhaleThresholdUSD:  100_000,
		MinnowThresholdUSD: 1_000,
		WhaleFloorUSD:      10_000,
		MinnowFloorUSD:     100,
		DynamicThresholds:  false,

		AlgoWindowSize:       200,
		AlgoDirectionalRatio: 0.85,

		VPINBucketSizeUSD: 1_000_000,
		VPINMinBuckets:    10,
		VPINFlatThreshold: 0.05,
		VPINWindow:        50,

		OBILambda:             0.5,
		OFIDepth:              20,
		BreachTolerancePct:    0.0005,
		GammaWallTolerancePct: 0.001,
		ZoneTolerancePct:      0.002,

		CleanupInterval: duration{5 * time.Minute},
	}
}

// Defaults returns a Config populated with reasonable default values.
// Load decodes the TOML file on top of these.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			WsHost:       "wss://stream.binance.com:9443/ws",
			RestHost:     "https://api.binance.com",
			DepthLimit:   1000,
			BufferWindow: duration{2 * time.Second},
		},
		Deribit: DeribitConfig{
			Enabled:         false,
			BaseURL:         "https://www.deribit.com/api/v2/public",
			Currency:        "BTC",
			RefreshInterval: duration{time.Minute},
			HTTPTimeout:     duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "icewatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "icewatch-data",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{"iceberg_detected", "algo_detected", "whale_trade"},
		},
		Assets: map[string]AssetConfig{
			"BTCUSDT": DefaultAsset(),
		},
		Symbols:  []string{"BTCUSDT"},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"full":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Cohort threshold
// violations are fatal here: a whale bar under 10x the minnow bar makes the
// segmentation meaningless downstream.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, full, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol is required")
	}
	for _, sym := range c.Symbols {
		if _, ok := c.Assets[sym]; !ok {
			errs = append(errs, fmt.Sprintf("assets: no asset config for symbol %q", sym))
		}
	}

	if c.Binance.WsHost == "" {
		errs = append(errs, "binance: ws_host must not be empty")
	}
	if c.Binance.RestHost == "" {
		errs = append(errs, "binance: rest_host must not be empty")
	}
	if c.Binance.DepthLimit <= 0 {
		errs = append(errs, "binance: depth_limit must be > 0")
	}

	for sym, asset := range c.Assets {
		errs = append(errs, asset.validate(sym)...)
	}

	if c.Mode == "full" || c.Mode == "archive" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Deribit.Enabled {
		if c.Deribit.BaseURL == "" {
			errs = append(errs, "deribit: base_url must not be empty")
		}
		if c.Deribit.Currency == "" {
			errs = append(errs, "deribit: currency must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validate checks one asset block. The 10x whale/minnow gap is the load-
// bearing invariant: it holds for both static and dynamic thresholds.
func (a AssetConfig) validate(sym string) []string {
	var errs []string

	if a.WhaleThresholdUSD <= 0 {
		errs = append(errs, fmt.Sprintf("assets.%s: whale_threshold_usd must be > 0", sym))
	}
	if a.MinnowThresholdUSD <= 0 {
		errs = append(errs, fmt.Sprintf("assets.%s: minnow_threshold_usd must be > 0", sym))
	}
	if a.WhaleThresholdUSD < 10*a.MinnowThresholdUSD {
		errs = append(errs, fmt.Sprintf(
			"assets.%s: whale_threshold_usd (%.0f) must be at least 10x minnow_threshold_usd (%.0f)",
			sym, a.WhaleThresholdUSD, a.MinnowThresholdUSD))
	}
	if a.DynamicThresholds && a.WhaleFloorUSD < 10*a.MinnowFloorUSD {
		errs = append(errs, fmt.Sprintf(
			"assets.%s: whale_floor_usd must be at least 10x minnow_floor_usd for dynamic thresholds", sym))
	}

	if a.MaxRefillDelayMs <= 0 {
		errs = append(errs, fmt.Sprintf("assets.%s: max_refill_delay_ms must be > 0", sym))
	}
	if a.MinRefillProb <= 0 || a.MinRefillProb >= 1 {
		errs = append(errs, fmt.Sprintf("assets.%s: min_refill_probability must be in (0,1)", sym))
	}
	if a.MinIcebergRatio <= 0 || a.MinIcebergRatio >= 1 {
		errs = append(errs, fmt.Sprintf("assets.%s: min_iceberg_ratio must be in (0,1)", sym))
	}
	if a.PendingRetentionMs < a.MaxRefillDelayMs {
		errs = append(errs, fmt.Sprintf(
			"assets.%s: pending_retention_ms must be >= max_refill_delay_ms (candidates must outlive the reject horizon)", sym))
	}

	if a.DecayHalfLifeSec <= 0 {
		errs = append(errs, fmt.Sprintf("assets.%s: decay_half_life_sec must be > 0", sym))
	}
	if a.MaxTTLSec <= 0 {
		errs = append(errs, fmt.Sprintf("assets.%s: max_ttl_sec must be > 0", sym))
	}

	if a.VPINBucketSizeUSD <= 0 {
		errs = append(errs, fmt.Sprintf("assets.%s: vpin_bucket_size_usd must be > 0", sym))
	}
	if a.VPINMinBuckets < 1 {
		errs = append(errs, fmt.Sprintf("assets.%s: vpin_min_buckets must be >= 1", sym))
	}

	if a.AlgoWindowSize < 10 {
		errs = append(errs, fmt.Sprintf("assets.%s: algo_window_size must be >= 10", sym))
	}
	if a.AlgoDirectionalRatio <= 0.5 || a.AlgoDirectionalRatio > 1 {
		errs = append(errs, fmt.Sprintf("assets.%s: algo_directional_ratio must be in (0.5,1]", sym))
	}

	return errs
}
