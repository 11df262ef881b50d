package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Mode = "monitor"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestCohortGapViolationIsFatal(t *testing.T) {
	cfg := validConfig()
	asset := cfg.Assets["BTCUSDT"]
	asset.WhaleThresholdUSD = 5_000
	asset.MinnowThresholdUSD = 1_000
	cfg.Assets["BTCUSDT"] = asset

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10x")
}

func TestNonPositiveThresholdRejected(t *testing.T) {
	cfg := validConfig()
	asset := cfg.Assets["BTCUSDT"]
	asset.MinnowThresholdUSD = 0
	cfg.Assets["BTCUSDT"] = asset

	assert.Error(t, cfg.Validate())
}

func TestPendingRetentionMustCoverRejectHorizon(t *testing.T) {
	cfg := validConfig()
	asset := cfg.Assets["BTCUSDT"]
	asset.PendingRetentionMs = 30
	asset.MaxRefillDelayMs = 50
	cfg.Assets["BTCUSDT"] = asset

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending_retention_ms")
}

func TestUnknownModeRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	assert.Error(t, cfg.Validate())
}

func TestSymbolWithoutAssetConfigRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Symbols = append(cfg.Symbols, "ETHUSDT")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.GreaterOrEqual(t, strings.Count(err.Error(), "\n"), 2)
}

func TestFullModeRequiresPostgres(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "full"
	cfg.Postgres.Host = ""
	cfg.Postgres.DSN = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
