package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// LevelStore persists iceberg registry levels.
type LevelStore struct {
	pool *pgxpool.Pool
}

// NewLevelStore creates a LevelStore over the given pool.
func NewLevelStore(pool *pgxpool.Pool) *LevelStore {
	return &LevelStore{pool: pool}
}

// Upsert writes the level keyed by (symbol, price, side).
func (s *LevelStore) Upsert(ctx context.Context, symbol string, lvl domain.IcebergLevel) error {
	var cancellation []byte
	if lvl.CancellationContext != nil {
		var err error
		cancellation, err = json.Marshal(lvl.CancellationContext)
		if err != nil {
			return fmt.Errorf("postgres: marshal cancellation context: %w", err)
		}
	}

	const q = `
		INSERT INTO iceberg_levels (
			symbol, price, is_ask, total_hidden_volume, refill_count,
			creation_time, last_update_time, status, confidence_score,
			spoofing_probability, is_gamma_wall, is_whale, is_dolphin, cancellation
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (symbol, price, is_ask) DO UPDATE SET
			total_hidden_volume  = EXCLUDED.total_hidden_volume,
			refill_count         = EXCLUDED.refill_count,
			last_update_time     = EXCLUDED.last_update_time,
			status               = EXCLUDED.status,
			confidence_score     = EXCLUDED.confidence_score,
			spoofing_probability = EXCLUDED.spoofing_probability,
			is_gamma_wall        = EXCLUDED.is_gamma_wall,
			is_whale             = EXCLUDED.is_whale,
			is_dolphin           = EXCLUDED.is_dolphin,
			cancellation         = EXCLUDED.cancellation`

	_, err := s.pool.Exec(ctx, q,
		symbol,
		lvl.Price.String(),
		lvl.IsAsk,
		lvl.TotalHiddenVolume.String(),
		lvl.RefillCount,
		lvl.CreationTime,
		lvl.LastUpdateTime,
		string(lvl.Status),
		lvl.ConfidenceScore,
		lvl.SpoofingProbability,
		lvl.IsGammaWall,
		lvl.IsWhaleIceberg,
		lvl.IsDolphinIceberg,
		cancellation,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert iceberg level: %w", err)
	}
	return nil
}

// ListActive returns the ACTIVE levels for the symbol.
func (s *LevelStore) ListActive(ctx context.Context, symbol string) ([]domain.IcebergLevel, error) {
	const q = `
		SELECT price::text, is_ask, total_hidden_volume::text, refill_count,
		       creation_time, last_update_time, status, confidence_score,
		       spoofing_probability, is_gamma_wall, is_whale, is_dolphin, cancellation
		FROM iceberg_levels
		WHERE symbol = $1 AND status = 'ACTIVE'
		ORDER BY price`

	rows, err := s.pool.Query(ctx, q, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active levels: %w", err)
	}
	defer rows.Close()

	return scanLevels(rows)
}

// ListBySymbol returns levels for the symbol with optional time bounds.
func (s *LevelStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.IcebergLevel, error) {
	since := time.Time{}
	if opts.Since != nil {
		since = *opts.Since
	}
	until := time.Now().Add(24 * time.Hour)
	if opts.Until != nil {
		until = *opts.Until
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}

	const q = `
		SELECT price::text, is_ask, total_hidden_volume::text, refill_count,
		       creation_time, last_update_time, status, confidence_score,
		       spoofing_probability, is_gamma_wall, is_whale, is_dolphin, cancellation
		FROM iceberg_levels
		WHERE symbol = $1 AND last_update_time >= $2 AND last_update_time <= $3
		ORDER BY last_update_time DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.pool.Query(ctx, q, symbol, since, until, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list levels: %w", err)
	}
	defer rows.Close()

	return scanLevels(rows)
}

func scanLevels(rows pgx.Rows) ([]domain.IcebergLevel, error) {
	var out []domain.IcebergLevel
	for rows.Next() {
		var (
			lvl          domain.IcebergLevel
			priceStr     string
			hiddenStr    string
			status       string
			cancellation []byte
		)
		if err := rows.Scan(
			&priceStr, &lvl.IsAsk, &hiddenStr, &lvl.RefillCount,
			&lvl.CreationTime, &lvl.LastUpdateTime, &status, &lvl.ConfidenceScore,
			&lvl.SpoofingProbability, &lvl.IsGammaWall, &lvl.IsWhaleIceberg,
			&lvl.IsDolphinIceberg, &cancellation,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan iceberg level: %w", err)
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse price %q: %w", priceStr, err)
		}
		hidden, err := decimal.NewFromString(hiddenStr)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse hidden volume %q: %w", hiddenStr, err)
		}
		lvl.Price = price
		lvl.TotalHiddenVolume = hidden
		lvl.Status = domain.IcebergStatus(status)

		if len(cancellation) > 0 {
			var ctx domain.CancellationContext
			if err := json.Unmarshal(cancellation, &ctx); err != nil {
				return nil, fmt.Errorf("postgres: decode cancellation context: %w", err)
			}
			lvl.CancellationContext = &ctx
		}
		out = append(out, lvl)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.LevelStore = (*LevelStore)(nil)
