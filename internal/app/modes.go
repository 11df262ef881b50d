package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/icewatch/internal/config"
	"github.com/alanyoungcy/icewatch/internal/detect"
	"github.com/alanyoungcy/icewatch/internal/emit"
	"github.com/alanyoungcy/icewatch/internal/engine"
	"github.com/alanyoungcy/icewatch/internal/flow"
	"github.com/alanyoungcy/icewatch/internal/notify"
)

// MonitorMode runs the detection core with log output only: no database,
// no bus, alerts still flow if notification channels are configured.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.runPipeline(ctx, deps, false)
}

// FullMode runs the core with persistence, the signal bus, and the
// derivatives refresh.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.runPipeline(ctx, deps, true)
}

// ArchiveMode performs a one-shot archival of aged events to S3.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires postgres and s3")
	}
	cutoff := time.Now().AddDate(0, 0, -a.cfg.S3.RetentionDays)
	count, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive events: %w", err)
	}
	a.logger.Info("events archived",
		slog.Int64("count", count),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// runPipeline starts the emitter, the optional derivatives refresher, and
// one engine per symbol. A panic inside one symbol's pipeline terminates
// that symbol only.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, persist bool) error {
	sinks := []emit.Sink{emit.NewLogSink(a.logger)}
	if persist && deps.EventStore != nil {
		sinks = append(sinks, emit.NewStoreSink(deps.EventStore))
	}
	if persist && deps.SignalBus != nil {
		sinks = append(sinks, emit.NewBusSink(deps.SignalBus))
	}
	sinks = append(sinks, notify.NewEventSink(deps.Notifier))

	emitter := emit.New(a.logger, 1024, sinks...)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return emitter.Run(ctx) })

	if deps.DerivativesRefresh != nil {
		g.Go(func() error { return deps.DerivativesRefresh.Run(ctx) })
	}

	for _, symbol := range a.cfg.Symbols {
		asset, ok := a.cfg.Assets[symbol]
		if !ok {
			return fmt.Errorf("app: no asset config for %s", symbol)
		}
		params, err := buildParams(asset, a.cfg.Binance.BufferWindow.Duration)
		if err != nil {
			return fmt.Errorf("app: %s: %w", symbol, err)
		}

		opts := engine.Options{}
		if deps.DerivativesProvider != nil {
			opts.Derivatives = deps.DerivativesProvider
		}
		if persist {
			opts.LevelStore = deps.LevelStore
			opts.FeatureStore = deps.FeatureStore
		}

		eng, err := engine.New(symbol, params, deps.Market, emitter, opts, a.logger)
		if err != nil {
			return fmt.Errorf("app: %s: %w", symbol, err)
		}

		sym := symbol
		g.Go(func() error {
			// A broken invariant is a bug in this symbol's pipeline, not a
			// market condition; contain it so siblings keep running.
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("symbol engine panicked",
						slog.String("symbol", sym),
						slog.Any("panic", r),
					)
				}
			}()
			err := eng.Run(ctx)
			if err != nil && ctx.Err() == nil {
				a.logger.Error("symbol engine exited",
					slog.String("symbol", sym),
					slog.String("error", err.Error()),
				)
			}
			// Do not propagate: one symbol's failure must not poison the
			// rest of the group.
			return nil
		})
	}

	return g.Wait()
}

// buildParams converts the TOML asset block into engine parameters,
// parsing the decimal-valued thresholds.
func buildParams(asset config.AssetConfig, bufferWindow time.Duration) (engine.Params, error) {
	dust, err := decimal.NewFromString(asset.DustThreshold)
	if err != nil {
		return engine.Params{}, fmt.Errorf("parse dust_threshold: %w", err)
	}
	minHidden, err := decimal.NewFromString(asset.MinHiddenVolume)
	if err != nil {
		return engine.Params{}, fmt.Errorf("parse min_hidden_volume: %w", err)
	}

	return engine.Params{
		Detector: detect.DetectorConfig{
			MaxRefillDelayMs:     asset.MaxRefillDelayMs,
			RaceToleranceMs:      asset.RaceToleranceMs,
			CutoffMs:             asset.RefillCutoffMs,
			Alpha:                asset.RefillAlpha,
			MinRefillProbability: asset.MinRefillProb,
			DustThreshold:        dust,
			MinHiddenVolume:      minHidden,
			MinRatio:             decimal.NewFromFloat(asset.MinIcebergRatio),
		},
		Registry: detect.RegistryConfig{
			HalfLifeSec:          asset.DecayHalfLifeSec,
			MaxTTLSec:            asset.MaxTTLSec,
			MinDecayedConfidence: 0.1,
			WhaleUSD:             asset.WhaleThresholdUSD,
			DolphinUSD:           asset.WhaleFloorUSD,
		},
		Cohort: flow.CohortConfig{
			WhaleThresholdUSD:  asset.WhaleThresholdUSD,
			MinnowThresholdUSD: asset.MinnowThresholdUSD,
			WhaleFloorUSD:      asset.WhaleFloorUSD,
			MinnowFloorUSD:     asset.MinnowFloorUSD,
			Dynamic:            asset.DynamicThresholds,
		},
		Algo: flow.AlgoConfig{
			WindowSize:           asset.AlgoWindowSize,
			DirectionalThreshold: asset.AlgoDirectionalRatio,
		},
		Toxicity: flow.ToxicityConfig{
			BucketSizeUSD: asset.VPINBucketSizeUSD,
			MinBuckets:    asset.VPINMinBuckets,
			FlatThreshold: asset.VPINFlatThreshold,
			Window:        asset.VPINWindow,
		},
		OBILambda:             asset.OBILambda,
		OFIDepth:              asset.OFIDepth,
		BreachTolerancePct:    asset.BreachTolerancePct,
		GammaWallTolerancePct: asset.GammaWallTolerancePct,
		ZoneTolerancePct:      asset.ZoneTolerancePct,
		PendingRetentionMs:    asset.PendingRetentionMs,
		BufferWindow:          bufferWindow,
		CleanupInterval:       asset.CleanupInterval.Duration,
	}, nil
}
