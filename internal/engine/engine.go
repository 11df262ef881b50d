// Package engine runs the per-symbol ingestion loop: one goroutine owns
// the order book and drives the whole detection pipeline over the merged
// trade and diff streams.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/icewatch/internal/book"
	"github.com/alanyoungcy/icewatch/internal/detect"
	"github.com/alanyoungcy/icewatch/internal/domain"
	"github.com/alanyoungcy/icewatch/internal/emit"
	"github.com/alanyoungcy/icewatch/internal/flow"
)

// MarketData is the upstream feed contract: one REST snapshot fetch and
// two long-lived streams. Stream implementations reconnect internally; the
// engine detects the resulting sequence gap and resyncs.
type MarketData interface {
	Snapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error)
	StreamDepth(ctx context.Context, symbol string) (<-chan domain.DepthUpdate, error)
	StreamTrades(ctx context.Context, symbol string) (<-chan domain.Trade, error)
}

// Params bundles the per-symbol tuning, parsed from the asset config.
type Params struct {
	Detector detect.DetectorConfig
	Registry detect.RegistryConfig
	Cohort   flow.CohortConfig
	Algo     flow.AlgoConfig
	Toxicity flow.ToxicityConfig

	OBILambda             float64
	OFIDepth              int
	BreachTolerancePct    float64
	GammaWallTolerancePct float64
	ZoneTolerancePct      float64

	PendingRetentionMs int64
	BufferWindow       time.Duration
	CleanupInterval    time.Duration
}

// Engine is the symbol-owning task. Nothing outside its goroutine mutates
// the book, the registry, or any analyzer.
type Engine struct {
	symbol string
	params Params

	md          MarketData
	emitter     *emit.Emitter
	derivatives domain.DerivativesProvider

	// Optional persistence; nil stores are skipped. Writes never block the
	// loop: they run on short-lived goroutines.
	levelStore   domain.LevelStore
	featureStore domain.FeatureStore

	book     *book.OrderBook
	sync     *book.Synchronizer
	pending  *book.PendingRefillQueue
	detector *detect.Detector
	adjuster *detect.Adjuster
	registry *detect.Registry
	cohort   *flow.CohortAnalyzer
	algo     *flow.AlgoWindow
	toxicity *flow.FlowToxicityAnalyzer
	features *flow.FeatureCollector
	diverge  *flow.DivergenceTracker

	// midHistory tracks recent mid prices in exchange time for the drift
	// input of the confidence adjuster.
	midHistory []midPoint

	logger *slog.Logger
}

type midPoint struct {
	timeMs int64
	mid    float64
}

// Options carries the optional collaborators.
type Options struct {
	Derivatives  domain.DerivativesProvider
	LevelStore   domain.LevelStore
	FeatureStore domain.FeatureStore
}

// New wires an engine for one symbol. The cohort config is validated here;
// a bad threshold pair fails construction.
func New(symbol string, params Params, md MarketData, emitter *emit.Emitter, opts Options, logger *slog.Logger) (*Engine, error) {
	cohort, err := flow.NewCohortAnalyzer(params.Cohort)
	if err != nil {
		return nil, err
	}

	if params.CleanupInterval <= 0 {
		params.CleanupInterval = 5 * time.Minute
	}
	if params.BufferWindow <= 0 {
		params.BufferWindow = 2 * time.Second
	}

	derivatives := opts.Derivatives
	if derivatives == nil {
		derivatives = domain.NopDerivatives{}
	}

	log := logger.With(slog.String("component", "engine"), slog.String("symbol", symbol))

	b := book.New(symbol, params.OFIDepth)
	registry := detect.NewRegistry(params.Registry, log)
	toxicity := flow.NewFlowToxicityAnalyzer(params.Toxicity)

	e := &Engine{
		symbol:       symbol,
		params:       params,
		md:           md,
		emitter:      emitter,
		derivatives:  derivatives,
		levelStore:   opts.LevelStore,
		featureStore: opts.FeatureStore,
		book:         b,
		sync:         book.NewSynchronizer(b, log),
		pending:      book.NewPendingRefillQueue(params.PendingRetentionMs),
		detector:     detect.NewDetector(params.Detector),
		adjuster:     detect.NewAdjuster(params.GammaWallTolerancePct),
		registry:     registry,
		cohort:       cohort,
		algo:         flow.NewAlgoWindow(params.Algo),
		toxicity:     toxicity,
		diverge:      flow.NewDivergenceTracker(60, time.Minute),
		logger:       log,
	}
	e.features = flow.NewFeatureCollector(b, cohort, toxicity, registry, derivatives, params.OBILambda)
	return e, nil
}

// Run drives the loop until ctx is cancelled. A panic in the pipeline
// terminates this symbol only; the caller isolates siblings.
func (e *Engine) Run(ctx context.Context) error {
	trades, err := e.md.StreamTrades(ctx, e.symbol)
	if err != nil {
		return err
	}
	depths, err := e.md.StreamDepth(ctx, e.symbol)
	if err != nil {
		return err
	}

	if err := e.resync(ctx, depths); err != nil {
		return err
	}

	cleanup := time.NewTicker(e.params.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t, ok := <-trades:
			if !ok {
				return domain.ErrWSDisconnect
			}
			e.handleTrade(t)

		case u, ok := <-depths:
			if !ok {
				return domain.ErrWSDisconnect
			}
			if err := e.handleDepth(u); err != nil {
				e.logger.Warn("book out of sync, resyncing", slog.String("reason", err.Error()))
				if err := e.resync(ctx, depths); err != nil {
					return err
				}
			}

		case <-cleanup.C:
			e.runCleanup(time.Now())
		}
	}
}

// resync performs the snapshot-to-stream procedure: buffer diffs, fetch
// the snapshot, replay, reconcile ghost icebergs. Retries with exponential
// backoff until it succeeds or the context ends.
func (e *Engine) resync(ctx context.Context, depths <-chan domain.DepthUpdate) error {
	e.sync.Reset()
	e.pending.Clear()

	backoff := time.Second
	for {
		if err := e.bufferDiffs(ctx, depths); err != nil {
			return err
		}

		snap, err := e.md.Snapshot(ctx, e.symbol)
		if err == nil {
			err = e.sync.Initialize(snap)
		}
		if err == nil {
			now := time.Now()
			for _, tr := range e.registry.ReconcileWithBook(marketView{e}, now) {
				e.emitTerminal(tr, now.UnixMilli())
			}
			return nil
		}

		e.logger.Warn("resync attempt failed", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

// bufferDiffs collects diffs for the buffer window so the snapshot can be
// stitched to the stream.
func (e *Engine) bufferDiffs(ctx context.Context, depths <-chan domain.DepthUpdate) error {
	timer := time.NewTimer(e.params.BufferWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-depths:
			if !ok {
				return domain.ErrWSDisconnect
			}
			e.sync.Buffer(u)
		case <-timer.C:
			return nil
		}
	}
}

// handleDepth applies one diff and, when it mutated the book, scans the
// pending queue for refills confirmed by this diff.
func (e *Engine) handleDepth(u domain.DepthUpdate) error {
	applied, err := e.sync.Apply(u)
	if err != nil {
		// Gap or crossed book: both drop state and force a resync.
		return err
	}
	if !applied {
		return nil
	}

	e.pending.Scan(func(c book.PendingRefillCheck) bool {
		deltaT := u.EventTimeMs - c.TradeTimeMs
		if deltaT < -e.params.Detector.RaceToleranceMs {
			// This diff predates the trade beyond the reorder window; it
			// cannot confirm the candidate, but a later diff still may.
			return false
		}
		if deltaT > e.params.PendingRetentionMs {
			return true
		}

		current := e.book.VolumeAt(c.Price, domain.SideFromAsk(c.IsAsk))
		if current.Cmp(c.VisibleBefore) < 0 {
			// Not restored yet; keep waiting within the horizon. Slightly
			// early diffs (within the race tolerance) evaluate like any
			// other: the detector owns the temporal filters.
			return false
		}

		if det, ok := e.detector.Evaluate(c.Trade, c.VisibleBefore, deltaT); ok {
			e.recordDetection(det, u.EventTimeMs)
		}
		return true
	})

	return nil
}

// recordDetection adjusts confidence by flow and gamma context, upserts
// the registry, and emits the detected/refilled event.
func (e *Engine) recordDetection(det detect.Detection, updateTimeMs int64) {
	rc := detect.RefillContext{}
	if vpin, ok := e.toxicity.CurrentVPIN(); ok {
		rc.VPIN = &vpin
	}
	mix := e.cohort.Mix()
	rc.WhalePct = mix.WhalePct
	rc.MinnowPct = mix.MinnowPct
	rc.PriceDriftBps, rc.DriftOpposes = e.priceDrift(det.IsAsk, updateTimeMs)

	confidence := e.adjuster.Adjust(det.Confidence, rc)

	var gamma *domain.GammaProfile
	if d := e.derivatives.Snapshot(); d.Gamma != nil {
		gamma = d.Gamma
	}
	confidence, onWall := e.adjuster.AdjustByGamma(confidence, gamma, det.Price.InexactFloat64())

	now := time.UnixMilli(updateTimeMs)
	lvl, created := e.registry.Upsert(det, confidence, onWall, now)

	kind := domain.EventIcebergRefilled
	if created {
		kind = domain.EventIcebergDetected
	}
	e.emitter.Emit(domain.Event{
		Symbol:      e.symbol,
		Kind:        kind,
		EventTimeMs: updateTimeMs,
		Iceberg: &domain.IcebergEvent{
			Price:         det.Price,
			Side:          domain.SideFromAsk(det.IsAsk),
			HiddenVolume:  det.HiddenVolume,
			VisibleBefore: det.VisibleBefore,
			Confidence:    confidence,
			RefillCount:   lvl.RefillCount,
			DeltaTMs:      det.DeltaTMs,
		},
	})

	e.persistLevel(*lvl)
	if snap, ok := e.features.Capture(now, lvl); ok {
		e.persistFeatures(snap)
	}
}

// handleTrade updates breaches, cohorts, toxicity, the algo window, and
// enqueues the refill candidate for post-trade confirmation.
func (e *Engine) handleTrade(t domain.Trade) {
	now := time.UnixMilli(t.EventTimeMs)

	for _, tr := range e.registry.CheckBreaches(t.Price, e.params.BreachTolerancePct, now) {
		e.emitTerminal(tr, t.EventTimeMs)
	}

	cohort, volumeUSD := e.cohort.Observe(t)
	e.toxicity.Observe(volumeUSD, t.IsBuyerMaker)

	side := domain.SideBid
	if t.IsBuyerMaker {
		side = domain.SideAsk
	}

	if cohort == domain.CohortWhale {
		e.emitter.Emit(domain.Event{
			Symbol:      e.symbol,
			Kind:        domain.EventWhaleTrade,
			EventTimeMs: t.EventTimeMs,
			Whale: &domain.WhaleEvent{
				Price:       t.Price,
				Quantity:    t.Quantity,
				QuoteVolume: volumeUSD,
				Side:        side,
			},
		})
	}

	// Execution algos shred parents into minnow-sized children; only those
	// feed the classification window.
	if cohort == domain.CohortMinnow {
		if det := e.algo.Observe(t.EventTimeMs, t.IsBuyerMaker, volumeUSD); det != nil {
			e.emitter.Emit(domain.Event{
				Symbol:      e.symbol,
				Kind:        domain.EventAlgoDetected,
				EventTimeMs: t.EventTimeMs,
				Algo: &domain.AlgoEvent{
					Side:       det.Side,
					Kind:       det.Kind,
					Confidence: det.Confidence,
					WindowSize: det.WindowSize,
				},
			})
		}
	}

	if mid, ok := e.book.MidPrice(); ok {
		m := mid.InexactFloat64()
		e.recordMid(t.EventTimeMs, m)
		e.diverge.Sample(now, m, e.cohort.CVD(domain.CohortWhale))
		if kind, conf, ok := e.diverge.Detect(); ok {
			e.logger.Debug("cvd divergence",
				slog.String("kind", string(kind)),
				slog.Float64("confidence", conf),
			)
		}
	}

	e.pending.GC(t.EventTimeMs)

	if !e.sync.Synced() {
		return
	}
	// A trade smaller than the minimum hidden volume can never clear the
	// hidden-quantity filter; skip the queue entirely.
	if t.Quantity.Cmp(e.params.Detector.MinHiddenVolume) < 0 {
		return
	}

	aggressed := domain.SideBid
	if !t.IsBuyerMaker {
		aggressed = domain.SideAsk
	}
	visible := e.book.VolumeAt(t.Price, aggressed)
	e.pending.Add(t, visible)
}

// runCleanup sweeps the registry and emits terminal transitions.
func (e *Engine) runCleanup(now time.Time) {
	transitions := e.registry.Cleanup(now, marketView{e})
	for _, tr := range transitions {
		e.emitTerminal(tr, now.UnixMilli())
	}
}

// marketView adapts the book plus the engine's mid-price history to the
// registry's MarketView, so cancellation contexts carry real velocity and
// approach-direction data.
type marketView struct {
	e *Engine
}

func (v marketView) MidPrice() (decimal.Decimal, bool) {
	return v.e.book.MidPrice()
}

func (v marketView) HasLevel(price decimal.Decimal, side domain.Side) bool {
	return v.e.book.HasLevel(price, side)
}

func (v marketView) PriceVelocity5s() (decimal.Decimal, bool) {
	const velocityWindowMs = 5000

	h := v.e.midHistory
	if len(h) < 2 {
		return decimal.Decimal{}, false
	}
	latest := h[len(h)-1]
	for _, p := range h {
		if p.timeMs >= latest.timeMs-velocityWindowMs {
			if p.timeMs == latest.timeMs {
				break
			}
			return decimal.NewFromFloat(latest.mid - p.mid), true
		}
	}
	return decimal.Decimal{}, false
}

func (e *Engine) emitTerminal(tr detect.Transition, eventTimeMs int64) {
	lvl := tr.Level
	var kind domain.EventKind
	switch tr.To {
	case domain.IcebergBreached:
		kind = domain.EventIcebergBreached
	case domain.IcebergExhausted:
		kind = domain.EventIcebergExhausted
	case domain.IcebergCancelled:
		kind = domain.EventIcebergCancelled
	default:
		return
	}

	e.emitter.Emit(domain.Event{
		Symbol:      e.symbol,
		Kind:        kind,
		EventTimeMs: eventTimeMs,
		Terminal: &domain.TerminalEvent{
			Price:               lvl.Price,
			Side:                domain.SideFromAsk(lvl.IsAsk),
			SurvivalSeconds:     lvl.SurvivalSeconds(time.UnixMilli(eventTimeMs)),
			TotalVolumeAbsorbed: lvl.TotalHiddenVolume,
			RefillCount:         lvl.RefillCount,
			SpoofingProbability: lvl.SpoofingProbability,
			Cancellation:        lvl.CancellationContext,
		},
	})
	e.persistLevel(lvl)
}

// priceDrift returns the magnitude (bps) of the recent mid drift and
// whether it moves into the iceberg's wall: up into an ask wall, down into
// a bid wall.
func (e *Engine) priceDrift(isAsk bool, nowMs int64) (float64, bool) {
	const driftWindowMs = 5000

	if len(e.midHistory) == 0 {
		return 0, false
	}
	latest := e.midHistory[len(e.midHistory)-1]
	var oldest midPoint
	found := false
	for _, p := range e.midHistory {
		if p.timeMs >= nowMs-driftWindowMs {
			oldest = p
			found = true
			break
		}
	}
	if !found || oldest.mid == 0 {
		return 0, false
	}

	driftBps := (latest.mid - oldest.mid) / oldest.mid * 10_000
	opposes := (isAsk && driftBps > 0) || (!isAsk && driftBps < 0)
	if driftBps < 0 {
		driftBps = -driftBps
	}
	return driftBps, opposes
}

func (e *Engine) recordMid(timeMs int64, mid float64) {
	e.midHistory = append(e.midHistory, midPoint{timeMs: timeMs, mid: mid})
	cutoff := timeMs - 10_000
	i := 0
	for i < len(e.midHistory) && e.midHistory[i].timeMs < cutoff {
		i++
	}
	if i > 0 {
		e.midHistory = append(e.midHistory[:0], e.midHistory[i:]...)
	}
}

// persistLevel writes the level without blocking the loop.
func (e *Engine) persistLevel(lvl domain.IcebergLevel) {
	if e.levelStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.levelStore.Upsert(ctx, e.symbol, lvl); err != nil {
			e.logger.Warn("level persist failed",
				slog.String("price", lvl.Price.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// persistFeatures writes the snapshot without blocking the loop.
func (e *Engine) persistFeatures(snap domain.FeatureSnapshot) {
	if e.featureStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.featureStore.Insert(ctx, e.symbol, snap); err != nil {
			e.logger.Warn("feature persist failed", slog.String("error", err.Error()))
		}
	}()
}

// Zones exposes the current iceberg zones for observability.
func (e *Engine) Zones() []domain.PriceZone {
	return e.registry.Zones(e.params.ZoneTolerancePct)
}
