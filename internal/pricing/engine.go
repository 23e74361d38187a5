package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rafflemarkets/internal/config"
	"rafflemarkets/internal/history"
	"rafflemarkets/internal/metrics"
	"rafflemarkets/internal/models"
	"rafflemarkets/internal/repository"
)

var ErrMarketNotFound = errors.New("market not found")

// Snapshot is the engine's unit of truth for one market: what subscribers
// receive and what GetCachedPricing returns.
type Snapshot struct {
	MarketID             uint64    `json:"market_id"`
	SeasonID             uint64    `json:"season_id"`
	RaffleProbabilityBps int       `json:"raffle_probability_bps"`
	MarketSentimentBps   int       `json:"market_sentiment_bps"`
	HybridPriceBps       int       `json:"hybrid_price_bps"`
	RaffleWeightBps      int       `json:"raffle_weight_bps"`
	MarketWeightBps      int       `json:"market_weight_bps"`
	LastUpdated          time.Time `json:"last_updated"`
}

// RaffleUpdate sets the on-chain win probability side of the blend.
type RaffleUpdate struct {
	ProbabilityBps int
}

// SentimentUpdate changes the trading side of the blend: either an absolute
// level or a delta against the current value. Absolute wins when both set.
type SentimentUpdate struct {
	AbsoluteBps *int
	DeltaBps    *int
}

type Subscriber func(Snapshot)

// Engine computes and caches the hybrid price per market and fans updates
// out to subscribers. Cache and registry are guarded by mu; persistence and
// emission happen outside the lock.
type Engine struct {
	Repo    repository.Repository
	History history.Store
	Logger  *zap.Logger
	Config  config.PricingConfig

	mu          sync.RWMutex
	cache       map[uint64]Snapshot
	subscribers map[uint64]map[uint64]Subscriber
	nextSubID   uint64
}

func (e *Engine) raffleWeight() int {
	if e.Config.RaffleWeightBps > 0 {
		return e.Config.RaffleWeightBps
	}
	return 7000
}

func (e *Engine) marketWeight() int {
	if e.Config.MarketWeightBps > 0 {
		return e.Config.MarketWeightBps
	}
	return 3000
}

// HybridPrice blends the raffle probability with market sentiment, rounding
// half-up to the nearest bps. Pure and deterministic.
func HybridPrice(raffleWeightBps, marketWeightBps, raffleBps, sentimentBps int) int {
	return (raffleWeightBps*raffleBps + marketWeightBps*sentimentBps + 5000) / 10000
}

func clampBps(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10000 {
		return 10000
	}
	return v
}

func validBps(v int) error {
	if v < 0 || v > 10000 {
		return fmt.Errorf("bps %d out of range", v)
	}
	return nil
}

// UpdateHybridPricing applies a raffle and/or sentiment change, recomputes
// the hybrid price, persists the snapshot, refreshes the cache and emits to
// that market's subscribers. Identical inputs produce identical snapshots.
func (e *Engine) UpdateHybridPricing(ctx context.Context, marketID uint64, raffle *RaffleUpdate, sentiment *SentimentUpdate) (*Snapshot, error) {
	snap, err := e.loadSnapshot(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if raffle != nil {
		if err := validBps(raffle.ProbabilityBps); err != nil {
			return nil, fmt.Errorf("raffle update: %w", err)
		}
		snap.RaffleProbabilityBps = raffle.ProbabilityBps
	}
	if sentiment != nil {
		switch {
		case sentiment.AbsoluteBps != nil:
			if err := validBps(*sentiment.AbsoluteBps); err != nil {
				return nil, fmt.Errorf("sentiment update: %w", err)
			}
			snap.MarketSentimentBps = *sentiment.AbsoluteBps
		case sentiment.DeltaBps != nil:
			snap.MarketSentimentBps = clampBps(snap.MarketSentimentBps + *sentiment.DeltaBps)
		}
	}
	snap.HybridPriceBps = HybridPrice(snap.RaffleWeightBps, snap.MarketWeightBps,
		snap.RaffleProbabilityBps, snap.MarketSentimentBps)
	snap.LastUpdated = time.Now().UTC()

	if err := e.commit(ctx, snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ApplyOraclePrice stores an oracle-computed blend verbatim instead of
// recomputing locally; persistence, cache, fan-out and history behave as in
// UpdateHybridPricing.
func (e *Engine) ApplyOraclePrice(ctx context.Context, marketID uint64, raffleBps, marketBps, hybridBps int, ts time.Time) (*Snapshot, error) {
	for _, v := range []int{raffleBps, marketBps, hybridBps} {
		if err := validBps(v); err != nil {
			return nil, fmt.Errorf("oracle price: %w", err)
		}
	}
	snap, err := e.loadSnapshot(ctx, marketID)
	if err != nil {
		return nil, err
	}
	snap.RaffleProbabilityBps = raffleBps
	snap.MarketSentimentBps = marketBps
	snap.HybridPriceBps = hybridBps
	if ts.IsZero() {
		ts = time.Now()
	}
	snap.LastUpdated = ts.UTC()

	if err := e.commit(ctx, snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetCachedPricing returns the last committed snapshot or nil. Never does I/O.
func (e *Engine) GetCachedPricing(marketID uint64) *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.cache[marketID]
	if !ok {
		return nil
	}
	out := snap
	return &out
}

// SubscribeToMarket registers a callback for one market's updates and
// returns its unsubscribe function. Unsubscribing is immediate.
func (e *Engine) SubscribeToMarket(marketID uint64, cb Subscriber) func() {
	e.mu.Lock()
	if e.subscribers == nil {
		e.subscribers = map[uint64]map[uint64]Subscriber{}
	}
	if e.subscribers[marketID] == nil {
		e.subscribers[marketID] = map[uint64]Subscriber{}
	}
	e.nextSubID++
	id := e.nextSubID
	e.subscribers[marketID][id] = cb
	e.mu.Unlock()
	metrics.PricingSubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			if subs := e.subscribers[marketID]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(e.subscribers, marketID)
				}
			}
			e.mu.Unlock()
			metrics.PricingSubscribers.Dec()
		})
	}
}

// Warm preloads active markets' snapshots into the cache without emitting,
// so restarts serve GetCachedPricing immediately.
func (e *Engine) Warm(ctx context.Context) error {
	if e.Repo == nil {
		return nil
	}
	limit := e.Config.WarmLimit
	if limit <= 0 {
		limit = 500
	}
	keys, err := e.Repo.ListActiveMarketKeys(ctx, limit)
	if err != nil {
		return fmt.Errorf("list active markets: %w", err)
	}
	warmed := 0
	for _, key := range keys {
		snap, err := e.loadSnapshot(ctx, key.ID)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("pricing warm skipped market",
					zap.Uint64("market_id", key.ID), zap.Error(err))
			}
			continue
		}
		e.mu.Lock()
		if e.cache == nil {
			e.cache = map[uint64]Snapshot{}
		}
		e.cache[key.ID] = snap
		e.mu.Unlock()
		warmed++
	}
	if e.Logger != nil {
		e.Logger.Info("pricing cache warmed", zap.Int("markets", warmed))
	}
	return nil
}

// loadSnapshot resolves the working snapshot: cache, then persisted row,
// then lazy initialization from the market's registry probability.
func (e *Engine) loadSnapshot(ctx context.Context, marketID uint64) (Snapshot, error) {
	e.mu.RLock()
	snap, ok := e.cache[marketID]
	e.mu.RUnlock()
	if ok {
		return snap, nil
	}

	market, err := e.Repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load market %d: %w", marketID, err)
	}
	if market == nil {
		return Snapshot{}, ErrMarketNotFound
	}

	snap = Snapshot{
		MarketID:             marketID,
		SeasonID:             market.SeasonID,
		RaffleProbabilityBps: market.RaffleProbabilityBps,
		MarketSentimentBps:   market.MarketSentimentBps,
		HybridPriceBps:       market.HybridPriceBps,
		RaffleWeightBps:      e.raffleWeight(),
		MarketWeightBps:      e.marketWeight(),
	}
	row, err := e.Repo.GetPricingSnapshot(ctx, marketID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %d: %w", marketID, err)
	}
	if row != nil {
		snap.RaffleProbabilityBps = row.RaffleProbabilityBps
		snap.MarketSentimentBps = row.MarketSentimentBps
		snap.HybridPriceBps = row.HybridPriceBps
		if row.RaffleWeightBps > 0 {
			snap.RaffleWeightBps = row.RaffleWeightBps
		}
		if row.MarketWeightBps > 0 {
			snap.MarketWeightBps = row.MarketWeightBps
		}
		snap.LastUpdated = row.LastUpdated
	}
	return snap, nil
}

// commit persists, caches and emits a finished snapshot, then appends it to
// history best-effort.
func (e *Engine) commit(ctx context.Context, snap Snapshot) error {
	if err := e.Repo.SavePricingSnapshot(ctx, &models.PricingSnapshot{
		MarketID:             snap.MarketID,
		RaffleProbabilityBps: snap.RaffleProbabilityBps,
		MarketSentimentBps:   snap.MarketSentimentBps,
		HybridPriceBps:       snap.HybridPriceBps,
		RaffleWeightBps:      snap.RaffleWeightBps,
		MarketWeightBps:      snap.MarketWeightBps,
		LastUpdated:          snap.LastUpdated,
	}); err != nil {
		return fmt.Errorf("persist snapshot %d: %w", snap.MarketID, err)
	}
	// Mirror onto the registry row so market listings stay current; a miss
	// here only stales the listing, not the price.
	if err := e.Repo.UpdateMarketPricing(ctx, snap.MarketID,
		snap.RaffleProbabilityBps, snap.MarketSentimentBps, snap.HybridPriceBps); err != nil && e.Logger != nil {
		e.Logger.Warn("market pricing mirror failed",
			zap.Uint64("market_id", snap.MarketID), zap.Error(err))
	}

	e.mu.Lock()
	if e.cache == nil {
		e.cache = map[uint64]Snapshot{}
	}
	e.cache[snap.MarketID] = snap
	subs := make([]Subscriber, 0, len(e.subscribers[snap.MarketID]))
	for _, cb := range e.subscribers[snap.MarketID] {
		subs = append(subs, cb)
	}
	e.mu.Unlock()

	metrics.PricingUpdates.Inc()
	e.emit(snap, subs)
	e.appendHistory(ctx, snap)
	return nil
}

func (e *Engine) emit(snap Snapshot, subs []Subscriber) {
	for _, cb := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil && e.Logger != nil {
					e.Logger.Error("pricing subscriber panicked",
						zap.Uint64("market_id", snap.MarketID),
						zap.Any("panic", r),
					)
				}
			}()
			cb(snap)
		}()
	}
}

func (e *Engine) appendHistory(ctx context.Context, snap Snapshot) {
	if e.History == nil {
		return
	}
	err := e.History.RecordOddsUpdate(ctx, snap.SeasonID, snap.MarketID, history.Point{
		Timestamp:            snap.LastUpdated,
		YesBps:               snap.HybridPriceBps,
		NoBps:                10000 - snap.HybridPriceBps,
		HybridPriceBps:       snap.HybridPriceBps,
		RaffleProbabilityBps: snap.RaffleProbabilityBps,
		MarketSentimentBps:   snap.MarketSentimentBps,
	})
	if err != nil {
		metrics.HistoryAppendFailures.Inc()
		if e.Logger != nil {
			e.Logger.Warn("history append failed",
				zap.Uint64("market_id", snap.MarketID), zap.Error(err))
		}
	}
}
