package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rafflemarkets/internal/alert"
	"rafflemarkets/internal/chain"
	"rafflemarkets/internal/config"
	"rafflemarkets/internal/metrics"
	"rafflemarkets/internal/models"
	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/repository"
	"rafflemarkets/internal/service"
	"rafflemarkets/internal/watcher"
)

// Creator is the on-chain side of market creation. *chain.Client implements
// it; a nil Creator runs the registry in off-chain mode.
type Creator interface {
	CreateMarket(ctx context.Context, seasonID uint64, player string, marketType string, probabilityBps int) (*chain.CreationResult, error)
}

// Switches gates optional behavior on persisted feature flags.
type Switches interface {
	IsEnabled(ctx context.Context, key string, def bool) bool
}

// Reconciler turns watcher facts into registry state. It owns the threshold
// rule, creation dedupe and the retry/backoff policy around the factory call.
type Reconciler struct {
	Repo     repository.Repository
	Creator  Creator
	Engine   *pricing.Engine
	Switches Switches
	Alerter  *alert.Notifier
	Logger   *zap.Logger
	Config   config.ReconcilerConfig

	mu       sync.Mutex
	markers  map[string]time.Time
	inflight map[string]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup

	// sleep overrides the backoff wait in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (r *Reconciler) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

var _ watcher.Handler = (*Reconciler)(nil)

// ProbabilityBps is the threshold rule's probability: floor of the ticket
// share in basis points.
func ProbabilityBps(tickets, totalTickets uint64) int {
	if totalTickets == 0 {
		return 0
	}
	return int(tickets * 10000 / totalTickets)
}

func crossedThreshold(oldBps, newBps, thresholdBps int) bool {
	return oldBps < thresholdBps && newBps >= thresholdBps
}

func (r *Reconciler) threshold() int {
	if r.Config.ThresholdBps > 0 {
		return r.Config.ThresholdBps
	}
	return 100
}

func (r *Reconciler) dedupeWindow() time.Duration {
	if r.Config.DedupeWindow > 0 {
		return r.Config.DedupeWindow
	}
	return 60 * time.Second
}

func (r *Reconciler) maxAttempts() int {
	if r.Config.MaxAttempts > 0 {
		return r.Config.MaxAttempts
	}
	return 5
}

func (r *Reconciler) sentimentCap() int {
	if r.Config.SentimentCapBps > 0 {
		return r.Config.SentimentCapBps
	}
	return 100
}

func (r *Reconciler) autoCreateEnabled(ctx context.Context) bool {
	if r.Switches == nil {
		return true
	}
	return r.Switches.IsEnabled(ctx, service.SwitchAutoCreate, true)
}

// HandlePositionUpdate applies the threshold rule. Existing markets get a
// probability refresh; a fresh crossing queues creation without blocking the
// poll loop.
func (r *Reconciler) HandlePositionUpdate(ctx context.Context, fact watcher.PositionUpdate) error {
	player, err := r.Repo.GetOrCreatePlayer(ctx, fact.Player)
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	if player == nil {
		return fmt.Errorf("player %q not resolvable", fact.Player)
	}

	oldBps := ProbabilityBps(fact.OldTickets, fact.TotalTickets)
	newBps := ProbabilityBps(fact.NewTickets, fact.TotalTickets)

	market, err := r.Repo.GetMarketByKey(ctx, fact.SeasonID, player.ID, models.MarketTypeWinnerPrediction)
	if err != nil {
		return fmt.Errorf("market lookup: %w", err)
	}
	if market != nil {
		if err := r.Repo.UpdateMarketProbability(ctx, market.ID, newBps); err != nil {
			return fmt.Errorf("probability update: %w", err)
		}
		r.forwardRaffle(ctx, market.ID, newBps)
		return nil
	}

	if crossedThreshold(oldBps, newBps, r.threshold()) && r.autoCreateEnabled(ctx) {
		r.queueCreation(ctx, fact.SeasonID, fact.Player, player.ID, newBps)
	}
	return nil
}

// HandleMarketCreated is the discovery path: an on-chain creation event
// produces (or completes) the same registry row the threshold path would.
func (r *Reconciler) HandleMarketCreated(ctx context.Context, fact watcher.MarketCreated) error {
	player, err := r.Repo.GetOrCreatePlayer(ctx, fact.Player)
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	if player == nil {
		return fmt.Errorf("player %q not resolvable", fact.Player)
	}

	market, err := r.Repo.GetMarketByKey(ctx, fact.SeasonID, player.ID, fact.MarketType)
	if err != nil {
		return fmt.Errorf("market lookup: %w", err)
	}
	if market == nil {
		market, err = r.insertMarket(ctx, fact.SeasonID, player.ID, fact.MarketType,
			fact.ProbabilityBps, fact.ConditionID, fact.MarketAddress)
		if err != nil {
			return err
		}
		metrics.RecordCreation("discovered")
	} else if err := r.Repo.UpdateMarketChainRefs(ctx, market.ID, fact.ConditionID, fact.MarketAddress); err != nil {
		return fmt.Errorf("chain refs: %w", err)
	}
	r.forwardRaffle(ctx, market.ID, fact.ProbabilityBps)
	if r.Logger != nil {
		r.Logger.Info("market discovered on chain",
			zap.Uint64("market_id", market.ID),
			zap.Uint64("season_id", fact.SeasonID),
			zap.String("player", fact.Player),
			zap.String("market_type", fact.MarketType),
			zap.String("market_address", fact.MarketAddress),
		)
	}
	return nil
}

// HandleProbabilityUpdated refreshes an existing market's raffle side. No
// market means the player is below threshold, which is not an error.
func (r *Reconciler) HandleProbabilityUpdated(ctx context.Context, fact watcher.ProbabilityUpdated) error {
	player, err := r.Repo.GetOrCreatePlayer(ctx, fact.Player)
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	if player == nil {
		return fmt.Errorf("player %q not resolvable", fact.Player)
	}
	market, err := r.Repo.GetMarketByKey(ctx, fact.SeasonID, player.ID, models.MarketTypeWinnerPrediction)
	if err != nil {
		return fmt.Errorf("market lookup: %w", err)
	}
	if market == nil {
		if r.Logger != nil {
			r.Logger.Debug("probability update below threshold",
				zap.Uint64("season_id", fact.SeasonID),
				zap.String("player", fact.Player),
				zap.Int("probability_bps", fact.NewProbabilityBps),
			)
		}
		return nil
	}
	if err := r.Repo.UpdateMarketProbability(ctx, market.ID, fact.NewProbabilityBps); err != nil {
		return fmt.Errorf("probability update: %w", err)
	}
	r.forwardRaffle(ctx, market.ID, fact.NewProbabilityBps)
	return nil
}

// HandleTrade maps an AMM fill to a sentiment delta: one bps per collateral
// token, clamped to [1, cap], signed by trade direction. Fills from pools we
// don't know are ignored.
func (r *Reconciler) HandleTrade(ctx context.Context, fact watcher.Trade) error {
	market, err := r.Repo.GetMarketByAddress(ctx, fact.MarketAddress)
	if err != nil {
		return fmt.Errorf("market lookup: %w", err)
	}
	if market == nil {
		if r.Logger != nil {
			r.Logger.Debug("trade from unknown pool",
				zap.String("address", fact.MarketAddress))
		}
		return nil
	}
	if _, err := r.Repo.GetOrCreatePlayer(ctx, fact.Trader); err != nil {
		return fmt.Errorf("upsert trader: %w", err)
	}

	delta := int(fact.CollateralAmount.Round(0).IntPart())
	if delta < 1 {
		delta = 1
	}
	if limit := r.sentimentCap(); delta > limit {
		delta = limit
	}
	if !fact.IsLong {
		delta = -delta
	}
	if r.Engine == nil {
		return nil
	}
	if _, err := r.Engine.UpdateHybridPricing(ctx, market.ID, nil,
		&pricing.SentimentUpdate{DeltaBps: &delta}); err != nil {
		return fmt.Errorf("sentiment update: %w", err)
	}
	return nil
}

// HandlePriceUpdated hands an oracle blend to the engine's verbatim path.
func (r *Reconciler) HandlePriceUpdated(ctx context.Context, fact watcher.PriceUpdated) error {
	if r.Engine == nil {
		return nil
	}
	_, err := r.Engine.ApplyOraclePrice(ctx, fact.MarketID,
		fact.RaffleBps, fact.MarketBps, fact.HybridBps, fact.Timestamp)
	if errors.Is(err, pricing.ErrMarketNotFound) {
		if r.Logger != nil {
			r.Logger.Warn("oracle price for unknown market",
				zap.Uint64("market_id", fact.MarketID))
		}
		return nil
	}
	return err
}

func (r *Reconciler) forwardRaffle(ctx context.Context, marketID uint64, probabilityBps int) {
	if r.Engine == nil {
		return
	}
	if _, err := r.Engine.UpdateHybridPricing(ctx, marketID,
		&pricing.RaffleUpdate{ProbabilityBps: probabilityBps}, nil); err != nil && r.Logger != nil {
		r.Logger.Warn("pricing forward failed",
			zap.Uint64("market_id", marketID), zap.Error(err))
	}
}

func markerKey(seasonID uint64, player string) string {
	return fmt.Sprintf("%d:%s", seasonID, player)
}

// queueCreation spawns the creation goroutine unless the dedupe marker or an
// in-flight attempt already covers this (season, player).
func (r *Reconciler) queueCreation(ctx context.Context, seasonID uint64, player string, playerID uint64, probabilityBps int) {
	key := markerKey(seasonID, player)

	r.mu.Lock()
	if r.markers == nil {
		r.markers = map[string]time.Time{}
	}
	if r.inflight == nil {
		r.inflight = map[string]struct{}{}
	}
	if stamped, ok := r.markers[key]; ok && time.Since(stamped) < r.dedupeWindow() {
		r.mu.Unlock()
		metrics.RecordCreation("deduped")
		return
	}
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		metrics.RecordCreation("deduped")
		return
	}
	r.markers[key] = time.Now()
	r.inflight[key] = struct{}{}
	if r.sem == nil {
		size := r.Config.CreationQueueSize
		if size <= 0 {
			size = 64
		}
		r.sem = make(chan struct{}, size)
	}
	sem := r.sem
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
		}()
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			r.recordExhaustion(ctx, seasonID, player, probabilityBps, 0, ctx.Err())
			return
		}
		r.create(ctx, seasonID, player, playerID, probabilityBps)
	}()
}

// Wait blocks until in-flight creation goroutines finish. Shutdown helper.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// create runs the bounded retry loop around the factory call and persists
// the outcome. Runs on its own goroutine per (season, player).
func (r *Reconciler) create(ctx context.Context, seasonID uint64, player string, playerID uint64, probabilityBps int) {
	// Authoritative gate: the registry row is the source of truth, the
	// marker only absorbs duplicate deliveries.
	existing, err := r.Repo.GetMarketByKey(ctx, seasonID, playerID, models.MarketTypeWinnerPrediction)
	if err != nil {
		r.recordExhaustion(ctx, seasonID, player, probabilityBps, 0, err)
		return
	}
	if existing != nil {
		metrics.RecordCreation("exists")
		return
	}

	if r.Creator == nil {
		if _, err := r.insertMarket(ctx, seasonID, playerID, models.MarketTypeWinnerPrediction,
			probabilityBps, "", ""); err != nil {
			r.recordExhaustion(ctx, seasonID, player, probabilityBps, 0, err)
			return
		}
		metrics.RecordCreation("created")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts(); attempt++ {
		if ctx.Err() != nil {
			r.recordExhaustion(ctx, seasonID, player, probabilityBps, attempt-1, ctx.Err())
			return
		}
		result, err := r.Creator.CreateMarket(ctx, seasonID, player, models.MarketTypeWinnerPrediction, probabilityBps)
		if err == nil {
			r.finishCreation(ctx, seasonID, player, playerID, probabilityBps, result)
			return
		}
		switch {
		case errors.Is(err, chain.ErrMarketExists):
			r.finishCreation(ctx, seasonID, player, playerID, probabilityBps, nil)
			return
		case errors.Is(err, chain.ErrUnauthorized):
			if r.Logger != nil {
				r.Logger.Error("market creation unauthorized, not retrying",
					zap.Uint64("season_id", seasonID),
					zap.String("player", player),
					zap.Error(err),
				)
			}
			r.Alerter.Notify("Market creation unauthorized (season %d, player %s): %v", seasonID, player, err)
			metrics.RecordCreation("unauthorized")
			return
		case errors.Is(err, chain.ErrGasTooHigh):
			if r.Logger != nil {
				r.Logger.Warn("gas above ceiling, waiting",
					zap.Uint64("season_id", seasonID),
					zap.String("player", player),
					zap.Int("attempt", attempt),
				)
			}
		default:
			if r.Logger != nil {
				r.Logger.Warn("market creation attempt failed",
					zap.Uint64("season_id", seasonID),
					zap.String("player", player),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
			}
		}
		lastErr = err
		if err := r.wait(ctx, Backoff(attempt)); err != nil {
			r.recordExhaustion(ctx, seasonID, player, probabilityBps, attempt, lastErr)
			return
		}
	}
	r.recordExhaustion(ctx, seasonID, player, probabilityBps, r.maxAttempts(), lastErr)
}

func (r *Reconciler) finishCreation(ctx context.Context, seasonID uint64, player string, playerID uint64, probabilityBps int, result *chain.CreationResult) {
	conditionID, marketAddress := "", ""
	if result != nil {
		conditionID = result.ConditionID
		marketAddress = result.MarketAddress
	}
	market, err := r.insertMarket(ctx, seasonID, playerID, models.MarketTypeWinnerPrediction,
		probabilityBps, conditionID, marketAddress)
	if err != nil {
		r.recordExhaustion(ctx, seasonID, player, probabilityBps, 0, err)
		return
	}
	metrics.RecordCreation("created")
	if r.Logger != nil {
		fields := []zap.Field{
			zap.Uint64("market_id", market.ID),
			zap.Uint64("season_id", seasonID),
			zap.String("player", player),
			zap.Int("probability_bps", probabilityBps),
		}
		if result != nil {
			fields = append(fields,
				zap.String("tx_hash", result.TxHash),
				zap.Uint64("gas_used", result.GasUsed),
			)
		}
		r.Logger.Info("market created", fields...)
	}
}

// insertMarket writes the registry row and initializes its pricing snapshot.
// A uniqueness conflict means the other creation path won the race; the
// existing row is returned as success.
func (r *Reconciler) insertMarket(ctx context.Context, seasonID, playerID uint64, marketType string, probabilityBps int, conditionID, marketAddress string) (*models.Market, error) {
	item := &models.Market{
		SeasonID:             seasonID,
		PlayerID:             playerID,
		MarketType:           marketType,
		RaffleProbabilityBps: probabilityBps,
		MarketSentimentBps:   5000,
		HybridPriceBps:       pricing.HybridPrice(7000, 3000, probabilityBps, 5000),
		IsActive:             true,
	}
	if conditionID != "" {
		item.ConditionID = &conditionID
	}
	if marketAddress != "" {
		item.MarketAddress = &marketAddress
	}
	if err := r.Repo.CreateMarket(ctx, item); err != nil {
		existing, lookupErr := r.Repo.GetMarketByKey(ctx, seasonID, playerID, marketType)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert market: %w", err)
	}
	if r.Engine != nil {
		if _, err := r.Engine.UpdateHybridPricing(ctx, item.ID,
			&pricing.RaffleUpdate{ProbabilityBps: probabilityBps}, nil); err != nil && r.Logger != nil {
			r.Logger.Warn("snapshot init failed",
				zap.Uint64("market_id", item.ID), zap.Error(err))
		}
	}
	return item, nil
}

func (r *Reconciler) recordExhaustion(ctx context.Context, seasonID uint64, player string, probabilityBps, attempts int, lastErr error) {
	msg := "unknown"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	if r.Logger != nil {
		r.Logger.Error("market creation exhausted retries",
			zap.Uint64("season_id", seasonID),
			zap.String("player", player),
			zap.Int("attempts", attempts),
			zap.String("last_error", msg),
		)
	}
	failure := &models.CreationFailure{
		SeasonID:       seasonID,
		PlayerAddress:  player,
		MarketType:     models.MarketTypeWinnerPrediction,
		ProbabilityBps: probabilityBps,
		Attempts:       attempts,
		LastError:      msg,
	}
	// The failure row must land even when the triggering context is already
	// cancelled (shutdown mid-creation), so the insert gets its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.Repo.InsertCreationFailure(ctx, failure); err != nil && r.Logger != nil {
		r.Logger.Error("creation failure not recorded",
			zap.Uint64("season_id", seasonID),
			zap.String("player", player),
			zap.Error(err),
		)
	}
	r.Alerter.Notify("Market creation failed after %d attempts (season %d, player %s): %s",
		attempts, seasonID, player, msg)
	metrics.RecordCreation("failed")
}

// RetryFailure re-runs the creation path for a recorded failure and resolves
// the row on success. Admin surface; runs synchronously.
func (r *Reconciler) RetryFailure(ctx context.Context, id uint64) error {
	failure, err := r.Repo.GetCreationFailureByID(ctx, id)
	if err != nil {
		return err
	}
	if failure == nil {
		return fmt.Errorf("creation failure %d not found", id)
	}
	if failure.Resolved {
		return fmt.Errorf("creation failure %d already resolved", id)
	}
	player, err := r.Repo.GetOrCreatePlayer(ctx, failure.PlayerAddress)
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	if player == nil {
		return fmt.Errorf("player %q not resolvable", failure.PlayerAddress)
	}

	existing, err := r.Repo.GetMarketByKey(ctx, failure.SeasonID, player.ID, failure.MarketType)
	if err != nil {
		return err
	}
	if existing == nil {
		if r.Creator == nil {
			if _, err := r.insertMarket(ctx, failure.SeasonID, player.ID, failure.MarketType,
				failure.ProbabilityBps, "", ""); err != nil {
				return err
			}
		} else {
			result, err := r.Creator.CreateMarket(ctx, failure.SeasonID, failure.PlayerAddress,
				failure.MarketType, failure.ProbabilityBps)
			if err != nil && !errors.Is(err, chain.ErrMarketExists) {
				return fmt.Errorf("creation retry: %w", err)
			}
			r.finishCreation(ctx, failure.SeasonID, failure.PlayerAddress, player.ID,
				failure.ProbabilityBps, result)
		}
	}
	if err := r.Repo.ResolveCreationFailure(ctx, id); err != nil {
		return fmt.Errorf("resolve failure: %w", err)
	}
	return nil
}

// SweepMarkers drops expired dedupe markers. Cron-driven.
func (r *Reconciler) SweepMarkers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, stamped := range r.markers {
		if time.Since(stamped) >= r.dedupeWindow() {
			delete(r.markers, key)
			removed++
		}
	}
	return removed
}
