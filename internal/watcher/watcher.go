package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rafflemarkets/internal/chain"
	"rafflemarkets/internal/config"
	"rafflemarkets/internal/metrics"
	"rafflemarkets/internal/models"
	"rafflemarkets/internal/repository"
)

// Watcher polls chain logs for a fixed set of subscriptions and feeds typed
// facts to the Handler. One goroutine per subscription; each batch is
// processed sequentially in log order before the next poll, so ordering holds
// within a subscription but not across subscriptions.
type Watcher struct {
	Client  *chain.Client
	Repo    repository.Repository
	Handler Handler
	Logger  *zap.Logger
	Config  config.WatcherConfig
	Chain   config.ChainConfig
}

type subscription struct {
	name  string
	query ethereum.FilterQuery
}

func (w *Watcher) subscriptions() []subscription {
	var subs []subscription
	if addr := strings.TrimSpace(w.Chain.RaffleAddress); addr != "" {
		subs = append(subs, subscription{
			name: "raffle",
			query: ethereum.FilterQuery{
				Addresses: []common.Address{common.HexToAddress(addr)},
				Topics:    [][]common.Hash{{chain.SigPositionUpdated, chain.SigProbabilityUpdated}},
			},
		})
	}
	if addr := strings.TrimSpace(w.Chain.FactoryAddress); addr != "" {
		subs = append(subs, subscription{
			name: "factory",
			query: ethereum.FilterQuery{
				Addresses: []common.Address{common.HexToAddress(addr)},
				Topics:    [][]common.Hash{{chain.SigMarketCreated}},
			},
		})
	}
	// AMM pools are deployed per market, so fills are matched by topic alone
	// and the emitting address resolves the market later.
	subs = append(subs, subscription{
		name: "amm_trades",
		query: ethereum.FilterQuery{
			Topics: [][]common.Hash{{chain.SigTradeExecuted}},
		},
	})
	if addr := strings.TrimSpace(w.Chain.OracleAddress); addr != "" {
		subs = append(subs, subscription{
			name: "oracle",
			query: ethereum.FilterQuery{
				Addresses: []common.Address{common.HexToAddress(addr)},
				Topics:    [][]common.Hash{{chain.SigPriceUpdated}},
			},
		})
	}
	return subs
}

// Run starts one polling loop per subscription and blocks until ctx is
// cancelled. Poll failures are retried on the next tick; they never stop a loop.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.Client == nil || w.Handler == nil {
		return nil
	}
	subs := w.subscriptions()
	if len(subs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.pollLoop(ctx, sub)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Watcher) pollLoop(ctx context.Context, sub subscription) {
	interval := w.Config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	from, err := w.resumePoint(ctx, sub.name)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Warn("watcher resume point failed, starting at head",
				zap.String("subscription", sub.name), zap.Error(err))
		}
	}

	if w.Logger != nil {
		w.Logger.Info("watcher started",
			zap.String("subscription", sub.name),
			zap.Uint64("from_block", from),
			zap.Duration("interval", interval),
		)
	}

	for {
		select {
		case <-ctx.Done():
			if w.Logger != nil {
				w.Logger.Info("watcher stopped", zap.String("subscription", sub.name))
			}
			return
		case <-ticker.C:
			next, err := w.poll(ctx, sub, from)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if isStaleFilter(err) {
					// Node recycled the filter; next tick re-queries from scratch.
					if w.Logger != nil {
						w.Logger.Debug("stale filter, re-polling",
							zap.String("subscription", sub.name))
					}
					continue
				}
				metrics.RecordPollError(sub.name)
				if w.Logger != nil {
					w.Logger.Warn("watcher poll failed",
						zap.String("subscription", sub.name), zap.Error(err))
				}
				w.saveCheckpoint(ctx, sub.name, from, err)
				continue
			}
			if next > from {
				from = next
				w.saveCheckpoint(ctx, sub.name, from, nil)
				metrics.RecordBlockHeight(sub.name, from)
			}
		}
	}
}

// poll fetches logs in (from, head-confirmations] and processes them in log
// order. Returns the new last-processed block; unchanged when nothing new.
func (w *Watcher) poll(ctx context.Context, sub subscription, from uint64) (uint64, error) {
	head, err := w.Client.BlockNumber(ctx)
	if err != nil {
		return from, fmt.Errorf("block number: %w", err)
	}
	if head <= w.Config.Confirmations {
		return from, nil
	}
	to := head - w.Config.Confirmations
	if to <= from {
		return from, nil
	}
	start := from + 1
	if w.Config.MaxBlockRange > 0 && to-start+1 > w.Config.MaxBlockRange {
		to = start + w.Config.MaxBlockRange - 1
	}

	query := sub.query
	query.FromBlock = new(big.Int).SetUint64(start)
	query.ToBlock = new(big.Int).SetUint64(to)

	logs, err := w.Client.FilterLogs(ctx, query)
	if err != nil {
		return from, fmt.Errorf("filter logs: %w", err)
	}
	for _, vLog := range logs {
		w.handleLog(ctx, vLog)
	}
	return to, nil
}

// Scan replays an explicit block range through the same per-event path used
// by live polling, for recovering events missed during downtime. Checkpoints
// are untouched; replay must be idempotent against registry state.
func (w *Watcher) Scan(ctx context.Context, fromBlock, toBlock uint64) (processed int, failed int, err error) {
	if w == nil || w.Client == nil || w.Handler == nil {
		return 0, 0, nil
	}
	if toBlock < fromBlock {
		return 0, 0, fmt.Errorf("invalid range [%d, %d]", fromBlock, toBlock)
	}
	for _, sub := range w.subscriptions() {
		query := sub.query
		query.FromBlock = new(big.Int).SetUint64(fromBlock)
		query.ToBlock = new(big.Int).SetUint64(toBlock)
		logs, ferr := w.Client.FilterLogs(ctx, query)
		if ferr != nil {
			return processed, failed, fmt.Errorf("scan %s: %w", sub.name, ferr)
		}
		for _, vLog := range logs {
			if w.handleLog(ctx, vLog) {
				processed++
			} else {
				failed++
			}
		}
	}
	if w.Logger != nil {
		w.Logger.Info("backfill scan complete",
			zap.Uint64("from_block", fromBlock),
			zap.Uint64("to_block", toBlock),
			zap.Int("processed", processed),
			zap.Int("failed", failed),
		)
	}
	return processed, failed, nil
}

// handleLog decodes one log and hands the fact to the Handler. A malformed
// or failing entry is logged and skipped so it cannot abort the batch.
func (w *Watcher) handleLog(ctx context.Context, vLog types.Log) bool {
	if len(vLog.Topics) == 0 {
		return false
	}
	var (
		event string
		err   error
	)
	switch vLog.Topics[0] {
	case chain.SigPositionUpdated:
		event = "position_update"
		var fact PositionUpdate
		if fact, err = parsePositionUpdate(vLog); err == nil {
			err = w.Handler.HandlePositionUpdate(ctx, fact)
		}
	case chain.SigMarketCreated:
		event = "market_created"
		var fact MarketCreated
		if fact, err = parseMarketCreated(vLog); err == nil {
			err = w.Handler.HandleMarketCreated(ctx, fact)
		}
	case chain.SigProbabilityUpdated:
		event = "probability_updated"
		var fact ProbabilityUpdated
		if fact, err = parseProbabilityUpdated(vLog); err == nil {
			err = w.Handler.HandleProbabilityUpdated(ctx, fact)
		}
	case chain.SigTradeExecuted:
		event = "trade"
		var fact Trade
		if fact, err = parseTrade(vLog); err == nil {
			err = w.Handler.HandleTrade(ctx, fact)
		}
	case chain.SigPriceUpdated:
		event = "price_updated"
		var fact PriceUpdated
		if fact, err = parsePriceUpdated(vLog); err == nil {
			err = w.Handler.HandlePriceUpdated(ctx, fact)
		}
	default:
		return false
	}
	if err != nil {
		metrics.RecordEvent(event, "failed")
		if w.Logger != nil {
			w.Logger.Warn("event handling failed, skipping log",
				zap.String("event", event),
				zap.String("tx_hash", vLog.TxHash.Hex()),
				zap.Uint64("block", vLog.BlockNumber),
				zap.Error(err),
			)
		}
		return false
	}
	metrics.RecordEvent(event, "ok")
	return true
}

// resumePoint picks the first poll's starting block: durable checkpoint if
// present, else the configured start block, else the current head.
func (w *Watcher) resumePoint(ctx context.Context, name string) (uint64, error) {
	if w.Repo != nil {
		cp, err := w.Repo.GetWatchCheckpoint(ctx, checkpointName(name))
		if err != nil {
			return w.Config.StartBlock, err
		}
		if cp != nil && cp.BlockNumber > 0 {
			return cp.BlockNumber, nil
		}
	}
	if w.Config.StartBlock > 0 {
		return w.Config.StartBlock, nil
	}
	head, err := w.Client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return head, nil
}

func (w *Watcher) saveCheckpoint(ctx context.Context, name string, block uint64, pollErr error) {
	if w.Repo == nil {
		return
	}
	item := &models.WatchCheckpoint{
		Name:        checkpointName(name),
		BlockNumber: block,
	}
	if pollErr != nil {
		msg := pollErr.Error()
		item.LastError = &msg
	}
	if err := w.Repo.SaveWatchCheckpoint(ctx, item); err != nil && w.Logger != nil {
		w.Logger.Warn("checkpoint save failed",
			zap.String("subscription", name), zap.Error(err))
	}
}

func checkpointName(sub string) string {
	return "watch." + sub
}

// isStaleFilter recognizes the benign "filter not found" condition some RPC
// nodes return after recycling server-side filters.
func isStaleFilter(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "filter not found")
}
