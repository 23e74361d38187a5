package watcher

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"rafflemarkets/internal/chain"
)

// Collateral amounts in TradeExecuted logs are USDC-style 6-decimal integers.
const collateralDecimals = 6

// PositionUpdate is emitted by the raffle contract whenever a participant's
// ticket count changes. ProbabilityBps is the contract-computed win chance.
type PositionUpdate struct {
	SeasonID       uint64
	Player         string
	OldTickets     uint64
	NewTickets     uint64
	TotalTickets   uint64
	ProbabilityBps int
	BlockNumber    uint64
	TxHash         string
}

// MarketCreated is the factory's creation event. The reconciler upserts the
// same registry row the threshold path would have produced.
type MarketCreated struct {
	SeasonID       uint64
	Player         string
	MarketType     string
	ConditionID    string
	MarketAddress  string
	ProbabilityBps int
	BlockNumber    uint64
	TxHash         string
}

// ProbabilityUpdated carries a recomputed win probability for an existing
// participant without a ticket change (e.g. other players joined).
type ProbabilityUpdated struct {
	SeasonID          uint64
	Player            string
	OldProbabilityBps int
	NewProbabilityBps int
	BlockNumber       uint64
}

// Trade is an AMM fill. The emitting pool address identifies the market.
type Trade struct {
	MarketAddress    string
	Trader           string
	CollateralAmount decimal.Decimal
	IsLong           bool
	BlockNumber      uint64
	TxHash           string
}

// PriceUpdated is oracle-originated: the oracle already blended the price,
// so the pricing engine stores it verbatim instead of recomputing.
type PriceUpdated struct {
	MarketID    uint64
	RaffleBps   int
	MarketBps   int
	HybridBps   int
	Timestamp   time.Time
	BlockNumber uint64
}

// Handler consumes domain facts in log order. Live polling and backfill
// scans share this single delivery path.
type Handler interface {
	HandlePositionUpdate(ctx context.Context, fact PositionUpdate) error
	HandleMarketCreated(ctx context.Context, fact MarketCreated) error
	HandleProbabilityUpdated(ctx context.Context, fact ProbabilityUpdated) error
	HandleTrade(ctx context.Context, fact Trade) error
	HandlePriceUpdated(ctx context.Context, fact PriceUpdated) error
}

func parsePositionUpdate(vLog types.Log) (PositionUpdate, error) {
	if len(vLog.Topics) < 3 {
		return PositionUpdate{}, fmt.Errorf("PositionUpdated missing indexed topics")
	}
	if len(vLog.Data) < 128 {
		return PositionUpdate{}, fmt.Errorf("PositionUpdated data too short: %d", len(vLog.Data))
	}
	probBps, err := bpsFromWord(vLog.Data[96:128])
	if err != nil {
		return PositionUpdate{}, fmt.Errorf("PositionUpdated probability: %w", err)
	}
	return PositionUpdate{
		SeasonID:       new(big.Int).SetBytes(vLog.Topics[1].Bytes()).Uint64(),
		Player:         topicAddress(vLog.Topics[2]),
		OldTickets:     new(big.Int).SetBytes(vLog.Data[0:32]).Uint64(),
		NewTickets:     new(big.Int).SetBytes(vLog.Data[32:64]).Uint64(),
		TotalTickets:   new(big.Int).SetBytes(vLog.Data[64:96]).Uint64(),
		ProbabilityBps: probBps,
		BlockNumber:    vLog.BlockNumber,
		TxHash:         vLog.TxHash.Hex(),
	}, nil
}

func parseMarketCreated(vLog types.Log) (MarketCreated, error) {
	if len(vLog.Topics) < 3 {
		return MarketCreated{}, fmt.Errorf("MarketCreated missing indexed topics")
	}
	if len(vLog.Data) < 128 {
		return MarketCreated{}, fmt.Errorf("MarketCreated data too short: %d", len(vLog.Data))
	}
	typeIdx := new(big.Int).SetBytes(vLog.Data[0:32]).Uint64()
	marketType, ok := chain.MarketTypeName(uint8(typeIdx))
	if !ok {
		return MarketCreated{}, fmt.Errorf("MarketCreated unknown market type %d", typeIdx)
	}
	probBps, err := bpsFromWord(vLog.Data[96:128])
	if err != nil {
		return MarketCreated{}, fmt.Errorf("MarketCreated probability: %w", err)
	}
	return MarketCreated{
		SeasonID:       new(big.Int).SetBytes(vLog.Topics[1].Bytes()).Uint64(),
		Player:         topicAddress(vLog.Topics[2]),
		MarketType:     marketType,
		ConditionID:    "0x" + common.Bytes2Hex(vLog.Data[32:64]),
		MarketAddress:  strings.ToLower(common.BytesToAddress(vLog.Data[76:96]).Hex()),
		ProbabilityBps: probBps,
		BlockNumber:    vLog.BlockNumber,
		TxHash:         vLog.TxHash.Hex(),
	}, nil
}

func parseProbabilityUpdated(vLog types.Log) (ProbabilityUpdated, error) {
	if len(vLog.Topics) < 3 {
		return ProbabilityUpdated{}, fmt.Errorf("ProbabilityUpdated missing indexed topics")
	}
	if len(vLog.Data) < 64 {
		return ProbabilityUpdated{}, fmt.Errorf("ProbabilityUpdated data too short: %d", len(vLog.Data))
	}
	oldBps, err := bpsFromWord(vLog.Data[0:32])
	if err != nil {
		return ProbabilityUpdated{}, fmt.Errorf("ProbabilityUpdated old: %w", err)
	}
	newBps, err := bpsFromWord(vLog.Data[32:64])
	if err != nil {
		return ProbabilityUpdated{}, fmt.Errorf("ProbabilityUpdated new: %w", err)
	}
	return ProbabilityUpdated{
		SeasonID:          new(big.Int).SetBytes(vLog.Topics[1].Bytes()).Uint64(),
		Player:            topicAddress(vLog.Topics[2]),
		OldProbabilityBps: oldBps,
		NewProbabilityBps: newBps,
		BlockNumber:       vLog.BlockNumber,
	}, nil
}

func parseTrade(vLog types.Log) (Trade, error) {
	if len(vLog.Topics) < 2 {
		return Trade{}, fmt.Errorf("TradeExecuted missing trader topic")
	}
	if len(vLog.Data) < 64 {
		return Trade{}, fmt.Errorf("TradeExecuted data too short: %d", len(vLog.Data))
	}
	amount := new(big.Int).SetBytes(vLog.Data[0:32])
	isLong := new(big.Int).SetBytes(vLog.Data[32:64]).Sign() != 0
	return Trade{
		MarketAddress:    strings.ToLower(vLog.Address.Hex()),
		Trader:           topicAddress(vLog.Topics[1]),
		CollateralAmount: decimal.NewFromBigInt(amount, -collateralDecimals),
		IsLong:           isLong,
		BlockNumber:      vLog.BlockNumber,
		TxHash:           vLog.TxHash.Hex(),
	}, nil
}

func parsePriceUpdated(vLog types.Log) (PriceUpdated, error) {
	if len(vLog.Topics) < 2 {
		return PriceUpdated{}, fmt.Errorf("PriceUpdated missing marketId topic")
	}
	if len(vLog.Data) < 128 {
		return PriceUpdated{}, fmt.Errorf("PriceUpdated data too short: %d", len(vLog.Data))
	}
	raffleBps, err := bpsFromWord(vLog.Data[0:32])
	if err != nil {
		return PriceUpdated{}, fmt.Errorf("PriceUpdated raffle: %w", err)
	}
	marketBps, err := bpsFromWord(vLog.Data[32:64])
	if err != nil {
		return PriceUpdated{}, fmt.Errorf("PriceUpdated market: %w", err)
	}
	hybridBps, err := bpsFromWord(vLog.Data[64:96])
	if err != nil {
		return PriceUpdated{}, fmt.Errorf("PriceUpdated hybrid: %w", err)
	}
	ts := new(big.Int).SetBytes(vLog.Data[96:128]).Int64()
	return PriceUpdated{
		MarketID:    new(big.Int).SetBytes(vLog.Topics[1].Bytes()).Uint64(),
		RaffleBps:   raffleBps,
		MarketBps:   marketBps,
		HybridBps:   hybridBps,
		Timestamp:   time.Unix(ts, 0).UTC(),
		BlockNumber: vLog.BlockNumber,
	}, nil
}

// bpsFromWord decodes a 32-byte word into a basis-point value, rejecting
// anything outside [0, 10000] as malformed rather than clamping silently.
func bpsFromWord(word []byte) (int, error) {
	v := new(big.Int).SetBytes(word)
	if !v.IsInt64() {
		return 0, fmt.Errorf("bps overflows int64")
	}
	n := v.Int64()
	if n < 0 || n > 10000 {
		return 0, fmt.Errorf("bps %d out of range", n)
	}
	return int(n), nil
}

func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}
