package watcher

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rafflemarkets/internal/chain"
)

func word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func addressWord(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func concat(words ...[]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

func TestParsePositionUpdate(t *testing.T) {
	player := "0xAbC0000000000000000000000000000000000001"
	vLog := types.Log{
		Topics: []common.Hash{
			chain.SigPositionUpdated,
			common.BigToHash(big.NewInt(7)),
			addressTopic(player),
		},
		Data:        concat(word(10), word(25), word(2000), word(125)),
		BlockNumber: 123,
		TxHash:      common.HexToHash("0x11"),
	}

	fact, err := parsePositionUpdate(vLog)
	if err != nil {
		t.Fatalf("parsePositionUpdate: %v", err)
	}
	if fact.SeasonID != 7 {
		t.Fatalf("season got=%d want=7", fact.SeasonID)
	}
	if fact.Player != "0xabc0000000000000000000000000000000000001" {
		t.Fatalf("player got=%s", fact.Player)
	}
	if fact.OldTickets != 10 || fact.NewTickets != 25 || fact.TotalTickets != 2000 {
		t.Fatalf("tickets got=%d/%d/%d want=10/25/2000",
			fact.OldTickets, fact.NewTickets, fact.TotalTickets)
	}
	if fact.ProbabilityBps != 125 {
		t.Fatalf("probability got=%d want=125", fact.ProbabilityBps)
	}
	if fact.BlockNumber != 123 {
		t.Fatalf("block got=%d want=123", fact.BlockNumber)
	}
}

func TestParsePositionUpdateMalformed(t *testing.T) {
	base := types.Log{
		Topics: []common.Hash{
			chain.SigPositionUpdated,
			common.BigToHash(big.NewInt(1)),
			addressTopic("0x01"),
		},
		Data: concat(word(1), word(2), word(100), word(50)),
	}

	missingTopic := base
	missingTopic.Topics = missingTopic.Topics[:2]
	if _, err := parsePositionUpdate(missingTopic); err == nil {
		t.Fatal("expected error for missing topics")
	}

	shortData := base
	shortData.Data = shortData.Data[:64]
	if _, err := parsePositionUpdate(shortData); err == nil {
		t.Fatal("expected error for short data")
	}

	badBps := base
	badBps.Data = concat(word(1), word(2), word(100), word(10001))
	if _, err := parsePositionUpdate(badBps); err == nil {
		t.Fatal("expected error for bps out of range")
	}
}

func TestParseMarketCreated(t *testing.T) {
	conditionID := word(0xbeef)
	marketAddr := "0x00000000000000000000000000000000000000aa"
	vLog := types.Log{
		Topics: []common.Hash{
			chain.SigMarketCreated,
			common.BigToHash(big.NewInt(3)),
			addressTopic("0x02"),
		},
		Data:        concat(word(0), conditionID, addressWord(marketAddr), word(150)),
		BlockNumber: 456,
		TxHash:      common.HexToHash("0x22"),
	}

	fact, err := parseMarketCreated(vLog)
	if err != nil {
		t.Fatalf("parseMarketCreated: %v", err)
	}
	if fact.MarketType != "WINNER_PREDICTION" {
		t.Fatalf("market type got=%s want=WINNER_PREDICTION", fact.MarketType)
	}
	if fact.ConditionID != "0x"+common.Bytes2Hex(conditionID) {
		t.Fatalf("condition id got=%s", fact.ConditionID)
	}
	if fact.MarketAddress != marketAddr {
		t.Fatalf("market address got=%s want=%s", fact.MarketAddress, marketAddr)
	}
	if fact.ProbabilityBps != 150 {
		t.Fatalf("probability got=%d want=150", fact.ProbabilityBps)
	}
}

func TestParseMarketCreatedUnknownType(t *testing.T) {
	vLog := types.Log{
		Topics: []common.Hash{
			chain.SigMarketCreated,
			common.BigToHash(big.NewInt(3)),
			addressTopic("0x02"),
		},
		Data: concat(word(9), word(1), addressWord("0xaa"), word(150)),
	}
	if _, err := parseMarketCreated(vLog); err == nil {
		t.Fatal("expected error for unknown market type")
	}
}

func TestParseTrade(t *testing.T) {
	pool := "0x00000000000000000000000000000000000000bb"
	vLog := types.Log{
		Address: common.HexToAddress(pool),
		Topics: []common.Hash{
			chain.SigTradeExecuted,
			addressTopic("0x03"),
		},
		Data:        concat(word(2_500_000), word(1)),
		BlockNumber: 789,
		TxHash:      common.HexToHash("0x33"),
	}

	fact, err := parseTrade(vLog)
	if err != nil {
		t.Fatalf("parseTrade: %v", err)
	}
	if fact.MarketAddress != pool {
		t.Fatalf("market address got=%s want=%s", fact.MarketAddress, pool)
	}
	if got := fact.CollateralAmount.String(); got != "2.5" {
		t.Fatalf("collateral got=%s want=2.5", got)
	}
	if !fact.IsLong {
		t.Fatal("expected long trade")
	}

	vLog.Data = concat(word(900_000), word(0))
	fact, err = parseTrade(vLog)
	if err != nil {
		t.Fatalf("parseTrade short: %v", err)
	}
	if fact.IsLong {
		t.Fatal("expected short trade")
	}
	if got := fact.CollateralAmount.String(); got != "0.9" {
		t.Fatalf("collateral got=%s want=0.9", got)
	}
}

func TestParsePriceUpdated(t *testing.T) {
	vLog := types.Log{
		Topics: []common.Hash{
			chain.SigPriceUpdated,
			common.BigToHash(big.NewInt(42)),
		},
		Data:        concat(word(7000), word(3000), word(5800), word(1_700_000_000)),
		BlockNumber: 999,
	}

	fact, err := parsePriceUpdated(vLog)
	if err != nil {
		t.Fatalf("parsePriceUpdated: %v", err)
	}
	if fact.MarketID != 42 {
		t.Fatalf("market id got=%d want=42", fact.MarketID)
	}
	if fact.RaffleBps != 7000 || fact.MarketBps != 3000 || fact.HybridBps != 5800 {
		t.Fatalf("prices got=%d/%d/%d want=7000/3000/5800",
			fact.RaffleBps, fact.MarketBps, fact.HybridBps)
	}
	if fact.Timestamp.Unix() != 1_700_000_000 {
		t.Fatalf("timestamp got=%d want=1700000000", fact.Timestamp.Unix())
	}
}

func TestParseProbabilityUpdated(t *testing.T) {
	vLog := types.Log{
		Topics: []common.Hash{
			chain.SigProbabilityUpdated,
			common.BigToHash(big.NewInt(5)),
			addressTopic("0x04"),
		},
		Data: concat(word(100), word(240)),
	}

	fact, err := parseProbabilityUpdated(vLog)
	if err != nil {
		t.Fatalf("parseProbabilityUpdated: %v", err)
	}
	if fact.OldProbabilityBps != 100 || fact.NewProbabilityBps != 240 {
		t.Fatalf("probabilities got=%d/%d want=100/240",
			fact.OldProbabilityBps, fact.NewProbabilityBps)
	}
}

type stubHandler struct {
	positions []PositionUpdate
	trades    []Trade
	fail      bool
}

func (s *stubHandler) HandlePositionUpdate(ctx context.Context, fact PositionUpdate) error {
	if s.fail {
		return errors.New("boom")
	}
	s.positions = append(s.positions, fact)
	return nil
}

func (s *stubHandler) HandleMarketCreated(ctx context.Context, fact MarketCreated) error {
	return nil
}

func (s *stubHandler) HandleProbabilityUpdated(ctx context.Context, fact ProbabilityUpdated) error {
	return nil
}

func (s *stubHandler) HandleTrade(ctx context.Context, fact Trade) error {
	if s.fail {
		return errors.New("boom")
	}
	s.trades = append(s.trades, fact)
	return nil
}

func (s *stubHandler) HandlePriceUpdated(ctx context.Context, fact PriceUpdated) error {
	return nil
}

func TestHandleLogDispatch(t *testing.T) {
	stub := &stubHandler{}
	w := &Watcher{Handler: stub, Logger: zap.NewNop()}

	vLog := types.Log{
		Topics: []common.Hash{
			chain.SigPositionUpdated,
			common.BigToHash(big.NewInt(7)),
			addressTopic("0x01"),
		},
		Data: concat(word(0), word(5), word(100), word(500)),
	}
	if ok := w.handleLog(context.Background(), vLog); !ok {
		t.Fatal("expected log to be handled")
	}
	if len(stub.positions) != 1 {
		t.Fatalf("positions got=%d want=1", len(stub.positions))
	}
	if stub.positions[0].NewTickets != 5 {
		t.Fatalf("new tickets got=%d want=5", stub.positions[0].NewTickets)
	}
}

func TestHandleLogUnknownTopic(t *testing.T) {
	stub := &stubHandler{}
	w := &Watcher{Handler: stub, Logger: zap.NewNop()}

	vLog := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	if ok := w.handleLog(context.Background(), vLog); ok {
		t.Fatal("expected unknown topic to be skipped")
	}
	if len(stub.positions) != 0 {
		t.Fatalf("positions got=%d want=0", len(stub.positions))
	}
}

func TestHandleLogHandlerError(t *testing.T) {
	stub := &stubHandler{fail: true}
	w := &Watcher{Handler: stub, Logger: zap.NewNop()}

	vLog := types.Log{
		Topics: []common.Hash{
			chain.SigPositionUpdated,
			common.BigToHash(big.NewInt(7)),
			addressTopic("0x01"),
		},
		Data: concat(word(0), word(5), word(100), word(500)),
	}
	if ok := w.handleLog(context.Background(), vLog); ok {
		t.Fatal("expected failing handler to report skip")
	}
}
