package maker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"rafflemarkets/internal/config"
	"rafflemarkets/internal/models"
	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/repository"
)

type stubRepo struct {
	repository.Repository

	mu        sync.Mutex
	trades    []models.Trade
	positions map[string]models.Position
	deleted   []string
	inventory map[string]models.InventoryState
	markets   map[uint64]*models.Market
	snapshots map[uint64]*models.PricingSnapshot

	restoreInventory []models.InventoryState
	restorePositions []models.Position

	failInsert bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		positions: map[string]models.Position{},
		inventory: map[string]models.InventoryState{},
		markets:   map[uint64]*models.Market{},
		snapshots: map[uint64]*models.PricingSnapshot{},
	}
}

func posStubKey(marketID uint64, user, outcome string) string {
	return fmt.Sprintf("%d:%s:%s", marketID, user, outcome)
}

func invStubKey(marketID uint64, side string) string {
	return fmt.Sprintf("%d:%s", marketID, side)
}

func (s *stubRepo) InsertTrade(ctx context.Context, item *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return errors.New("journal down")
	}
	s.trades = append(s.trades, *item)
	return nil
}

func (s *stubRepo) SavePosition(ctx context.Context, item *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[posStubKey(item.MarketID, item.UserAddress, item.Outcome)] = *item
	return nil
}

func (s *stubRepo) DeletePosition(ctx context.Context, marketID uint64, user, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := posStubKey(marketID, user, outcome)
	delete(s.positions, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *stubRepo) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if params.Offset >= len(s.restorePositions) {
		return nil, nil
	}
	end := params.Offset + params.Limit
	if params.Limit <= 0 || end > len(s.restorePositions) {
		end = len(s.restorePositions)
	}
	return append([]models.Position(nil), s.restorePositions[params.Offset:end]...), nil
}

func (s *stubRepo) SaveInventoryState(ctx context.Context, item *models.InventoryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[invStubKey(item.MarketID, item.Side)] = *item
	return nil
}

func (s *stubRepo) ListInventoryStates(ctx context.Context) ([]models.InventoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InventoryState(nil), s.restoreInventory...), nil
}

func (s *stubRepo) GetMarketByID(ctx context.Context, id uint64) (*models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (s *stubRepo) GetPricingSnapshot(ctx context.Context, marketID uint64) (*models.PricingSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[marketID]
	if !ok {
		return nil, nil
	}
	out := *snap
	return &out, nil
}

func (s *stubRepo) SavePricingSnapshot(ctx context.Context, item *models.PricingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *item
	s.snapshots[item.MarketID] = &out
	return nil
}

func (s *stubRepo) UpdateMarketPricing(ctx context.Context, id uint64, raffleBps, sentimentBps, hybridBps int) error {
	return nil
}

func (s *stubRepo) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func (s *stubRepo) lastTrade() models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades[len(s.trades)-1]
}

func (s *stubRepo) savedPosition(marketID uint64, user, outcome string) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[posStubKey(marketID, user, outcome)]
	return p, ok
}

func (s *stubRepo) savedInventory(marketID uint64, side string) (models.InventoryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.inventory[invStubKey(marketID, side)]
	return st, ok
}

func newTestMaker(repo *stubRepo) *Maker {
	return &Maker{
		Repo:   repo,
		Logger: zap.NewNop(),
		Config: config.MakerConfig{SpreadBps: 100, FeeBps: 10, MaxTradeAmount: 1_000_000},
	}
}

func TestQuoteDoesNotMutate(t *testing.T) {
	repo := newStubRepo()
	m := newTestMaker(repo)
	ctx := context.Background()

	q1, err := m.Quote(ctx, 1, "yes", 1000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	q2, err := m.Quote(ctx, 1, "YES", 1000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q1.AskBps != q2.AskBps || q1.BidBps != q2.BidBps {
		t.Fatalf("repeated quote drifted: %+v vs %+v", q1, q2)
	}
	if q1.AskBps != 5050 || q1.BidBps != 4950 {
		t.Fatalf("neutral quote got bid=%d ask=%d want 4950/5050", q1.BidBps, q1.AskBps)
	}
	if repo.tradeCount() != 0 {
		t.Fatalf("quote recorded a trade")
	}
}

func TestBuyFillsAtAskAndTracksPosition(t *testing.T) {
	repo := newStubRepo()
	m := newTestMaker(repo)
	ctx := context.Background()

	fill, err := m.Buy(ctx, 1, "YES", 1000, "0xAbCd")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if fill.ExecutedPriceBps != 5050 {
		t.Fatalf("price got=%d want=5050", fill.ExecutedPriceBps)
	}
	if fill.UserAddress != "0xabcd" {
		t.Fatalf("user got=%q want lowercased", fill.UserAddress)
	}
	if fill.PositionAmount != 1000 || fill.PositionAvgBps != 5050 {
		t.Fatalf("position got=%d@%d want=1000@5050", fill.PositionAmount, fill.PositionAvgBps)
	}

	trade := repo.lastTrade()
	if trade.Amount != 1000 || trade.PriceBps != 5050 || trade.Outcome != "YES" {
		t.Fatalf("journal row got=%+v", trade)
	}
	if trade.TradeID == "" {
		t.Fatalf("journal row missing trade id")
	}

	// 1000 short shifts the mid down one bps; the second entry averages up.
	fill, err = m.Buy(ctx, 1, "YES", 1000, "0xabcd")
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if fill.ExecutedPriceBps != 5049 {
		t.Fatalf("second price got=%d want=5049", fill.ExecutedPriceBps)
	}
	if fill.PositionAmount != 2000 || fill.PositionAvgBps != 5050 {
		t.Fatalf("position got=%d@%d want=2000@5050", fill.PositionAmount, fill.PositionAvgBps)
	}

	if st, ok := repo.savedInventory(1, "YES"); !ok || st.NetExposure != -2000 {
		t.Fatalf("inventory row got=%+v ok=%v want exposure -2000", st, ok)
	}
	if p, ok := repo.savedPosition(1, "0xabcd", "YES"); !ok || p.Amount != 2000 || p.AvgPriceBps != 5050 {
		t.Fatalf("position row got=%+v ok=%v", p, ok)
	}
}

func TestBuyUsesSnapshotAnchor(t *testing.T) {
	repo := newStubRepo()
	repo.snapshots[3] = &models.PricingSnapshot{MarketID: 3, HybridPriceBps: 7000}
	m := newTestMaker(repo)

	fill, err := m.Buy(context.Background(), 3, "YES", 100, "0xaa")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if fill.ExecutedPriceBps != 7050 {
		t.Fatalf("price got=%d want=7050", fill.ExecutedPriceBps)
	}
}

func TestQuoteUsesEngineCache(t *testing.T) {
	repo := newStubRepo()
	repo.markets[9] = &models.Market{ID: 9, SeasonID: 4, MarketSentimentBps: 5000}
	engine := &pricing.Engine{Repo: repo, Logger: zap.NewNop()}
	raffle := &pricing.RaffleUpdate{ProbabilityBps: 8000}
	if _, err := engine.UpdateHybridPricing(context.Background(), 9, raffle, nil); err != nil {
		t.Fatalf("seed engine: %v", err)
	}

	m := newTestMaker(repo)
	m.Engine = engine
	q, err := m.Quote(context.Background(), 9, "YES", 100)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// (7000*8000 + 3000*5000 + 5000) / 10000
	if q.AnchorBps != 7100 {
		t.Fatalf("anchor got=%d want=7100", q.AnchorBps)
	}
	if q.AskBps != 7150 {
		t.Fatalf("ask got=%d want=7150", q.AskBps)
	}
}

func TestSidesTrackSeparateExposure(t *testing.T) {
	repo := newStubRepo()
	m := newTestMaker(repo)
	ctx := context.Background()

	if _, err := m.Buy(ctx, 1, "YES", 5000, "0xaa"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	q, err := m.Quote(ctx, 1, "NO", 100)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// NO exposure is still flat, so the NO book is the pure complement.
	if q.MidBps != 5000 || q.BidBps != 4950 || q.AskBps != 5050 {
		t.Fatalf("no quote got mid=%d bid=%d ask=%d want 5000/4950/5050",
			q.MidBps, q.BidBps, q.AskBps)
	}
}

func TestSellCappedByPosition(t *testing.T) {
	repo := newStubRepo()
	m := newTestMaker(repo)
	ctx := context.Background()

	if _, err := m.Buy(ctx, 1, "YES", 1000, "0xaa"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	fill, err := m.Sell(ctx, 1, "YES", 5000, "0xAA")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if fill.Amount != -1000 {
		t.Fatalf("fill amount got=%d want=-1000 (capped)", fill.Amount)
	}
	// Buy pushed exposure to -1000, so the sell bid sits one bps low.
	if fill.ExecutedPriceBps != 4949 {
		t.Fatalf("price got=%d want=4949", fill.ExecutedPriceBps)
	}
	if fill.PositionAmount != 0 {
		t.Fatalf("position got=%d want=0", fill.PositionAmount)
	}
	if amount, _ := m.Position(1, "0xaa", "YES"); amount != 0 {
		t.Fatalf("position survived close: %d", amount)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != posStubKey(1, "0xaa", "YES") {
		t.Fatalf("position row not deleted: %v", repo.deleted)
	}
	if st, ok := repo.savedInventory(1, "YES"); !ok || st.NetExposure != 0 {
		t.Fatalf("inventory got=%+v want exposure 0", st)
	}
}

func TestSellPartialKeepsEntryPrice(t *testing.T) {
	repo := newStubRepo()
	m := newTestMaker(repo)
	ctx := context.Background()

	if _, err := m.Buy(ctx, 1, "YES", 1000, "0xaa"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	fill, err := m.Sell(ctx, 1, "YES", 400, "0xaa")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if fill.Amount != -400 {
		t.Fatalf("fill amount got=%d want=-400", fill.Amount)
	}
	if fill.PositionAmount != 600 || fill.PositionAvgBps != 5050 {
		t.Fatalf("position got=%d@%d want=600@5050", fill.PositionAmount, fill.PositionAvgBps)
	}
	trade := repo.lastTrade()
	if trade.Amount != -400 {
		t.Fatalf("journal amount got=%d want=-400", trade.Amount)
	}
	if st, _ := repo.savedInventory(1, "YES"); st.NetExposure != -600 {
		t.Fatalf("inventory got=%d want=-600", st.NetExposure)
	}
}

func TestSellWithoutPositionFails(t *testing.T) {
	repo := newStubRepo()
	m := newTestMaker(repo)

	_, err := m.Sell(context.Background(), 1, "YES", 100, "0xaa")
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("err got=%v want ErrInsufficientPosition", err)
	}
	if repo.tradeCount() != 0 {
		t.Fatalf("failed sell recorded a trade")
	}
	if _, ok := repo.savedInventory(1, "YES"); ok {
		t.Fatalf("failed sell touched inventory")
	}
}

func TestJournalFailureAbortsBuy(t *testing.T) {
	repo := newStubRepo()
	repo.failInsert = true
	m := newTestMaker(repo)

	if _, err := m.Buy(context.Background(), 1, "YES", 1000, "0xaa"); err == nil {
		t.Fatalf("buy succeeded with journal down")
	}
	if amount, _ := m.Position(1, "0xaa", "YES"); amount != 0 {
		t.Fatalf("aborted buy left position %d", amount)
	}
	if len(m.Inventory()) != 0 {
		t.Fatalf("aborted buy left inventory %v", m.Inventory())
	}
	if _, ok := repo.savedPosition(1, "0xaa", "YES"); ok {
		t.Fatalf("aborted buy persisted a position")
	}
}

func TestInputValidation(t *testing.T) {
	repo := newStubRepo()
	m := newTestMaker(repo)
	ctx := context.Background()

	if _, err := m.Quote(ctx, 1, "MAYBE", 100); !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("side err got=%v", err)
	}
	if _, err := m.Quote(ctx, 1, "YES", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err got=%v", err)
	}
	if _, err := m.Quote(ctx, 1, "YES", 1_000_001); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("oversize amount err got=%v", err)
	}
	if _, err := m.Buy(ctx, 1, "YES", 100, "  "); err == nil {
		t.Fatalf("buy accepted empty user")
	}
}

func TestRestoreRebuildsState(t *testing.T) {
	repo := newStubRepo()
	repo.restoreInventory = []models.InventoryState{
		{MarketID: 1, Side: "YES", NetExposure: -1500},
		{MarketID: 2, Side: "NO", NetExposure: 300},
	}
	repo.restorePositions = []models.Position{
		{MarketID: 1, UserAddress: "0xaa", Outcome: "YES", Amount: 1500, AvgPriceBps: 5100},
		{MarketID: 2, UserAddress: "0xbb", Outcome: "NO", Amount: 0, AvgPriceBps: 4000},
	}
	m := newTestMaker(repo)
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if amount, avg := m.Position(1, "0xaa", "YES"); amount != 1500 || avg != 5100 {
		t.Fatalf("restored position got=%d@%d want=1500@5100", amount, avg)
	}
	if amount, _ := m.Position(2, "0xbb", "NO"); amount != 0 {
		t.Fatalf("zero-amount row restored: %d", amount)
	}
	if got := len(m.Inventory()); got != 2 {
		t.Fatalf("inventory rows got=%d want=2", got)
	}

	// A restored position is immediately sellable.
	fill, err := m.Sell(context.Background(), 1, "YES", 500, "0xaa")
	if err != nil {
		t.Fatalf("sell after restore: %v", err)
	}
	if fill.PositionAmount != 1000 {
		t.Fatalf("position after sell got=%d want=1000", fill.PositionAmount)
	}
	if st, _ := repo.savedInventory(1, "YES"); st.NetExposure != -1000 {
		t.Fatalf("exposure after sell got=%d want=-1000", st.NetExposure)
	}
}
