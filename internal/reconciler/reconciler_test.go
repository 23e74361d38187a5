package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rafflemarkets/internal/chain"
	"rafflemarkets/internal/config"
	"rafflemarkets/internal/history"
	"rafflemarkets/internal/models"
	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/repository"
	"rafflemarkets/internal/watcher"
)

type stubRepo struct {
	repository.Repository

	mu        sync.Mutex
	players   map[string]*models.Player
	markets   []*models.Market
	snapshots map[uint64]*models.PricingSnapshot
	failures  []*models.CreationFailure
	nextID    uint64
	creates   int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		players:   map[string]*models.Player{},
		snapshots: map[uint64]*models.PricingSnapshot{},
	}
}

func (s *stubRepo) GetOrCreatePlayer(ctx context.Context, address string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[address]; ok {
		return p, nil
	}
	s.nextID++
	p := &models.Player{ID: s.nextID, Address: address}
	s.players[address] = p
	return p, nil
}

func (s *stubRepo) GetMarketByKey(ctx context.Context, seasonID, playerID uint64, marketType string) (*models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.SeasonID == seasonID && m.PlayerID == playerID && m.MarketType == marketType {
			return m, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetMarketByID(ctx context.Context, id uint64) (*models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetMarketByAddress(ctx context.Context, address string) (*models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.MarketAddress != nil && *m.MarketAddress == address {
			return m, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) CreateMarket(ctx context.Context, item *models.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.SeasonID == item.SeasonID && m.PlayerID == item.PlayerID && m.MarketType == item.MarketType {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	s.nextID++
	item.ID = s.nextID
	s.markets = append(s.markets, item)
	s.creates++
	return nil
}

func (s *stubRepo) UpdateMarketProbability(ctx context.Context, id uint64, probabilityBps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.ID == id {
			m.RaffleProbabilityBps = probabilityBps
		}
	}
	return nil
}

func (s *stubRepo) UpdateMarketChainRefs(ctx context.Context, id uint64, conditionID, marketAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.ID == id {
			if conditionID != "" {
				m.ConditionID = &conditionID
			}
			if marketAddress != "" {
				m.MarketAddress = &marketAddress
			}
		}
	}
	return nil
}

func (s *stubRepo) UpdateMarketPricing(ctx context.Context, id uint64, raffleBps, sentimentBps, hybridBps int) error {
	return nil
}

func (s *stubRepo) GetPricingSnapshot(ctx context.Context, marketID uint64) (*models.PricingSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[marketID], nil
}

func (s *stubRepo) SavePricingSnapshot(ctx context.Context, item *models.PricingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.snapshots[item.MarketID] = &cp
	return nil
}

func (s *stubRepo) InsertCreationFailure(ctx context.Context, item *models.CreationFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = s.nextID
	s.failures = append(s.failures, item)
	return nil
}

func (s *stubRepo) GetCreationFailureByID(ctx context.Context, id uint64) (*models.CreationFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.failures {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ResolveCreationFailure(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.failures {
		if f.ID == id {
			f.Resolved = true
		}
	}
	return nil
}

func (s *stubRepo) marketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markets)
}

func (s *stubRepo) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

type stubCreator struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	result *chain.CreationResult
}

func (c *stubCreator) CreateMarket(ctx context.Context, seasonID uint64, player string, marketType string, probabilityBps int) (*chain.CreationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= len(c.errs) && c.errs[c.calls-1] != nil {
		return nil, c.errs[c.calls-1]
	}
	if c.result != nil {
		return c.result, nil
	}
	return &chain.CreationResult{TxHash: "0xfeed"}, nil
}

func (c *stubCreator) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestReconciler(repo *stubRepo, creator Creator) *Reconciler {
	var engine *pricing.Engine
	if repo != nil {
		engine = &pricing.Engine{
			Repo:    repo,
			History: history.NewMemoryStore(),
			Logger:  zap.NewNop(),
		}
	}
	return &Reconciler{
		Repo:    repo,
		Creator: creator,
		Engine:  engine,
		Logger:  zap.NewNop(),
		Config:  config.ReconcilerConfig{ThresholdBps: 100, MaxAttempts: 3},
		sleep:   func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func positionFact(seasonID uint64, player string, oldTickets, newTickets, total uint64) watcher.PositionUpdate {
	return watcher.PositionUpdate{
		SeasonID:       seasonID,
		Player:         player,
		OldTickets:     oldTickets,
		NewTickets:     newTickets,
		TotalTickets:   total,
		ProbabilityBps: ProbabilityBps(newTickets, total),
	}
}

func TestProbabilityBps(t *testing.T) {
	if got := ProbabilityBps(150, 10000); got != 150 {
		t.Fatalf("got=%d want=150", got)
	}
	if got := ProbabilityBps(99, 10000); got != 99 {
		t.Fatalf("got=%d want=99", got)
	}
	// Floor, not round.
	if got := ProbabilityBps(1999, 100000); got != 199 {
		t.Fatalf("got=%d want=199", got)
	}
	if got := ProbabilityBps(5, 0); got != 0 {
		t.Fatalf("got=%d want=0 for empty raffle", got)
	}
}

func TestThresholdCrossingCreatesOnce(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{}
	r := newTestReconciler(repo, creator)
	ctx := context.Background()

	fact := positionFact(1, "0xaaa", 99, 150, 10000)
	// Duplicate delivery of the same crossing within one polling window.
	if err := r.HandlePositionUpdate(ctx, fact); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := r.HandlePositionUpdate(ctx, fact); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	r.Wait()

	if got := creator.callCount(); got != 1 {
		t.Fatalf("creator calls got=%d want=1", got)
	}
	if got := repo.marketCount(); got != 1 {
		t.Fatalf("markets got=%d want=1", got)
	}
}

func TestAlreadyAboveThresholdNeverTriggers(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{}
	r := newTestReconciler(repo, creator)

	if err := r.HandlePositionUpdate(context.Background(),
		positionFact(1, "0xaaa", 150, 160, 10000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	r.Wait()

	if got := creator.callCount(); got != 0 {
		t.Fatalf("creator calls got=%d want=0", got)
	}
	if got := repo.marketCount(); got != 0 {
		t.Fatalf("markets got=%d want=0", got)
	}
}

func TestBelowThresholdNoCreation(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{}
	r := newTestReconciler(repo, creator)

	if err := r.HandlePositionUpdate(context.Background(),
		positionFact(1, "0xaaa", 10, 99, 10000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	r.Wait()
	if got := repo.marketCount(); got != 0 {
		t.Fatalf("markets got=%d want=0", got)
	}
}

func TestExistingMarketUpdatesProbability(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{}
	r := newTestReconciler(repo, creator)
	ctx := context.Background()

	if err := r.HandlePositionUpdate(ctx, positionFact(1, "0xaaa", 99, 150, 10000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	r.Wait()

	if err := r.HandlePositionUpdate(ctx, positionFact(1, "0xaaa", 150, 300, 10000)); err != nil {
		t.Fatalf("update: %v", err)
	}
	r.Wait()

	if got := creator.callCount(); got != 1 {
		t.Fatalf("creator calls got=%d want=1", got)
	}
	m, err := repo.GetMarketByID(ctx, 2)
	if err != nil || m == nil {
		t.Fatalf("market lookup: %v %v", m, err)
	}
	if m.RaffleProbabilityBps != 300 {
		t.Fatalf("probability got=%d want=300", m.RaffleProbabilityBps)
	}
}

func TestMarketExistsRevertIsSuccess(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{errs: []error{chain.ErrMarketExists}}
	r := newTestReconciler(repo, creator)

	if err := r.HandlePositionUpdate(context.Background(),
		positionFact(1, "0xaaa", 0, 150, 10000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	r.Wait()

	if got := creator.callCount(); got != 1 {
		t.Fatalf("creator calls got=%d want=1 (no retry)", got)
	}
	if got := repo.marketCount(); got != 1 {
		t.Fatalf("markets got=%d want=1", got)
	}
	if got := repo.failureCount(); got != 0 {
		t.Fatalf("failures got=%d want=0", got)
	}
}

func TestUnauthorizedIsFatalNoRetry(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{errs: []error{chain.ErrUnauthorized, chain.ErrUnauthorized, chain.ErrUnauthorized}}
	r := newTestReconciler(repo, creator)

	if err := r.HandlePositionUpdate(context.Background(),
		positionFact(1, "0xaaa", 0, 150, 10000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	r.Wait()

	if got := creator.callCount(); got != 1 {
		t.Fatalf("creator calls got=%d want=1 (fatal, no retry)", got)
	}
	if got := repo.marketCount(); got != 0 {
		t.Fatalf("markets got=%d want=0", got)
	}
	if got := repo.failureCount(); got != 0 {
		t.Fatalf("failures got=%d want=0 (fatal is not retryable)", got)
	}
}

func TestRetryExhaustionRecordsFailure(t *testing.T) {
	repo := newStubRepo()
	boom := errors.New("rpc timeout")
	creator := &stubCreator{errs: []error{boom, boom, boom}}
	r := newTestReconciler(repo, creator)

	if err := r.HandlePositionUpdate(context.Background(),
		positionFact(2, "0xbbb", 50, 200, 10000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	r.Wait()

	if got := creator.callCount(); got != 3 {
		t.Fatalf("creator calls got=%d want=3", got)
	}
	if got := repo.failureCount(); got != 1 {
		t.Fatalf("failures got=%d want=1", got)
	}
	repo.mu.Lock()
	failure := repo.failures[0]
	repo.mu.Unlock()
	if failure.SeasonID != 2 || failure.PlayerAddress != "0xbbb" {
		t.Fatalf("failure row got=%+v", failure)
	}
	if failure.Attempts != 3 || failure.LastError != "rpc timeout" {
		t.Fatalf("failure detail got attempts=%d err=%q", failure.Attempts, failure.LastError)
	}
}

func TestGasTooHighRetriesWithinBudget(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{errs: []error{chain.ErrGasTooHigh, chain.ErrGasTooHigh}}
	r := newTestReconciler(repo, creator)

	if err := r.HandlePositionUpdate(context.Background(),
		positionFact(1, "0xccc", 0, 150, 10000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	r.Wait()

	// Two gas waits, then the third attempt succeeds.
	if got := creator.callCount(); got != 3 {
		t.Fatalf("creator calls got=%d want=3", got)
	}
	if got := repo.marketCount(); got != 1 {
		t.Fatalf("markets got=%d want=1", got)
	}
}

func TestRetryFailureResolvesRow(t *testing.T) {
	repo := newStubRepo()
	creator := &stubCreator{}
	r := newTestReconciler(repo, creator)
	ctx := context.Background()

	failure := &models.CreationFailure{
		SeasonID:       3,
		PlayerAddress:  "0xddd",
		MarketType:     models.MarketTypeWinnerPrediction,
		ProbabilityBps: 220,
		Attempts:       3,
		LastError:      "rpc timeout",
	}
	if err := repo.InsertCreationFailure(ctx, failure); err != nil {
		t.Fatalf("seed failure: %v", err)
	}

	if err := r.RetryFailure(ctx, failure.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := repo.marketCount(); got != 1 {
		t.Fatalf("markets got=%d want=1", got)
	}
	resolved, err := repo.GetCreationFailureByID(ctx, failure.ID)
	if err != nil || resolved == nil {
		t.Fatalf("failure lookup: %v", err)
	}
	if !resolved.Resolved {
		t.Fatal("expected failure resolved")
	}

	if err := r.RetryFailure(ctx, failure.ID); err == nil {
		t.Fatal("expected error for already-resolved failure")
	}
	if err := r.RetryFailure(ctx, 9999); err == nil {
		t.Fatal("expected error for unknown failure id")
	}
}

func TestMarketCreatedDiscoveryUpserts(t *testing.T) {
	repo := newStubRepo()
	r := newTestReconciler(repo, nil)
	ctx := context.Background()

	fact := watcher.MarketCreated{
		SeasonID:       4,
		Player:         "0xeee",
		MarketType:     models.MarketTypeWinnerPrediction,
		ConditionID:    "0xc0ffee",
		MarketAddress:  "0x00000000000000000000000000000000000000cc",
		ProbabilityBps: 180,
	}
	if err := r.HandleMarketCreated(ctx, fact); err != nil {
		t.Fatalf("discovery: %v", err)
	}
	if err := r.HandleMarketCreated(ctx, fact); err != nil {
		t.Fatalf("replayed discovery: %v", err)
	}

	if got := repo.marketCount(); got != 1 {
		t.Fatalf("markets got=%d want=1", got)
	}
	m, err := repo.GetMarketByAddress(ctx, fact.MarketAddress)
	if err != nil || m == nil {
		t.Fatalf("market by address: %v", err)
	}
	if m.ConditionID == nil || *m.ConditionID != "0xc0ffee" {
		t.Fatalf("condition id got=%v", m.ConditionID)
	}
}

func TestDiscoveryCompletesThresholdRow(t *testing.T) {
	repo := newStubRepo()
	r := newTestReconciler(repo, nil)
	ctx := context.Background()

	// Threshold path created the row without chain refs (off-chain mode).
	if err := r.HandlePositionUpdate(ctx, positionFact(5, "0xfff", 0, 150, 10000)); err != nil {
		t.Fatalf("threshold: %v", err)
	}
	r.Wait()

	fact := watcher.MarketCreated{
		SeasonID:       5,
		Player:         "0xfff",
		MarketType:     models.MarketTypeWinnerPrediction,
		ConditionID:    "0xdead",
		MarketAddress:  "0x00000000000000000000000000000000000000dd",
		ProbabilityBps: 150,
	}
	if err := r.HandleMarketCreated(ctx, fact); err != nil {
		t.Fatalf("discovery: %v", err)
	}

	if got := repo.marketCount(); got != 1 {
		t.Fatalf("markets got=%d want=1 (paths converge)", got)
	}
	m, _ := repo.GetMarketByAddress(ctx, fact.MarketAddress)
	if m == nil {
		t.Fatal("expected chain refs filled on existing row")
	}
}

func TestProbabilityUpdatedBelowThresholdIsNotError(t *testing.T) {
	repo := newStubRepo()
	r := newTestReconciler(repo, nil)

	err := r.HandleProbabilityUpdated(context.Background(), watcher.ProbabilityUpdated{
		SeasonID:          1,
		Player:            "0xaaa",
		OldProbabilityBps: 10,
		NewProbabilityBps: 50,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestTradeDerivesSentimentDelta(t *testing.T) {
	repo := newStubRepo()
	r := newTestReconciler(repo, nil)
	ctx := context.Background()

	addr := "0x00000000000000000000000000000000000000ee"
	player, _ := repo.GetOrCreatePlayer(ctx, "0xaaa")
	market := &models.Market{
		SeasonID:           6,
		PlayerID:           player.ID,
		MarketType:         models.MarketTypeWinnerPrediction,
		MarketAddress:      &addr,
		MarketSentimentBps: 5000,
	}
	if err := repo.CreateMarket(ctx, market); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	// 2.5 collateral tokens long -> +3 bps sentiment (round half up).
	err := r.HandleTrade(ctx, watcher.Trade{
		MarketAddress:    addr,
		Trader:           "0x123",
		CollateralAmount: decimal.RequireFromString("2.5"),
		IsLong:           true,
	})
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	snap := r.Engine.GetCachedPricing(market.ID)
	if snap == nil || snap.MarketSentimentBps != 5003 {
		t.Fatalf("sentiment got=%+v want 5003", snap)
	}

	// 500 tokens short -> clamped to the 100 bps cap, negative.
	err = r.HandleTrade(ctx, watcher.Trade{
		MarketAddress:    addr,
		Trader:           "0x123",
		CollateralAmount: decimal.RequireFromString("500"),
		IsLong:           false,
	})
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	snap = r.Engine.GetCachedPricing(market.ID)
	if snap == nil || snap.MarketSentimentBps != 4903 {
		t.Fatalf("sentiment got=%+v want 4903", snap)
	}
}

func TestTradeFromUnknownPoolIgnored(t *testing.T) {
	repo := newStubRepo()
	r := newTestReconciler(repo, nil)

	err := r.HandleTrade(context.Background(), watcher.Trade{
		MarketAddress:    "0x0000000000000000000000000000000000000123",
		Trader:           "0x456",
		CollateralAmount: decimal.NewFromInt(10),
		IsLong:           true,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSweepMarkers(t *testing.T) {
	r := newTestReconciler(newStubRepo(), nil)
	r.Config.DedupeWindow = 10 * time.Millisecond

	r.mu.Lock()
	r.markers = map[string]time.Time{
		"1:0xaaa": time.Now().Add(-time.Second),
		"1:0xbbb": time.Now(),
	}
	r.mu.Unlock()

	if got := r.SweepMarkers(); got != 1 {
		t.Fatalf("swept got=%d want=1", got)
	}
}
