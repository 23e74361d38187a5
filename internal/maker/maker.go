package maker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rafflemarkets/internal/config"
	"rafflemarkets/internal/metrics"
	"rafflemarkets/internal/models"
	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/repository"
)

var (
	// ErrInsufficientPosition is returned when a sell has no held position
	// to draw from. Nothing is recorded in that case.
	ErrInsufficientPosition = errors.New("maker: insufficient position")

	ErrInvalidSide   = errors.New("maker: side must be YES or NO")
	ErrInvalidAmount = errors.New("maker: amount out of range")
)

type invKey struct {
	marketID uint64
	side     string
}

type posKey struct {
	marketID uint64
	user     string
	side     string
}

type position struct {
	amount      int64
	avgPriceBps int
}

// Fill is the result of an executed buy or sell. Amount carries the signed
// size convention of the trade journal.
type Fill struct {
	TradeID          string          `json:"trade_id"`
	MarketID         uint64          `json:"market_id"`
	Side             string          `json:"side"`
	UserAddress      string          `json:"user_address"`
	Amount           int64           `json:"amount"`
	ExecutedPriceBps int             `json:"executed_price_bps"`
	FeeBps           int             `json:"fee_bps"`
	Fee              int64           `json:"fee"`
	Notional         decimal.Decimal `json:"notional"`
	PositionAmount   int64           `json:"position_amount"`
	PositionAvgBps   int             `json:"position_avg_bps"`
}

// Maker quotes and fills against the pricing engine's anchor. Inventory and
// positions are authoritative in memory and persisted best-effort. Fills on
// one market are serialized by a per-market lock; mu guards the maps and is
// only ever taken while holding (or before needing) a stripe lock, never the
// other way around.
type Maker struct {
	Repo   repository.Repository
	Engine *pricing.Engine
	Logger *zap.Logger
	Config config.MakerConfig

	mu        sync.Mutex
	locks     map[uint64]*sync.Mutex
	inventory map[invKey]int64
	positions map[posKey]position
}

func (m *Maker) spread() int64 {
	if m.Config.SpreadBps > 0 {
		return int64(m.Config.SpreadBps)
	}
	return 100
}

func (m *Maker) feeRate() int64 {
	if m.Config.FeeBps > 0 {
		return int64(m.Config.FeeBps)
	}
	return 10
}

func (m *Maker) maxAmount() int64 {
	if m.Config.MaxTradeAmount > 0 {
		return m.Config.MaxTradeAmount
	}
	return 1_000_000
}

func (m *Maker) lockFor(marketID uint64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = map[uint64]*sync.Mutex{}
	}
	if m.inventory == nil {
		m.inventory = map[invKey]int64{}
	}
	if m.positions == nil {
		m.positions = map[posKey]position{}
	}
	lock, ok := m.locks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[marketID] = lock
	}
	return lock
}

func (m *Maker) exposureOf(key invKey) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory[key]
}

func (m *Maker) positionOf(key posKey) (position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[key]
	return pos, ok
}

func normalizeSide(side string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case models.OutcomeYes:
		return models.OutcomeYes, nil
	case models.OutcomeNo:
		return models.OutcomeNo, nil
	}
	return "", ErrInvalidSide
}

func normalizeUser(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

func (m *Maker) checkAmount(amount int64) error {
	if amount <= 0 || amount > m.maxAmount() {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return nil
}

// anchor resolves the YES-space mid: live cache first, persisted snapshot
// second, neutral 5000 when the market has never priced. Always in [1,9999].
func (m *Maker) anchor(ctx context.Context, marketID uint64) int64 {
	if m.Engine != nil {
		if snap := m.Engine.GetCachedPricing(marketID); snap != nil {
			return int64(clampPrice(snap.HybridPriceBps))
		}
	}
	if m.Repo != nil {
		if row, err := m.Repo.GetPricingSnapshot(ctx, marketID); err == nil && row != nil {
			return int64(clampPrice(row.HybridPriceBps))
		} else if err != nil && m.Logger != nil {
			m.Logger.Warn("anchor snapshot read failed",
				zap.Uint64("market_id", marketID), zap.Error(err))
		}
	}
	return 5000
}

// Quote prices amount on one side without mutating any state.
func (m *Maker) Quote(ctx context.Context, marketID uint64, side string, amount int64) (*Quote, error) {
	side, err := normalizeSide(side)
	if err != nil {
		return nil, err
	}
	if err := m.checkAmount(amount); err != nil {
		return nil, err
	}
	m.lockFor(marketID)
	exposure := m.exposureOf(invKey{marketID, side})
	q := buildQuote(marketID, side, amount, m.anchor(ctx, marketID), exposure, m.spread(), m.feeRate())
	return &q, nil
}

// Buy fills at the ask, grows the user's weighted-average position and
// leaves the maker short the filled amount.
func (m *Maker) Buy(ctx context.Context, marketID uint64, side string, amount int64, user string) (*Fill, error) {
	side, err := normalizeSide(side)
	if err != nil {
		return nil, err
	}
	if err := m.checkAmount(amount); err != nil {
		return nil, err
	}
	user = normalizeUser(user)
	if user == "" {
		return nil, fmt.Errorf("maker: user address required")
	}

	lock := m.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	ik := invKey{marketID, side}
	pk := posKey{marketID, user, side}
	q := buildQuote(marketID, side, amount, m.anchor(ctx, marketID), m.exposureOf(ik), m.spread(), m.feeRate())
	price := q.AskBps
	notional := notionalFor(amount, price)
	fee := feeFor(notional, m.feeRate())

	trade := &models.Trade{
		TradeID:     uuid.NewString(),
		MarketID:    marketID,
		UserAddress: user,
		Outcome:     side,
		Amount:      amount,
		PriceBps:    price,
		Fee:         fee,
		Notional:    notional,
	}
	// The journal row is the trade's record of truth; a failed insert fails
	// the trade before any state moves.
	if err := m.Repo.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}

	pos, _ := m.positionOf(pk)
	pos.avgPriceBps = weightedAvgBps(pos.amount, pos.avgPriceBps, amount, price)
	pos.amount += amount

	m.mu.Lock()
	m.positions[pk] = pos
	m.inventory[ik] -= amount
	exposure := m.inventory[ik]
	m.mu.Unlock()

	m.persistPosition(ctx, marketID, user, side, pos)
	m.persistInventory(ctx, marketID, side, exposure)
	metrics.RecordTrade("buy", side, notional.InexactFloat64())

	return &Fill{
		TradeID:          trade.TradeID,
		MarketID:         marketID,
		Side:             side,
		UserAddress:      user,
		Amount:           amount,
		ExecutedPriceBps: price,
		FeeBps:           int(m.feeRate()),
		Fee:              fee,
		Notional:         notional,
		PositionAmount:   pos.amount,
		PositionAvgBps:   pos.avgPriceBps,
	}, nil
}

// Sell fills at the bid, capped at the held position. Selling with no
// position is ErrInsufficientPosition and records nothing.
func (m *Maker) Sell(ctx context.Context, marketID uint64, side string, amount int64, user string) (*Fill, error) {
	side, err := normalizeSide(side)
	if err != nil {
		return nil, err
	}
	if err := m.checkAmount(amount); err != nil {
		return nil, err
	}
	user = normalizeUser(user)
	if user == "" {
		return nil, fmt.Errorf("maker: user address required")
	}

	lock := m.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	ik := invKey{marketID, side}
	pk := posKey{marketID, user, side}
	pos, held := m.positionOf(pk)
	if !held || pos.amount <= 0 {
		return nil, ErrInsufficientPosition
	}
	fillAmount := amount
	if fillAmount > pos.amount {
		fillAmount = pos.amount
	}

	q := buildQuote(marketID, side, fillAmount, m.anchor(ctx, marketID), m.exposureOf(ik), m.spread(), m.feeRate())
	price := q.BidBps
	notional := notionalFor(fillAmount, price)
	fee := feeFor(notional, m.feeRate())

	trade := &models.Trade{
		TradeID:     uuid.NewString(),
		MarketID:    marketID,
		UserAddress: user,
		Outcome:     side,
		Amount:      -fillAmount,
		PriceBps:    price,
		Fee:         fee,
		Notional:    notional,
	}
	if err := m.Repo.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}

	pos.amount -= fillAmount
	closed := pos.amount <= 0

	m.mu.Lock()
	if closed {
		delete(m.positions, pk)
	} else {
		m.positions[pk] = pos
	}
	m.inventory[ik] += fillAmount
	exposure := m.inventory[ik]
	m.mu.Unlock()

	if closed {
		m.deletePosition(ctx, marketID, user, side)
	} else {
		m.persistPosition(ctx, marketID, user, side, pos)
	}
	m.persistInventory(ctx, marketID, side, exposure)
	metrics.RecordTrade("sell", side, notional.InexactFloat64())

	return &Fill{
		TradeID:          trade.TradeID,
		MarketID:         marketID,
		Side:             side,
		UserAddress:      user,
		Amount:           -fillAmount,
		ExecutedPriceBps: price,
		FeeBps:           int(m.feeRate()),
		Fee:              fee,
		Notional:         notional,
		PositionAmount:   pos.amount,
		PositionAvgBps:   pos.avgPriceBps,
	}, nil
}

// Position returns the in-memory holding for (market, user, side);
// zero-valued when absent.
func (m *Maker) Position(marketID uint64, user, side string) (amount int64, avgPriceBps int) {
	side, err := normalizeSide(side)
	if err != nil {
		return 0, 0
	}
	m.lockFor(marketID)
	pos, _ := m.positionOf(posKey{marketID, normalizeUser(user), side})
	return pos.amount, pos.avgPriceBps
}

// Inventory reports current net exposure rows, for the admin surface.
func (m *Maker) Inventory() []models.InventoryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.InventoryState, 0, len(m.inventory))
	for key, exposure := range m.inventory {
		out = append(out, models.InventoryState{
			MarketID:    key.marketID,
			Side:        key.side,
			NetExposure: exposure,
		})
	}
	return out
}

// Restore reloads inventory and positions from the registry after a restart.
func (m *Maker) Restore(ctx context.Context) error {
	if m.Repo == nil {
		return nil
	}
	states, err := m.Repo.ListInventoryStates(ctx)
	if err != nil {
		return fmt.Errorf("restore inventory: %w", err)
	}
	positionRows, err := m.loadAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}

	m.mu.Lock()
	m.inventory = map[invKey]int64{}
	for _, st := range states {
		m.inventory[invKey{st.MarketID, st.Side}] = st.NetExposure
	}
	m.positions = map[posKey]position{}
	for _, row := range positionRows {
		if row.Amount <= 0 {
			continue
		}
		m.positions[posKey{row.MarketID, row.UserAddress, row.Outcome}] = position{
			amount:      row.Amount,
			avgPriceBps: row.AvgPriceBps,
		}
	}
	m.mu.Unlock()

	if m.Logger != nil {
		m.Logger.Info("maker state restored",
			zap.Int("inventory_rows", len(states)),
			zap.Int("positions", len(positionRows)),
		)
	}
	return nil
}

func (m *Maker) loadAllPositions(ctx context.Context) ([]models.Position, error) {
	const batch = 500
	var all []models.Position
	for offset := 0; ; offset += batch {
		rows, err := m.Repo.ListPositions(ctx, repository.ListPositionsParams{Limit: batch, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < batch {
			return all, nil
		}
	}
}

func (m *Maker) persistPosition(ctx context.Context, marketID uint64, user, side string, pos position) {
	if m.Repo == nil {
		return
	}
	err := m.Repo.SavePosition(ctx, &models.Position{
		MarketID:    marketID,
		UserAddress: user,
		Outcome:     side,
		Amount:      pos.amount,
		AvgPriceBps: pos.avgPriceBps,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil && m.Logger != nil {
		m.Logger.Warn("position persist failed",
			zap.Uint64("market_id", marketID),
			zap.String("user", user),
			zap.String("side", side),
			zap.Error(err),
		)
	}
}

func (m *Maker) deletePosition(ctx context.Context, marketID uint64, user, side string) {
	if m.Repo == nil {
		return
	}
	if err := m.Repo.DeletePosition(ctx, marketID, user, side); err != nil && m.Logger != nil {
		m.Logger.Warn("position delete failed",
			zap.Uint64("market_id", marketID),
			zap.String("user", user),
			zap.String("side", side),
			zap.Error(err),
		)
	}
}

func (m *Maker) persistInventory(ctx context.Context, marketID uint64, side string, exposure int64) {
	if m.Repo == nil {
		return
	}
	err := m.Repo.SaveInventoryState(ctx, &models.InventoryState{
		MarketID:    marketID,
		Side:        side,
		NetExposure: exposure,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil && m.Logger != nil {
		m.Logger.Warn("inventory persist failed",
			zap.Uint64("market_id", marketID),
			zap.String("side", side),
			zap.Error(err),
		)
	}
}
