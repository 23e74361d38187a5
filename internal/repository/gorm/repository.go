package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rafflemarkets/internal/models"
	"rafflemarkets/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- players ----------------------------------------------------------------

func (s *Store) GetPlayerByAddress(ctx context.Context, address string) (*models.Player, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	address = normalizeAddress(address)
	if address == "" {
		return nil, nil
	}
	var item models.Player
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOrCreatePlayer(ctx context.Context, address string) (*models.Player, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	address = normalizeAddress(address)
	if address == "" {
		return nil, nil
	}
	item := models.Player{Address: address}
	err := s.db.WithContext(ctx).
		Where("address = ?", address).
		FirstOrCreate(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- markets ----------------------------------------------------------------

func (s *Store) GetMarketByID(ctx context.Context, id uint64) (*models.Market, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Market
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetMarketByKey(ctx context.Context, seasonID, playerID uint64, marketType string) (*models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	marketType = strings.TrimSpace(marketType)
	if marketType == "" {
		return nil, nil
	}
	var item models.Market
	err := s.db.WithContext(ctx).
		Where("season_id = ? AND player_id = ? AND market_type = ?", seasonID, playerID, marketType).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetMarketByAddress(ctx context.Context, address string) (*models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	address = normalizeAddress(address)
	if address == "" {
		return nil, nil
	}
	var item models.Market
	err := s.db.WithContext(ctx).Where("market_address = ?", address).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateMarket(ctx context.Context, item *models.Market) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.MarketAddress != nil {
		addr := normalizeAddress(*item.MarketAddress)
		item.MarketAddress = &addr
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateMarketProbability(ctx context.Context, id uint64, probabilityBps int) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Market{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"raffle_probability_bps": probabilityBps,
			"updated_at":             time.Now().UTC(),
		}).Error
}

// UpdateMarketChainRefs fills condition id and AMM address on a registry row
// once the on-chain side is known. Empty arguments leave the column alone.
func (s *Store) UpdateMarketChainRefs(ctx context.Context, id uint64, conditionID, marketAddress string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if conditionID != "" {
		updates["condition_id"] = conditionID
	}
	if addr := normalizeAddress(marketAddress); addr != "" {
		updates["market_address"] = addr
	}
	if len(updates) == 1 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Market{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) UpdateMarketPricing(ctx context.Context, id uint64, raffleBps, sentimentBps, hybridBps int) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Market{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"raffle_probability_bps": raffleBps,
			"market_sentiment_bps":   sentimentBps,
			"hybrid_price_bps":       hybridBps,
			"updated_at":             time.Now().UTC(),
		}).Error
}

func (s *Store) SettleMarket(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Market{}).
		Where("id = ? AND is_settled = ?", id, false).
		Updates(map[string]any{
			"is_active":  false,
			"is_settled": true,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyMarketFilters(s.db.WithContext(ctx).Model(&models.Market{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "updated_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Market
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

func (s *Store) CountMarkets(ctx context.Context, params repository.ListMarketsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyMarketFilters(s.db.WithContext(ctx).Model(&models.Market{}), params)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		if missingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ListActiveMarketKeys(ctx context.Context, limit int) ([]repository.MarketKey, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	// Internal scan path (warm-up, sweeps), so the client paging cap does not apply.
	if limit <= 0 {
		limit = 500
	}
	var rows []repository.MarketKey
	err := s.db.WithContext(ctx).
		Model(&models.Market{}).
		Select("id, season_id").
		Where("is_active = ?", true).
		Order("id asc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}

func applyMarketFilters(query *gorm.DB, params repository.ListMarketsParams) *gorm.DB {
	if params.SeasonID != nil {
		query = query.Where("season_id = ?", *params.SeasonID)
	}
	if params.PlayerID != nil {
		query = query.Where("player_id = ?", *params.PlayerID)
	}
	if params.MarketType != nil && strings.TrimSpace(*params.MarketType) != "" {
		query = query.Where("market_type = ?", strings.TrimSpace(*params.MarketType))
	}
	if params.Active != nil {
		query = query.Where("is_active = ?", *params.Active)
	}
	if params.Settled != nil {
		query = query.Where("is_settled = ?", *params.Settled)
	}
	return query
}

// --- pricing snapshots ------------------------------------------------------

func (s *Store) GetPricingSnapshot(ctx context.Context, marketID uint64) (*models.PricingSnapshot, error) {
	if s == nil || s.db == nil || marketID == 0 {
		return nil, nil
	}
	var item models.PricingSnapshot
	err := s.db.WithContext(ctx).Where("market_id = ?", marketID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePricingSnapshot(ctx context.Context, item *models.PricingSnapshot) error {
	if s == nil || s.db == nil || item == nil || item.MarketID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"raffle_probability_bps",
			"market_sentiment_bps",
			"hybrid_price_bps",
			"raffle_weight_bps",
			"market_weight_bps",
			"last_updated",
		}),
	}).Create(item).Error
}

// --- positions --------------------------------------------------------------

func (s *Store) GetPosition(ctx context.Context, marketID uint64, user, outcome string) (*models.Position, error) {
	if s == nil || s.db == nil || marketID == 0 {
		return nil, nil
	}
	user = normalizeAddress(user)
	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	if user == "" || outcome == "" {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).
		Where("market_id = ? AND user_address = ? AND outcome = ?", marketID, user, outcome).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil || item.MarketID == 0 {
		return nil
	}
	item.UserAddress = normalizeAddress(item.UserAddress)
	item.Outcome = strings.ToUpper(strings.TrimSpace(item.Outcome))
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}, {Name: "user_address"}, {Name: "outcome"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"amount",
			"avg_price_bps",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) DeletePosition(ctx context.Context, marketID uint64, user, outcome string) error {
	if s == nil || s.db == nil || marketID == 0 {
		return nil
	}
	user = normalizeAddress(user)
	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	if user == "" || outcome == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("market_id = ? AND user_address = ? AND outcome = ?", marketID, user, outcome).
		Delete(&models.Position{}).Error
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.MarketID != nil && *params.MarketID != 0 {
		query = query.Where("market_id = ?", *params.MarketID)
	}
	if params.UserAddress != nil && strings.TrimSpace(*params.UserAddress) != "" {
		query = query.Where("user_address = ?", normalizeAddress(*params.UserAddress))
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Position
	if err := query.Order("updated_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// --- trades -----------------------------------------------------------------

func (s *Store) InsertTrade(ctx context.Context, item *models.Trade) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UserAddress = normalizeAddress(item.UserAddress)
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Trade{})
	if params.MarketID != nil && *params.MarketID != 0 {
		query = query.Where("market_id = ?", *params.MarketID)
	}
	if params.UserAddress != nil && strings.TrimSpace(*params.UserAddress) != "" {
		query = query.Where("user_address = ?", normalizeAddress(*params.UserAddress))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Trade
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// --- maker inventory --------------------------------------------------------

func (s *Store) SaveInventoryState(ctx context.Context, item *models.InventoryState) error {
	if s == nil || s.db == nil || item == nil || item.MarketID == 0 {
		return nil
	}
	item.Side = strings.ToUpper(strings.TrimSpace(item.Side))
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "market_id"}, {Name: "side"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"net_exposure",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListInventoryStates(ctx context.Context) ([]models.InventoryState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.InventoryState
	if err := s.db.WithContext(ctx).
		Model(&models.InventoryState{}).
		Order("market_id asc").
		Find(&items).Error; err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// --- creation failures ------------------------------------------------------

func (s *Store) InsertCreationFailure(ctx context.Context, item *models.CreationFailure) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.PlayerAddress = normalizeAddress(item.PlayerAddress)
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetCreationFailureByID(ctx context.Context, id uint64) (*models.CreationFailure, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.CreationFailure
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCreationFailures(ctx context.Context, params repository.ListCreationFailuresParams) ([]models.CreationFailure, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.CreationFailure{})
	if params.SeasonID != nil {
		query = query.Where("season_id = ?", *params.SeasonID)
	}
	if params.Resolved != nil {
		query = query.Where("resolved = ?", *params.Resolved)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.CreationFailure
	if err := query.Order("updated_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

func (s *Store) ResolveCreationFailure(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.CreationFailure{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"resolved":   true,
			"updated_at": time.Now().UTC(),
		}).Error
}

// --- watcher checkpoints ----------------------------------------------------

func (s *Store) GetWatchCheckpoint(ctx context.Context, name string) (*models.WatchCheckpoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var item models.WatchCheckpoint
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveWatchCheckpoint(ctx context.Context, item *models.WatchCheckpoint) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"block_number",
			"last_error",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListWatchCheckpoints(ctx context.Context) ([]models.WatchCheckpoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WatchCheckpoint
	if err := s.db.WithContext(ctx).
		Model(&models.WatchCheckpoint{}).
		Order("name asc").
		Find(&items).Error; err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// --- system settings --------------------------------------------------------

func (s *Store) GetSystemSetting(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || missingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).
		Model(&models.SystemSetting{}).
		Order("key asc").
		Find(&items).Error; err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// missingTable keeps read paths available before migrations have run:
// an undefined-table error is reported by postgres as SQLSTATE 42P01.
func missingTable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "42P01") || strings.Contains(msg, "does not exist")
}
