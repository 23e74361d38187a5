package repository

import (
	"context"
	"time"

	"rafflemarkets/internal/models"
)

// Repository is the registry contract shared by the reconciler, pricing
// engine, maker and handlers. Implementations map "table missing" to empty
// results so read paths stay available during partial deployment.
type Repository interface {
	// Players
	GetPlayerByAddress(ctx context.Context, address string) (*models.Player, error)
	GetOrCreatePlayer(ctx context.Context, address string) (*models.Player, error)

	// Markets
	GetMarketByID(ctx context.Context, id uint64) (*models.Market, error)
	GetMarketByKey(ctx context.Context, seasonID, playerID uint64, marketType string) (*models.Market, error)
	GetMarketByAddress(ctx context.Context, address string) (*models.Market, error)
	CreateMarket(ctx context.Context, item *models.Market) error
	UpdateMarketProbability(ctx context.Context, id uint64, probabilityBps int) error
	UpdateMarketChainRefs(ctx context.Context, id uint64, conditionID, marketAddress string) error
	UpdateMarketPricing(ctx context.Context, id uint64, raffleBps, sentimentBps, hybridBps int) error
	SettleMarket(ctx context.Context, id uint64) error
	ListMarkets(ctx context.Context, params ListMarketsParams) ([]models.Market, error)
	CountMarkets(ctx context.Context, params ListMarketsParams) (int64, error)
	ListActiveMarketKeys(ctx context.Context, limit int) ([]MarketKey, error)

	// Pricing snapshots
	GetPricingSnapshot(ctx context.Context, marketID uint64) (*models.PricingSnapshot, error)
	SavePricingSnapshot(ctx context.Context, item *models.PricingSnapshot) error

	// Positions
	GetPosition(ctx context.Context, marketID uint64, user, outcome string) (*models.Position, error)
	SavePosition(ctx context.Context, item *models.Position) error
	DeletePosition(ctx context.Context, marketID uint64, user, outcome string) error
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)

	// Trades
	InsertTrade(ctx context.Context, item *models.Trade) error
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)

	// Maker inventory
	SaveInventoryState(ctx context.Context, item *models.InventoryState) error
	ListInventoryStates(ctx context.Context) ([]models.InventoryState, error)

	// Creation failures
	InsertCreationFailure(ctx context.Context, item *models.CreationFailure) error
	GetCreationFailureByID(ctx context.Context, id uint64) (*models.CreationFailure, error)
	ListCreationFailures(ctx context.Context, params ListCreationFailuresParams) ([]models.CreationFailure, error)
	ResolveCreationFailure(ctx context.Context, id uint64) error

	// Watcher checkpoints
	GetWatchCheckpoint(ctx context.Context, name string) (*models.WatchCheckpoint, error)
	SaveWatchCheckpoint(ctx context.Context, item *models.WatchCheckpoint) error
	ListWatchCheckpoints(ctx context.Context) ([]models.WatchCheckpoint, error)

	// System settings
	GetSystemSetting(ctx context.Context, key string) (*models.SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

// MarketKey identifies a market row plus the season scoping used by the
// history store and warm-up paths.
type MarketKey struct {
	ID       uint64 `json:"id"`
	SeasonID uint64 `json:"season_id"`
}

type ListMarketsParams struct {
	Limit   int
	Offset  int
	OrderBy string
	Asc     *bool

	SeasonID   *uint64
	PlayerID   *uint64
	MarketType *string
	Active     *bool
	Settled    *bool
}

type ListPositionsParams struct {
	Limit  int
	Offset int

	MarketID    *uint64
	UserAddress *string
}

type ListTradesParams struct {
	Limit  int
	Offset int

	MarketID    *uint64
	UserAddress *string
	Since       *time.Time
}

type ListCreationFailuresParams struct {
	Limit  int
	Offset int

	SeasonID *uint64
	Resolved *bool
}
