package models

import "time"

const (
	MarketTypeWinnerPrediction = "WINNER_PREDICTION"
	MarketTypePositionSize     = "POSITION_SIZE"
	MarketTypeBehavioral       = "BEHAVIORAL"
	MarketTypeTotalTickets     = "TOTAL_TICKETS"
)

// Market is the registry row for one prediction market. At most one
// non-deleted row may exist per (season, player, market type); creation
// happens only through the reconciler, never through a client write.
type Market struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	SeasonID   uint64 `gorm:"not null;uniqueIndex:ux_markets_season_player_type;index"`
	PlayerID   uint64 `gorm:"not null;uniqueIndex:ux_markets_season_player_type;index"`
	MarketType string `gorm:"type:varchar(32);not null;uniqueIndex:ux_markets_season_player_type"`

	ConditionID   *string `gorm:"type:varchar(80)"`
	MarketAddress *string `gorm:"type:varchar(64);index"`

	RaffleProbabilityBps int `gorm:"not null;default:0"`
	MarketSentimentBps   int `gorm:"not null;default:5000"`
	HybridPriceBps       int `gorm:"not null;default:5000"`

	IsActive  bool `gorm:"not null;default:true;index"`
	IsSettled bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (Market) TableName() string {
	return "markets"
}
