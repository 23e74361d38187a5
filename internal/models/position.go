package models

import "time"

const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"
)

// Position aggregates a user's holdings per (market, outcome). Amount is a
// share count and never goes negative; a position closed to zero is deleted.
type Position struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID    uint64 `gorm:"not null;uniqueIndex:ux_positions_market_user_outcome;index"`
	UserAddress string `gorm:"type:varchar(64);not null;uniqueIndex:ux_positions_market_user_outcome;index"`
	Outcome     string `gorm:"type:varchar(8);not null;uniqueIndex:ux_positions_market_user_outcome"`

	Amount      int64 `gorm:"not null;default:0"`
	AvgPriceBps int   `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
