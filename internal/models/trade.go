package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the append-only fill journal. Amount is signed: positive for a
// user buy, negative for a user sell.
type Trade struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	TradeID string `gorm:"type:varchar(40);not null;uniqueIndex"`

	MarketID    uint64 `gorm:"not null;index"`
	UserAddress string `gorm:"type:varchar(64);not null;index"`
	Outcome     string `gorm:"type:varchar(8);not null"`

	Amount   int64           `gorm:"not null"`
	PriceBps int             `gorm:"not null"`
	Fee      int64           `gorm:"not null;default:0"`
	Notional decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Trade) TableName() string {
	return "trades"
}
