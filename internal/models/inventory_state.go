package models

import "time"

// InventoryState is the maker's net exposure per (market, side). It is
// written only by the maker's fill path, never by client requests.
type InventoryState struct {
	MarketID uint64 `gorm:"primaryKey"`
	Side     string `gorm:"primaryKey;type:varchar(8)"`

	NetExposure int64 `gorm:"not null;default:0"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (InventoryState) TableName() string {
	return "inventory_states"
}
