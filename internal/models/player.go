package models

import "time"

// Player is created lazily the first time an address shows up in a chain event.
// Rows are never deleted.
type Player struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Address string `gorm:"type:varchar(64);not null;uniqueIndex"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Player) TableName() string {
	return "players"
}
