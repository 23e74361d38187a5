package models

import "time"

// CreationFailure records a market-creation attempt that exhausted its retry
// budget. Rows stay until an operator re-drives or resolves them.
type CreationFailure struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	SeasonID      uint64 `gorm:"not null;index"`
	PlayerAddress string `gorm:"type:varchar(64);not null;index"`
	MarketType    string `gorm:"type:varchar(32);not null"`

	ProbabilityBps int    `gorm:"not null;default:0"`
	Attempts       int    `gorm:"not null;default:0"`
	LastError      string `gorm:"type:text"`
	Resolved       bool   `gorm:"not null;default:false;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CreationFailure) TableName() string {
	return "creation_failures"
}
