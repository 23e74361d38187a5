package models

import "time"

// WatchCheckpoint is the durable cursor for one watcher subscription so a
// restart resumes from the last processed block instead of the chain head.
type WatchCheckpoint struct {
	Name        string `gorm:"primaryKey;type:varchar(80)"`
	BlockNumber uint64 `gorm:"not null;default:0"`

	LastError *string   `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (WatchCheckpoint) TableName() string {
	return "watch_checkpoints"
}
