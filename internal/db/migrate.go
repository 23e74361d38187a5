package db

import (
	"rafflemarkets/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Player{},
		&models.Market{},
		&models.PricingSnapshot{},
		&models.Position{},
		&models.Trade{},
		&models.InventoryState{},
		&models.CreationFailure{},
		&models.WatchCheckpoint{},
		&models.SystemSetting{},
	)
}
