package models

import "time"

// PricingSnapshot is the persisted twin of the pricing engine's in-memory
// cache entry: one current row per market, mutated on every recompute.
// Weight fields always sum to 10000.
type PricingSnapshot struct {
	MarketID uint64 `gorm:"primaryKey"`

	RaffleProbabilityBps int `gorm:"not null;default:0"`
	MarketSentimentBps   int `gorm:"not null;default:5000"`
	HybridPriceBps       int `gorm:"not null;default:5000"`
	RaffleWeightBps      int `gorm:"not null;default:7000"`
	MarketWeightBps      int `gorm:"not null;default:3000"`

	LastUpdated time.Time `gorm:"type:timestamptz;not null"`
}

func (PricingSnapshot) TableName() string {
	return "pricing_snapshots"
}
