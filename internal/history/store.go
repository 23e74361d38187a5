package history

import (
	"context"
	"fmt"
	"time"
)

// Point is one recorded odds observation. YES tracks the hybrid price and
// NO its complement; both are stored so charts never re-derive them.
type Point struct {
	Timestamp            time.Time `json:"t"`
	YesBps               int       `json:"yes_bps"`
	NoBps                int       `json:"no_bps"`
	HybridPriceBps       int       `json:"hybrid_bps"`
	RaffleProbabilityBps int       `json:"raffle_bps"`
	MarketSentimentBps   int       `json:"sentiment_bps"`
}

// RangeResult is a shaped series ready for charting. Count is the number of
// returned points; Downsampled reports whether bucketing was applied.
type RangeResult struct {
	DataPoints  []Point `json:"data_points"`
	Count       int     `json:"count"`
	Downsampled bool    `json:"downsampled"`
}

// KeyStats describes one (season, market) series for operational monitoring.
type KeyStats struct {
	Points    int64         `json:"points"`
	TTL       time.Duration `json:"ttl"`
	Oldest    time.Time     `json:"oldest"`
	Newest    time.Time     `json:"newest"`
	HasPoints bool          `json:"has_points"`
}

// Store retains bounded per-market odds series. Append failures are returned
// to the caller; the price-update path logs and swallows them because history
// is non-critical there.
type Store interface {
	RecordOddsUpdate(ctx context.Context, seasonID, marketID uint64, p Point) error
	GetHistoricalOdds(ctx context.Context, seasonID, marketID uint64, rng string) (*RangeResult, error)
	Sweep(ctx context.Context, seasonID, marketID uint64) (int, error)
	Stats(ctx context.Context, seasonID, marketID uint64) (*KeyStats, error)
}

const (
	DefaultRetention      = 90 * 24 * time.Hour
	DefaultMaxPoints      = 5000
	DefaultDisplayCeiling = 500
)

func oddsKey(seasonID, marketID uint64) string {
	return fmt.Sprintf("odds:%d:%d", seasonID, marketID)
}

// ParseRange maps a named range to its lookback window. "all" (or empty)
// means no lower bound.
func ParseRange(rng string) (time.Duration, error) {
	switch rng {
	case "", "all":
		return 0, nil
	case "hour":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	case "month":
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown range %q", rng)
}

// NormalizeRange names the effective range, folding empty to "all".
func NormalizeRange(rng string) string {
	if rng == "" {
		return "all"
	}
	return rng
}
