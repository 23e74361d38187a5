package history

import (
	"context"
	"sync"
	"time"
)

type memSeries struct {
	points  []Point
	expires time.Time
}

// MemoryStore is the redis-less Store for tests and single-node deployments.
// Expiry is lazy, checked on access like the platform cache does.
type MemoryStore struct {
	Retention      time.Duration
	MaxPoints      int64
	DisplayCeiling int

	mu     sync.RWMutex
	series map[string]*memSeries
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: map[string]*memSeries{}}
}

func (s *MemoryStore) retention() time.Duration {
	if s.Retention > 0 {
		return s.Retention
	}
	return DefaultRetention
}

func (s *MemoryStore) maxPoints() int {
	if s.MaxPoints > 0 {
		return int(s.MaxPoints)
	}
	return DefaultMaxPoints
}

func (s *MemoryStore) ceiling() int {
	if s.DisplayCeiling > 0 {
		return s.DisplayCeiling
	}
	return DefaultDisplayCeiling
}

func (s *MemoryStore) RecordOddsUpdate(ctx context.Context, seasonID, marketID uint64, p Point) error {
	_ = ctx
	key := oddsKey(seasonID, marketID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.series == nil {
		s.series = map[string]*memSeries{}
	}
	sr := s.series[key]
	if sr == nil || s.expired(sr) {
		sr = &memSeries{}
		s.series[key] = sr
	}
	sr.points = append(sr.points, p)
	if over := len(sr.points) - s.maxPoints(); over > 0 {
		sr.points = append([]Point(nil), sr.points[over:]...)
	}
	sr.expires = time.Now().Add(s.retention())
	return nil
}

func (s *MemoryStore) GetHistoricalOdds(ctx context.Context, seasonID, marketID uint64, rng string) (*RangeResult, error) {
	_ = ctx
	lookback, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}
	points := s.snapshot(oddsKey(seasonID, marketID))
	now := time.Now().UTC()
	var since time.Time
	if lookback > 0 {
		since = now.Add(-lookback)
	}
	return shapeResult(windowPoints(points, since, now), s.ceiling()), nil
}

func (s *MemoryStore) Sweep(ctx context.Context, seasonID, marketID uint64) (int, error) {
	_ = ctx
	key := oddsKey(seasonID, marketID)
	cutoff := time.Now().UTC().Add(-s.retention())
	s.mu.Lock()
	defer s.mu.Unlock()
	sr := s.series[key]
	if sr == nil || s.expired(sr) {
		delete(s.series, key)
		return 0, nil
	}
	keep := 0
	for keep < len(sr.points) && sr.points[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0, nil
	}
	if keep == len(sr.points) {
		delete(s.series, key)
		return keep, nil
	}
	sr.points = append([]Point(nil), sr.points[keep:]...)
	return keep, nil
}

func (s *MemoryStore) Stats(ctx context.Context, seasonID, marketID uint64) (*KeyStats, error) {
	_ = ctx
	key := oddsKey(seasonID, marketID)
	s.mu.RLock()
	sr := s.series[key]
	stats := &KeyStats{}
	if sr != nil && !s.expired(sr) && len(sr.points) > 0 {
		stats.Points = int64(len(sr.points))
		stats.TTL = time.Until(sr.expires)
		stats.Oldest = sr.points[0].Timestamp
		stats.Newest = sr.points[len(sr.points)-1].Timestamp
		stats.HasPoints = true
	}
	s.mu.RUnlock()
	return stats, nil
}

func (s *MemoryStore) snapshot(key string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr := s.series[key]
	if sr == nil || s.expired(sr) {
		return nil
	}
	out := make([]Point, len(sr.points))
	copy(out, sr.points)
	return out
}

func (s *MemoryStore) expired(sr *memSeries) bool {
	return !sr.expires.IsZero() && time.Now().After(sr.expires)
}
