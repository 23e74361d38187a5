package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each (season, market) series as a Redis list in append
// order. Zero-value limits fall back to the package defaults.
type RedisStore struct {
	Client         *redis.Client
	Retention      time.Duration
	MaxPoints      int64
	DisplayCeiling int
}

func NewRedisStore(opt *redis.Options) *RedisStore {
	return &RedisStore{Client: redis.NewClient(opt)}
}

func (s *RedisStore) retention() time.Duration {
	if s.Retention > 0 {
		return s.Retention
	}
	return DefaultRetention
}

func (s *RedisStore) maxPoints() int64 {
	if s.MaxPoints > 0 {
		return s.MaxPoints
	}
	return DefaultMaxPoints
}

func (s *RedisStore) ceiling() int {
	if s.DisplayCeiling > 0 {
		return s.DisplayCeiling
	}
	return DefaultDisplayCeiling
}

// RecordOddsUpdate appends one point, trims the list to the max point count
// (oldest first) and refreshes the retention TTL, all in one pipeline.
func (s *RedisStore) RecordOddsUpdate(ctx context.Context, seasonID, marketID uint64, p Point) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode point: %w", err)
	}
	key := oddsKey(seasonID, marketID)
	pipe := s.Client.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -s.maxPoints(), -1)
	pipe.Expire(ctx, key, s.retention())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GetHistoricalOdds(ctx context.Context, seasonID, marketID uint64, rng string) (*RangeResult, error) {
	lookback, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}
	points, err := s.load(ctx, oddsKey(seasonID, marketID))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var since time.Time
	if lookback > 0 {
		since = now.Add(-lookback)
	}
	return shapeResult(windowPoints(points, since, now), s.ceiling()), nil
}

// Sweep drops points older than the retention window even when the key TTL
// was refreshed past them. Returns the number removed.
func (s *RedisStore) Sweep(ctx context.Context, seasonID, marketID uint64) (int, error) {
	key := oddsKey(seasonID, marketID)
	points, err := s.load(ctx, key)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-s.retention())
	keep := 0
	for keep < len(points) && points[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0, nil
	}
	if keep == len(points) {
		if err := s.Client.Del(ctx, key).Err(); err != nil {
			return 0, fmt.Errorf("sweep %s: %w", key, err)
		}
		return keep, nil
	}
	if err := s.Client.LTrim(ctx, key, int64(keep), -1).Err(); err != nil {
		return 0, fmt.Errorf("sweep %s: %w", key, err)
	}
	return keep, nil
}

func (s *RedisStore) Stats(ctx context.Context, seasonID, marketID uint64) (*KeyStats, error) {
	key := oddsKey(seasonID, marketID)
	count, err := s.Client.LLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", key, err)
	}
	stats := &KeyStats{Points: count}
	if count == 0 {
		return stats, nil
	}
	ttl, err := s.Client.TTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", key, err)
	}
	stats.TTL = ttl

	first, err := s.loadAt(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	last, err := s.loadAt(ctx, key, -1)
	if err != nil {
		return nil, err
	}
	if first != nil {
		stats.Oldest = first.Timestamp
		stats.HasPoints = true
	}
	if last != nil {
		stats.Newest = last.Timestamp
	}
	return stats, nil
}

func (s *RedisStore) load(ctx context.Context, key string) ([]Point, error) {
	raw, err := s.Client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	points := make([]Point, 0, len(raw))
	for _, item := range raw {
		var p Point
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

func (s *RedisStore) loadAt(ctx context.Context, key string, index int64) (*Point, error) {
	item, err := s.Client.LIndex(ctx, key, index).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s[%d]: %w", key, index, err)
	}
	var p Point
	if err := json.Unmarshal([]byte(item), &p); err != nil {
		return nil, nil
	}
	return &p, nil
}
