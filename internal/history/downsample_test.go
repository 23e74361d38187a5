package history

import (
	"context"
	"testing"
	"time"
)

func TestDownsampleThousandToCeiling(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]Point, 1000)
	for i := range points {
		points[i] = Point{
			Timestamp:            base.Add(time.Duration(i) * time.Minute),
			YesBps:               i,
			NoBps:                10000 - i,
			RaffleProbabilityBps: i,
			MarketSentimentBps:   5000,
			HybridPriceBps:       i,
		}
	}

	out, downsampled := Downsample(points, 500)
	if !downsampled {
		t.Fatal("expected downsampling")
	}
	if len(out) != 500 {
		t.Fatalf("points got=%d want=500", len(out))
	}
	// 2-point buckets: bucket k holds points 2k and 2k+1, so the mean
	// (2k+0.5) rounds up to 2k+1 and the middle timestamp is point 2k+1's.
	for k, p := range out {
		wantBps := 2*k + 1
		if p.HybridPriceBps != wantBps {
			t.Fatalf("bucket %d hybrid got=%d want=%d", k, p.HybridPriceBps, wantBps)
		}
		if p.YesBps != wantBps {
			t.Fatalf("bucket %d yes got=%d want=%d", k, p.YesBps, wantBps)
		}
		// Each field averages independently, so the .5 means of yes and no
		// both round up here.
		if p.NoBps != 10000-2*k {
			t.Fatalf("bucket %d no got=%d want=%d", k, p.NoBps, 10000-2*k)
		}
		wantTS := base.Add(time.Duration(2*k+1) * time.Minute)
		if !p.Timestamp.Equal(wantTS) {
			t.Fatalf("bucket %d timestamp got=%v want=%v", k, p.Timestamp, wantTS)
		}
		if p.MarketSentimentBps != 5000 {
			t.Fatalf("bucket %d sentiment got=%d want=5000", k, p.MarketSentimentBps)
		}
	}
}

func TestDownsampleMeanPreserved(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]Point, 1200)
	var total int64
	for i := range points {
		bps := (i * 7) % 10000
		points[i] = Point{Timestamp: base.Add(time.Duration(i) * time.Second), HybridPriceBps: bps}
		total += int64(bps)
	}
	fullMean := float64(total) / float64(len(points))

	out, downsampled := Downsample(points, 500)
	if !downsampled {
		t.Fatal("expected downsampling")
	}
	if len(out) > 500 {
		t.Fatalf("points got=%d want<=500", len(out))
	}
	var outTotal int64
	for _, p := range out {
		outTotal += int64(p.HybridPriceBps)
	}
	outMean := float64(outTotal) / float64(len(out))
	if diff := fullMean - outMean; diff > 1 || diff < -1 {
		t.Fatalf("mean drift got=%f full=%f sampled=%f", diff, fullMean, outMean)
	}
}

func TestDownsampleBelowCeilingUntouched(t *testing.T) {
	points := []Point{{HybridPriceBps: 1}, {HybridPriceBps: 2}}
	out, downsampled := Downsample(points, 500)
	if downsampled {
		t.Fatal("expected passthrough")
	}
	if len(out) != 2 {
		t.Fatalf("points got=%d want=2", len(out))
	}
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		rng  string
		want time.Duration
	}{
		{"all", 0},
		{"", 0},
		{"hour", time.Hour},
		{"day", 24 * time.Hour},
		{"week", 7 * 24 * time.Hour},
		{"month", 30 * 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseRange(tc.rng)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", tc.rng, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRange(%q) got=%v want=%v", tc.rng, got, tc.want)
		}
	}
	if _, err := ParseRange("fortnight"); err == nil {
		t.Fatal("expected error for unknown range")
	}
}

func TestMemoryStoreAppendAndRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	old := Point{Timestamp: now.Add(-2 * time.Hour), HybridPriceBps: 4000}
	recent := Point{Timestamp: now.Add(-10 * time.Minute), HybridPriceBps: 5200}
	latest := Point{Timestamp: now.Add(-time.Minute), HybridPriceBps: 5400}
	for _, p := range []Point{old, recent, latest} {
		if err := store.RecordOddsUpdate(ctx, 1, 42, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := store.GetHistoricalOdds(ctx, 1, 42, "all")
	if err != nil {
		t.Fatalf("range all: %v", err)
	}
	if all.Count != 3 || all.Downsampled {
		t.Fatalf("all got count=%d downsampled=%v want 3/false", all.Count, all.Downsampled)
	}

	hour, err := store.GetHistoricalOdds(ctx, 1, 42, "hour")
	if err != nil {
		t.Fatalf("range hour: %v", err)
	}
	if hour.Count != 2 {
		t.Fatalf("hour got count=%d want=2", hour.Count)
	}
	if hour.DataPoints[0].HybridPriceBps != 5200 {
		t.Fatalf("hour first got=%d want=5200", hour.DataPoints[0].HybridPriceBps)
	}

	other, err := store.GetHistoricalOdds(ctx, 1, 99, "all")
	if err != nil {
		t.Fatalf("range other: %v", err)
	}
	if other.Count != 0 {
		t.Fatalf("other market got count=%d want=0", other.Count)
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.MaxPoints = 2
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		p := Point{Timestamp: now.Add(time.Duration(i) * time.Second), HybridPriceBps: 100 + i}
		if err := store.RecordOddsUpdate(ctx, 1, 1, p); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	res, err := store.GetHistoricalOdds(ctx, 1, 1, "all")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("count got=%d want=2", res.Count)
	}
	if res.DataPoints[0].HybridPriceBps != 101 {
		t.Fatalf("oldest kept got=%d want=101", res.DataPoints[0].HybridPriceBps)
	}
}

func TestMemoryStoreSweepAndStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Retention = time.Hour
	now := time.Now().UTC()

	stale := Point{Timestamp: now.Add(-2 * time.Hour), HybridPriceBps: 4000}
	fresh := Point{Timestamp: now, HybridPriceBps: 5000}
	for _, p := range []Point{stale, fresh} {
		if err := store.RecordOddsUpdate(ctx, 3, 7, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	removed, err := store.Sweep(ctx, 3, 7)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed got=%d want=1", removed)
	}

	stats, err := store.Stats(ctx, 3, 7)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Points != 1 || !stats.HasPoints {
		t.Fatalf("stats points got=%d want=1", stats.Points)
	}
	if !stats.Oldest.Equal(fresh.Timestamp) || !stats.Newest.Equal(fresh.Timestamp) {
		t.Fatalf("stats bounds got=%v/%v want=%v", stats.Oldest, stats.Newest, fresh.Timestamp)
	}
	if stats.TTL <= 0 {
		t.Fatalf("stats ttl got=%v want>0", stats.TTL)
	}

	empty, err := store.Stats(ctx, 3, 8)
	if err != nil {
		t.Fatalf("stats empty: %v", err)
	}
	if empty.HasPoints || empty.Points != 0 {
		t.Fatalf("empty stats got points=%d", empty.Points)
	}
}
