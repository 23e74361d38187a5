package history

import "time"

// windowPoints keeps points within [since, until]. A zero since means
// unbounded lookback. Input is assumed to be in append (timestamp) order.
func windowPoints(points []Point, since, until time.Time) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if !since.IsZero() && p.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && p.Timestamp.After(until) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Downsample buckets a series down to at most ceiling points. Buckets are
// ceil(n/ceiling) consecutive points; each emits the bucket's middle
// timestamp and the rounded mean of every numeric field.
func Downsample(points []Point, ceiling int) ([]Point, bool) {
	if ceiling <= 0 || len(points) <= ceiling {
		return points, false
	}
	bucket := (len(points) + ceiling - 1) / ceiling
	out := make([]Point, 0, ceiling)
	for i := 0; i < len(points); i += bucket {
		j := i + bucket
		if j > len(points) {
			j = len(points)
		}
		out = append(out, bucketPoint(points[i:j]))
	}
	return out, true
}

func bucketPoint(ps []Point) Point {
	var yes, no, hybrid, raffle, market int64
	for _, p := range ps {
		yes += int64(p.YesBps)
		no += int64(p.NoBps)
		hybrid += int64(p.HybridPriceBps)
		raffle += int64(p.RaffleProbabilityBps)
		market += int64(p.MarketSentimentBps)
	}
	n := int64(len(ps))
	return Point{
		Timestamp:            ps[len(ps)/2].Timestamp,
		YesBps:               roundDiv(yes, n),
		NoBps:                roundDiv(no, n),
		HybridPriceBps:       roundDiv(hybrid, n),
		RaffleProbabilityBps: roundDiv(raffle, n),
		MarketSentimentBps:   roundDiv(market, n),
	}
}

// roundDiv rounds sum/n to the nearest integer; sums are non-negative here.
func roundDiv(sum, n int64) int {
	return int((sum + n/2) / n)
}

func shapeResult(points []Point, ceiling int) *RangeResult {
	shaped, downsampled := Downsample(points, ceiling)
	return &RangeResult{
		DataPoints:  shaped,
		Count:       len(shaped),
		Downsampled: downsampled,
	}
}
