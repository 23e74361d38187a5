package maker

import (
	"github.com/shopspring/decimal"

	"rafflemarkets/internal/models"
)

const (
	minPriceBps = 1
	maxPriceBps = 9999

	skewDivisor = 1000
	skewMaxBps  = 50
)

// Quote is a two-sided price for one (market, side, amount) request.
// PriceBps and the notional/fee pair describe a buy at the ask.
type Quote struct {
	MarketID  uint64          `json:"market_id"`
	Side      string          `json:"side"`
	Amount    int64           `json:"amount"`
	AnchorBps int             `json:"anchor_bps"`
	MidBps    int             `json:"mid_bps"`
	BidBps    int             `json:"bid_bps"`
	AskBps    int             `json:"ask_bps"`
	PriceBps  int             `json:"price_bps"`
	FeeBps    int             `json:"fee_bps"`
	Notional  decimal.Decimal `json:"notional"`
	Fee       int64           `json:"fee"`
}

// Skew converts net exposure into a quote shift: one bps per thousand
// exposure, rounded half away from zero, clamped to +-50.
func Skew(netExposure int64) int {
	var s int64
	if netExposure >= 0 {
		s = (netExposure + skewDivisor/2) / skewDivisor
	} else {
		s = (netExposure - skewDivisor/2) / skewDivisor
	}
	if s > skewMaxBps {
		return skewMaxBps
	}
	if s < -skewMaxBps {
		return -skewMaxBps
	}
	return int(s)
}

func clampPrice(bps int) int {
	if bps < minPriceBps {
		return minPriceBps
	}
	if bps > maxPriceBps {
		return maxPriceBps
	}
	return bps
}

// buildQuote prices one side in YES space and mirrors for NO. The NO skew is
// the mirror image of the YES skew, and NO prices are the 10000-complement
// of YES prices, which keeps bid <= mid <= ask on both sides.
func buildQuote(marketID uint64, side string, amount int64, anchorBps, netExposure, spreadBps, feeBps int64) Quote {
	skew := Skew(netExposure)
	if side == models.OutcomeNo {
		skew = -skew
	}
	half := int(spreadBps / 2)

	yesMid := clampPrice(int(anchorBps) + skew)
	yesBid := clampPrice(yesMid - half)
	yesAsk := clampPrice(yesMid + half)

	mid, bid, ask := yesMid, yesBid, yesAsk
	if side == models.OutcomeNo {
		mid = 10000 - yesMid
		bid = 10000 - yesAsk
		ask = 10000 - yesBid
	}

	q := Quote{
		MarketID:  marketID,
		Side:      side,
		Amount:    amount,
		AnchorBps: int(anchorBps),
		MidBps:    mid,
		BidBps:    bid,
		AskBps:    ask,
		PriceBps:  ask,
		FeeBps:    int(feeBps),
	}
	q.Notional = notionalFor(amount, ask)
	q.Fee = feeFor(q.Notional, feeBps)
	return q
}

// notionalFor is collateral terms: amount shares at price/10000 each.
func notionalFor(amount int64, priceBps int) decimal.Decimal {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(priceBps))).
		Div(decimal.NewFromInt(10000))
}

// feeFor rounds notional*feeBps/10000 to the nearest whole collateral unit.
func feeFor(notional decimal.Decimal, feeBps int64) int64 {
	return notional.
		Mul(decimal.NewFromInt(feeBps)).
		Div(decimal.NewFromInt(10000)).
		Round(0).
		IntPart()
}

// weightedAvgBps folds a new fill into an existing position's entry price.
func weightedAvgBps(oldAmount int64, oldAvgBps int, fillAmount int64, fillPriceBps int) int {
	total := oldAmount + fillAmount
	if total <= 0 {
		return fillPriceBps
	}
	sum := oldAmount*int64(oldAvgBps) + fillAmount*int64(fillPriceBps)
	return int((sum + total/2) / total)
}
