package signal

import (
	"math"

	"cryptosignal/models"
)

const (
	// DefaultTopN is the ladder depth used by DepthWeightedSigma.
	DefaultTopN = 10
	// DefaultPriceTolerance is the price distance under which two levels of
	// consecutive snapshots are treated as the same level.
	DefaultPriceTolerance = 1e-9
	// DefaultSweepThresholdBps is the minimum spread widening flagged as a sweep.
	DefaultSweepThresholdBps = 10.0

	imbalanceLevels = 10
	bpsPerUnit      = 1e4
)

// SpreadZ is the price gap between two legs expressed in units of the
// spread's standard deviation. Non-positive sigma means no signal.
func SpreadZ(priceA, priceB, sigmaSpread float64) float64 {
	return ZScore(priceA-priceB, sigmaSpread)
}

// DepthWeightedSigma is the quantity-weighted standard deviation of level
// prices around the mid, pooling the top n levels of both sides.
func DepthWeightedSigma(bids, asks models.Ladder, topN int) float64 {
	bestBid, okBid := bids.Best()
	bestAsk, okAsk := asks.Best()
	if !okBid || !okAsk {
		return 0
	}
	mid := 0.5 * (bestBid.Price + bestAsk.Price)

	weights, variance := 0.0, 0.0
	for _, side := range []models.Ladder{bids.Top(topN), asks.Top(topN)} {
		for _, lvl := range side {
			w := nonNegative(lvl.Qty)
			d := lvl.Price - mid
			weights += w
			variance += w * d * d
		}
	}
	if weights <= 0 {
		return 0
	}
	return math.Sqrt(variance / weights)
}

// LOB10Imbalance compares resting bid and ask quantity over the top ten
// levels. The result lies in [-1, 1]; an empty book gives 0.
func LOB10Imbalance(bids, asks models.Ladder) float64 {
	sumBid := bids.Depth(imbalanceLevels)
	sumAsk := asks.Depth(imbalanceLevels)
	den := sumBid + sumAsk
	if den <= 0 {
		return 0
	}
	return (sumBid - sumAsk) / den
}

// CancelOptions tunes CancelVelocity. TopN <= 0 considers every level.
type CancelOptions struct {
	PriceTolerance float64
	TopN           int
}

// DefaultCancelOptions matches levels by exact price over the full ladder.
func DefaultCancelOptions() CancelOptions {
	return CancelOptions{PriceTolerance: DefaultPriceTolerance}
}

// levelMap aggregates quantity per price and remembers first-seen order so
// tolerance matching is deterministic.
type levelMap struct {
	prices []float64
	qty    map[float64]float64
}

func newLevelMap(levels models.Ladder, topN int) levelMap {
	m := levelMap{qty: make(map[float64]float64, len(levels))}
	for i, lvl := range levels {
		if topN > 0 && i >= topN {
			break
		}
		if _, seen := m.qty[lvl.Price]; !seen {
			m.prices = append(m.prices, lvl.Price)
		}
		m.qty[lvl.Price] += nonNegative(lvl.Qty)
	}
	return m
}

func (m levelMap) total() float64 {
	sum := 0.0
	for _, p := range m.prices {
		sum += m.qty[p]
	}
	return sum
}

func (m levelMap) match(price, tolerance float64) float64 {
	if q, ok := m.qty[price]; ok {
		return q
	}
	for _, p := range m.prices {
		if math.Abs(p-price) <= tolerance {
			return m.qty[p]
		}
	}
	return 0
}

// CancelVelocity estimates the fraction of previously resting quantity that
// is gone in the current snapshot of the same side. Result is in [0, 1].
func CancelVelocity(prev, curr models.Ladder, opts CancelOptions) float64 {
	prevMap := newLevelMap(prev, opts.TopN)
	currMap := newLevelMap(curr, opts.TopN)

	prevTotal := prevMap.total()
	if prevTotal <= 0 {
		return 0
	}

	removed := 0.0
	for _, p := range prevMap.prices {
		removed += nonNegative(prevMap.qty[p] - currMap.match(p, opts.PriceTolerance))
	}
	return Clamp(removed/prevTotal, 0, 1)
}

// SweepDetector reports whether the best bid/ask spread widened by at least
// thresholdBps of the previous mid between two snapshots.
func SweepDetector(prevBids, currBids, prevAsks, currAsks models.Ladder, thresholdBps float64) bool {
	pb, ok1 := prevBids.Best()
	cb, ok2 := currBids.Best()
	pa, ok3 := prevAsks.Best()
	ca, ok4 := currAsks.Best()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}

	prevMid := 0.5 * (pb.Price + pa.Price)
	if prevMid <= 0 {
		return false
	}

	prevSpread := nonNegative(pa.Price - pb.Price)
	currSpread := nonNegative(ca.Price - cb.Price)
	if currSpread <= prevSpread {
		return false
	}
	return (currSpread-prevSpread)/prevMid*bpsPerUnit >= thresholdBps
}
