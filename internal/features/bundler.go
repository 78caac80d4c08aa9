// Package features assembles elementary signals into the fixed feature
// bundles consumed by the convergence and funding-harvest strategies.
package features

import (
	"cryptosignal/internal/signal"
	"cryptosignal/models"
)

const (
	depthLevels = 10
	// minElapsedSec keeps update rates finite for single-snapshot series.
	minElapsedSec = 0.001
	// RealizedLookback is the number of trailing funding records averaged as
	// the realized component of the nowcast.
	RealizedLookback = 5
)

// MakeLLCAFeatures builds the cross-venue convergence bundle from two
// time-ordered series of books for the same instrument.
func MakeLLCAFeatures(booksA, booksB []models.OrderBook, healthA, healthB float64) models.LLCAFeatures {
	out := models.LLCAFeatures{HealthMin: min(healthA, healthB)}
	if len(booksA) == 0 || len(booksB) == 0 {
		return out
	}

	n := min(len(booksA), len(booksB))
	spreads := make([]float64, n)
	for i := 0; i < n; i++ {
		spreads[i] = booksA[i].Mid() - booksB[i].Mid()
	}
	sigma := signal.PopStdDev(spreads)

	lastA := booksA[len(booksA)-1]
	lastB := booksB[len(booksB)-1]
	out.Z = signal.SpreadZ(lastA.Mid(), lastB.Mid(), sigma)

	depthA := bookDepth(lastA)
	depthB := bookDepth(lastB)
	if depthB > 0 {
		out.DepthRatio = depthA / depthB
	}

	out.Imbalance = 0.5 * (signal.LOB10Imbalance(lastA.Bids, lastA.Asks) + signal.LOB10Imbalance(lastB.Bids, lastB.Asks))
	out.UpdateRate = 0.5 * (updateRate(booksA) + updateRate(booksB))
	return out
}

func bookDepth(b models.OrderBook) float64 {
	return b.Bids.Depth(depthLevels) + b.Asks.Depth(depthLevels)
}

// updateRate is snapshots per second across the series, with timestamps in
// milliseconds.
func updateRate(books []models.OrderBook) float64 {
	elapsed := float64(books[len(books)-1].Ts-books[0].Ts) / 1000
	if elapsed < minElapsedSec {
		elapsed = minElapsedSec
	}
	return float64(len(books)) / elapsed
}

// HFHOptions parameterizes the funding nowcast used by the harvest bundle.
type HFHOptions struct {
	Weights  signal.NowcastWeights
	ClampAbs float64
}

// DefaultHFHOptions returns the standard nowcast blend.
func DefaultHFHOptions() HFHOptions {
	return HFHOptions{Weights: signal.DefaultNowcastWeights(), ClampAbs: signal.DefaultNowcastClamp}
}

// MakeHFHFeatures builds the funding-harvest bundle from a time-ordered
// funding window using the default nowcast blend.
func MakeHFHFeatures(window []models.Funding, volEst, markSpotDrift float64) models.HFHFeatures {
	return MakeHFHFeaturesWith(window, volEst, markSpotDrift, DefaultHFHOptions())
}

// MakeHFHFeaturesWith is MakeHFHFeatures with explicit nowcast options.
func MakeHFHFeaturesWith(window []models.Funding, volEst, markSpotDrift float64, opts HFHOptions) models.HFHFeatures {
	var venueEst, momentum float64
	var realized []float64

	if n := len(window); n > 0 {
		venueEst = window[n-1].EstRate
		start := max(n-RealizedLookback, 0)
		realized = make([]float64, 0, n-start)
		for _, f := range window[start:] {
			realized = append(realized, f.EstRate)
		}
		if n >= 2 {
			momentum = window[n-1].EstRate - window[0].EstRate
		}
	}

	return models.HFHFeatures{
		ExpectedFunding: signal.FundingNowcast(venueEst, realized, markSpotDrift, momentum, opts.Weights, opts.ClampAbs),
		SigmaT:          volEst,
	}
}
