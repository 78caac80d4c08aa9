package signal

// OIDelta returns the change in open interest and its per-second rate. The
// rate is 0 when no time elapsed.
func OIDelta(prevOI, currOI, dtSec float64) (delta, rate float64) {
	delta = currOI - prevOI
	if dtSec > 0 {
		rate = delta / dtSec
	}
	return delta, rate
}

// NowcastWeights are the blend weights of FundingNowcast.
type NowcastWeights struct {
	Est      float64 `yaml:"w_est"`
	Realized float64 `yaml:"w_realized"`
	Drift    float64 `yaml:"w_drift"`
	Momentum float64 `yaml:"w_momo"`
}

// DefaultNowcastWeights favours the venue's own estimate.
func DefaultNowcastWeights() NowcastWeights {
	return NowcastWeights{Est: 0.5, Realized: 0.2, Drift: 0.1, Momentum: 0.2}
}

// DefaultNowcastClamp bounds the nowcast to +/-1% per period.
const DefaultNowcastClamp = 0.01

// FundingNowcast blends the venue estimate, recent realized rates, mark/spot
// drift and leader momentum into a single funding estimate clamped to
// [-clampAbs, clampAbs].
func FundingNowcast(venueEst float64, recentRealized []float64, markSpotDrift, leaderMomentum float64, w NowcastWeights, clampAbs float64) float64 {
	v := w.Est*venueEst +
		w.Realized*Mean(recentRealized) +
		w.Drift*markSpotDrift +
		w.Momentum*leaderMomentum
	return Clamp(v, -clampAbs, clampAbs)
}
