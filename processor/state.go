package processor

import (
	"math"
	"time"

	"github.com/google/uuid"

	appconfig "cryptosignal/config"
	"cryptosignal/internal/features"
	"cryptosignal/internal/signal"
	"cryptosignal/internal/timeutil"
	"cryptosignal/models"
)

// stateOptions are the per-pair window and threshold settings.
type stateOptions struct {
	window         int
	fundingWindow  int
	volMinReturns  int
	volSpan        int
	hfh            features.HFHOptions
	healthMin      [2]float64
	ntpThresholdMs int64
}

func newStateOptions(cfg *appconfig.Config, pair appconfig.PairConfig) stateOptions {
	return stateOptions{
		window:        cfg.Processor.Window,
		fundingWindow: cfg.Processor.FundingWindow,
		volMinReturns: cfg.Processor.VolMinReturns,
		volSpan:       volSpan(cfg),
		hfh: features.HFHOptions{
			Weights:  cfg.HFH.Nowcast,
			ClampAbs: cfg.HFH.NowcastClamp,
		},
		healthMin: [2]float64{
			cfg.Risk.HealthThreshold(pair.VenueA),
			cfg.Risk.HealthThreshold(pair.VenueB),
		},
		ntpThresholdMs: cfg.Risk.NTPThresholdMs,
	}
}

// pairState holds the sliding windows of one pair. It is owned by a single
// worker and never shared.
type pairState struct {
	pair    appconfig.PairConfig
	name    string
	opts    stateOptions
	books   [2][]models.OrderBook
	funding [2][]models.Funding
	lastOI  [2][]models.OpenInterest
	legs    [2]models.LegSignals
}

func newPairState(pair appconfig.PairConfig, opts stateOptions) *pairState {
	s := &pairState{pair: pair, name: pair.Name(), opts: opts}
	s.legs[0].Venue = pair.VenueA
	s.legs[1].Venue = pair.VenueB
	return s
}

// apply folds one event into the windows and reports whether it was a book
// tick with both legs quoted.
func (s *pairState) apply(ev models.MarketEvent) bool {
	leg := ev.Leg
	switch ev.Kind {
	case models.EventBook:
		if ev.Book == nil {
			return false
		}
		s.books[leg] = pushWindow(s.books[leg], *ev.Book, s.opts.window)
		s.updateBookSignals(leg)
		return len(s.books[0]) > 0 && len(s.books[1]) > 0
	case models.EventOI:
		if ev.OI != nil {
			s.lastOI[leg] = pushWindow(s.lastOI[leg], *ev.OI, 2)
			s.updateOISignals(leg)
		}
	case models.EventFunding:
		if ev.Funding != nil {
			s.funding[leg] = pushWindow(s.funding[leg], *ev.Funding, s.opts.fundingWindow)
		}
	case models.EventIndexMark:
		if ev.IndexMark != nil {
			s.legs[leg].MarkSpotDrift = ev.IndexMark.Drift()
		}
	}
	return false
}

func (s *pairState) updateBookSignals(leg int) {
	books := s.books[leg]
	curr := books[len(books)-1]
	sig := &s.legs[leg]

	sig.Mid = curr.Mid()
	sig.Depth = curr.Bids.Depth(signal.DefaultTopN) + curr.Asks.Depth(signal.DefaultTopN)
	sig.DepthSigma = signal.DepthWeightedSigma(curr.Bids, curr.Asks, signal.DefaultTopN)
	sig.Imbalance = signal.LOB10Imbalance(curr.Bids, curr.Asks)
	sig.VolEst = volEstimate(books, s.opts.volSpan, s.opts.volMinReturns)

	if len(books) < 2 {
		sig.CancelVelocityBids, sig.CancelVelocityAsks, sig.Sweep = 0, 0, false
		return
	}
	prev := books[len(books)-2]
	opts := signal.DefaultCancelOptions()
	sig.CancelVelocityBids = signal.CancelVelocity(prev.Bids, curr.Bids, opts)
	sig.CancelVelocityAsks = signal.CancelVelocity(prev.Asks, curr.Asks, opts)
	sig.Sweep = signal.SweepDetector(prev.Bids, curr.Bids, prev.Asks, curr.Asks, signal.DefaultSweepThresholdBps)
}

func (s *pairState) updateOISignals(leg int) {
	ois := s.lastOI[leg]
	if len(ois) < 2 {
		return
	}
	prev, curr := ois[0], ois[1]
	dtSec := float64(curr.Ts-prev.Ts) / 1000
	s.legs[leg].OIDelta, s.legs[leg].OIRate = signal.OIDelta(prev.Value, curr.Value, dtSec)
}

// batch assembles the feature batch at ts. Both legs must hold a book.
func (s *pairState) batch(ts int64) models.FeatureBatch {
	llca := features.MakeLLCAFeatures(s.books[0], s.books[1], s.pair.HealthA, s.pair.HealthB)

	var hfh [2]models.HFHFeatures
	for i := range hfh {
		hfh[i] = features.MakeHFHFeaturesWith(s.funding[i], s.legs[i].VolEst, s.legs[i].MarkSpotDrift, s.opts.hfh)
	}

	halfLife := signal.HalfLifePred(signal.HalfLifeInputs{
		Z:      llca.Z,
		Depth:  min(s.legs[0].Depth, s.legs[1].Depth),
		Health: llca.HealthMin,
	})

	return models.FeatureBatch{
		BatchID:     uuid.New().String(),
		Pair:        s.name,
		Symbol:      s.pair.Symbol,
		Ts:          ts,
		LLCA:        llca,
		HFH:         hfh,
		Legs:        s.legs,
		HalfLife:    halfLife,
		Degraded:    s.degraded(),
		ProcessedAt: time.Now().UTC(),
	}
}

// degraded flags a venue below its health threshold or legs whose latest
// books are further apart in time than the NTP sanity threshold.
func (s *pairState) degraded() bool {
	if s.pair.HealthA < s.opts.healthMin[0] || s.pair.HealthB < s.opts.healthMin[1] {
		return true
	}
	lastA := s.books[0][len(s.books[0])-1]
	lastB := s.books[1][len(s.books[1])-1]
	return !timeutil.IsNTPSane(lastA.Ts-lastB.Ts, s.opts.ntpThresholdMs)
}

// volSpan is the EWMA span of the vol estimate: hfh.vol_window_min when set,
// otherwise the book window.
func volSpan(cfg *appconfig.Config) int {
	if cfg.HFH.VolWindowMin > 0 {
		return cfg.HFH.VolWindowMin
	}
	return cfg.Processor.Window
}

// volEstimate is the square root of the EWMA of squared mid log-returns with
// alpha = 2/(span+1). Fewer than minReturns returns give 0.
func volEstimate(books []models.OrderBook, span, minReturns int) float64 {
	sq := make([]float64, 0, len(books))
	prev := 0.0
	for _, b := range books {
		mid := b.Mid()
		if mid <= 0 {
			continue
		}
		if prev > 0 {
			r := math.Log(mid / prev)
			sq = append(sq, r*r)
		}
		prev = mid
	}
	if len(sq) == 0 || len(sq) < minReturns {
		return 0
	}
	alpha := 2 / (float64(span) + 1)
	return math.Sqrt(signal.EWMA(sq, alpha))
}

// pushWindow appends v and keeps the last n entries.
func pushWindow[T any](s []T, v T, n int) []T {
	s = append(s, v)
	if n > 0 && len(s) > n {
		s = append(s[:0], s[len(s)-n:]...)
	}
	return s
}
