package models

import "time"

// Feature names shared with downstream consumers.
const (
	FeatureZ          = "z"
	FeatureDepthRatio = "depth_ratio"
	FeatureImbalance  = "imbalance"
	FeatureUpdateRate = "update_rate"
	FeatureHealthMin  = "health_min"

	FeatureExpectedFunding = "E_funding_T"
	FeatureSigmaT          = "sigma_T"
)

// LLCAFeatures is the cross-venue convergence bundle.
type LLCAFeatures struct {
	Z          float64 `json:"z"`
	DepthRatio float64 `json:"depth_ratio"`
	Imbalance  float64 `json:"imbalance"`
	UpdateRate float64 `json:"update_rate"`
	HealthMin  float64 `json:"health_min"`
}

// AsMap exposes the bundle as named floats, always with exactly five keys.
func (f LLCAFeatures) AsMap() map[string]float64 {
	return map[string]float64{
		FeatureZ:          f.Z,
		FeatureDepthRatio: f.DepthRatio,
		FeatureImbalance:  f.Imbalance,
		FeatureUpdateRate: f.UpdateRate,
		FeatureHealthMin:  f.HealthMin,
	}
}

// HFHFeatures is the funding-harvest bundle.
type HFHFeatures struct {
	ExpectedFunding float64 `json:"E_funding_T"`
	SigmaT          float64 `json:"sigma_T"`
}

func (f HFHFeatures) AsMap() map[string]float64 {
	return map[string]float64{
		FeatureExpectedFunding: f.ExpectedFunding,
		FeatureSigmaT:          f.SigmaT,
	}
}

// LegSignals carries the elementary signals of one venue at a tick.
type LegSignals struct {
	Venue              string  `json:"venue"`
	Mid                float64 `json:"mid"`
	Depth              float64 `json:"depth"`
	DepthSigma         float64 `json:"depth_sigma"`
	Imbalance          float64 `json:"imbalance"`
	CancelVelocityBids float64 `json:"cancel_velocity_bids"`
	CancelVelocityAsks float64 `json:"cancel_velocity_asks"`
	Sweep              bool    `json:"sweep"`
	OIDelta            float64 `json:"oi_delta"`
	OIRate             float64 `json:"oi_rate"`
	MarkSpotDrift      float64 `json:"mark_spot_drift"`
	VolEst             float64 `json:"vol_est"`
}

// FeatureBatch is everything computed for a pair at one tick. It is handed
// to decision components and never stored.
type FeatureBatch struct {
	BatchID     string         `json:"batch_id"`
	Pair        string         `json:"pair"`
	Symbol      string         `json:"symbol"`
	Ts          int64          `json:"ts"`
	LLCA        LLCAFeatures   `json:"llca"`
	HFH         [2]HFHFeatures `json:"hfh"`
	Legs        [2]LegSignals  `json:"legs"`
	HalfLife    float64        `json:"half_life"`
	Degraded    bool           `json:"degraded"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// EventKind tags the payload carried by a MarketEvent.
type EventKind string

const (
	EventBook      EventKind = "books"
	EventOI        EventKind = "oi"
	EventFunding   EventKind = "funding"
	EventIndexMark EventKind = "index"
)

// MarketEvent is one replayed record routed to the processor for a pair.
// Exactly one payload pointer is set, matching Kind.
type MarketEvent struct {
	Pair      string
	Leg       int
	Kind      EventKind
	Ts        int64
	Book      *OrderBook
	OI        *OpenInterest
	Funding   *Funding
	IndexMark *IndexMark
	Timestamp time.Time
}
