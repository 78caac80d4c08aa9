package signal

import "math"

const (
	halfLifeBase   = 3.0
	halfLifeZSlope = 0.8
	halfLifeZCap   = 5.0
	halfLifeMin    = 0.1
	halfLifeMax    = 10.0
	maxVenueHealth = 100.0
)

// HalfLifeInputs are the features driving HalfLifePred.
type HalfLifeInputs struct {
	Z      float64
	Depth  float64
	Health float64
}

// HalfLifePred is a heuristic reversion half-life: larger dislocations
// revert faster, thin books and unhealthy venues slower. Output is in
// [0.1, 10].
func HalfLifePred(in HalfLifeInputs) float64 {
	healthLow := 1 - Clamp(in.Health, 0, maxVenueHealth)/maxVenueHealth
	depthThin := 1 / (1 + nonNegative(in.Depth))
	pred := halfLifeBase -
		halfLifeZSlope*math.Min(math.Abs(in.Z), halfLifeZCap) +
		2*healthLow +
		2*depthThin
	return Clamp(pred, halfLifeMin, halfLifeMax)
}

// HalfLifeFromMap reads the "z", "depth" and "health" keys; a missing key
// counts as 0.
func HalfLifeFromMap(features map[string]float64) float64 {
	return HalfLifePred(HalfLifeInputs{
		Z:      features["z"],
		Depth:  features["depth"],
		Health: features["health"],
	})
}
