package signal

import "math"

// ZScore normalizes delta by sigma, returning 0 when sigma is not positive.
func ZScore(delta, sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return delta / sigma
}

// EWMA folds values into an exponentially weighted average seeded by the
// first value. An empty input yields 0.
func EWMA(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := values[0]
	for _, v := range values[1:] {
		s = alpha*v + (1-alpha)*s
	}
	return s
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean is the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopStdDev is the population standard deviation, 0 with fewer than two
// points.
func PopStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

func nonNegative(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
