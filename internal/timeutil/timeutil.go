// Package timeutil holds clock helpers shared by replay and feature code.
package timeutil

import "time"

// DefaultNTPThresholdMs is the largest clock offset still considered sane.
const DefaultNTPThresholdMs = 100

var start = time.Now()

// UTCNowMs returns the current wall clock time in epoch milliseconds.
func UTCNowMs() int64 {
	return time.Now().UnixMilli()
}

// MonotonicNs returns nanoseconds elapsed on the monotonic clock since
// process start.
func MonotonicNs() int64 {
	return int64(time.Since(start))
}

// IsNTPSane reports whether |offsetMs| is within thresholdMs.
func IsNTPSane(offsetMs, thresholdMs int64) bool {
	if offsetMs < 0 {
		offsetMs = -offsetMs
	}
	return offsetMs <= thresholdMs
}
