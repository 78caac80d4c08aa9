package timeutil

import (
	"testing"
	"time"
)

func TestIsNTPSane(t *testing.T) {
	tests := []struct {
		offset, threshold int64
		want              bool
	}{
		{0, DefaultNTPThresholdMs, true},
		{100, DefaultNTPThresholdMs, true},
		{-100, DefaultNTPThresholdMs, true},
		{101, DefaultNTPThresholdMs, false},
		{-250, DefaultNTPThresholdMs, false},
		{5, 0, false},
	}
	for _, tt := range tests {
		if got := IsNTPSane(tt.offset, tt.threshold); got != tt.want {
			t.Errorf("IsNTPSane(%d, %d) = %v, want %v", tt.offset, tt.threshold, got, tt.want)
		}
	}
}

func TestUTCNowMs(t *testing.T) {
	before := time.Now().UnixMilli()
	got := UTCNowMs()
	after := time.Now().UnixMilli()
	if got < before || got > after {
		t.Fatalf("UTCNowMs %d outside [%d, %d]", got, before, after)
	}
}

func TestMonotonicNsIncreases(t *testing.T) {
	a := MonotonicNs()
	time.Sleep(time.Millisecond)
	if b := MonotonicNs(); b <= a {
		t.Fatalf("monotonic clock went backwards: %d then %d", a, b)
	}
}
