package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion counter names.
const (
	RecordsRead    = "records_read_total"
	RecordsSkipped = "records_skipped_total"
	GapsDetected   = "gaps_detected_total"
)

type counterKey struct {
	name   string
	venue  string
	stream string
}

var (
	countersMu sync.RWMutex
	counters   = make(map[counterKey]int64)

	ingestionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptosignal",
			Name:      "ingestion_total",
			Help:      "Replay ingestion counters by counter name, venue and stream",
		},
		[]string{"counter", "venue", "stream"},
	)
)

// Inc adds n to the named counter for a venue stream.
func Inc(name, venue, stream string, n int) {
	if name == "" || n == 0 {
		return
	}
	k := counterKey{name: name, venue: venue, stream: stream}
	countersMu.Lock()
	counters[k] += int64(n)
	countersMu.Unlock()
	ingestionTotal.WithLabelValues(name, venue, stream).Add(float64(n))
}

// Get returns the current value of a counter, 0 when it was never incremented.
func Get(name, venue, stream string) int64 {
	countersMu.RLock()
	defer countersMu.RUnlock()
	return counters[counterKey{name: name, venue: venue, stream: stream}]
}

// Reset zeroes every ingestion counter.
func Reset() {
	countersMu.Lock()
	counters = make(map[counterKey]int64)
	countersMu.Unlock()
	ingestionTotal.Reset()
}

// Snapshot returns all counters keyed as name/venue/stream, sorted by key.
func Snapshot() map[string]int64 {
	countersMu.RLock()
	keys := make([]counterKey, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	countersMu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keyString(keys[i]) < keyString(keys[j])
	})

	out := make(map[string]int64, len(keys))
	countersMu.RLock()
	for _, k := range keys {
		out[keyString(k)] = counters[k]
	}
	countersMu.RUnlock()
	return out
}

// Totals sums every counter across venues and streams.
func Totals() map[string]int64 {
	countersMu.RLock()
	defer countersMu.RUnlock()
	out := map[string]int64{}
	for k, v := range counters {
		out[k.name] += v
	}
	return out
}

func keyString(k counterKey) string {
	return strings.Join([]string{k.name, k.venue, k.stream}, "/")
}
