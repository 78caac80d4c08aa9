package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptosignal/internal/metrics"
)

const fixtureRoot = "../testdata/fixtures"

func TestBybitReaderBooks(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	r := NewBybitReader(NewDirSource(fixtureRoot), Options{TopN: 10})
	books, err := r.Books(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, books, 20)

	prev := int64(-1)
	for _, ob := range books {
		assert.GreaterOrEqual(t, ob.Ts, prev)
		prev = ob.Ts
		assert.Equal(t, "BTCUSDT", ob.Symbol)
		assert.Equal(t, "bybit", ob.Venue)
		assert.Len(t, ob.Bids, 10)
		assert.Len(t, ob.Asks, 10)
	}

	// every parsed line is counted, including other symbols
	assert.Equal(t, int64(21), metrics.Get(metrics.RecordsRead, "bybit", "books"))
	assert.Equal(t, int64(1), metrics.Get(metrics.GapsDetected, "bybit", "books"))
	assert.Equal(t, int64(0), metrics.Get(metrics.RecordsSkipped, "bybit", "books"))
}

func TestBitgetReaderMapsSymbols(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	r := NewBitgetReader(NewDirSource(fixtureRoot), Options{})
	ctx := context.Background()

	books, err := r.Books(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, books, 20)
	assert.Equal(t, "BTCUSDT", books[0].Symbol)
	assert.Len(t, books[0].Bids, 12, "top_n <= 0 keeps every level")
	assert.Equal(t, int64(0), metrics.Get(metrics.GapsDetected, "bitget", "books"))

	oi, err := r.OI(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, oi, 5)

	funding, err := r.Funding(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, funding, 5)
	assert.Equal(t, map[int64]float64{1: 0.0001, 2: 0.00012}, funding[0].TermStructure)

	marks, err := r.IndexMark(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, marks, 5)
	assert.Greater(t, marks[0].Drift(), 0.0)
}

func TestFixtureReaderSkipsInvalidLines(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bybit"), 0o755))
	content := `
{"ts": 300, "venue": "bybit", "symbol": "BTCUSDT", "bids": [{"price": 1, "qty": 1}], "asks": [], "seq": 3}
not json

[1, 2, 3]
{"ts": 100, "venue": "bybit", "symbol": "BTCUSDT", "bids": [], "asks": [], "seq": 1}
{"ts": 100, "venue": "bybit", "symbol": "BTCUSDT", "bids": [], "asks": [], "seq": 2}
{"ts": 200, "venue": "bybit", "symbol": "BTCUSDT", "bids": [{"price": 1, "qty": -1}], "asks": []}
{"ts": 250, "venue": "bybit", "symbol": "BTCUSDT"} trailing
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bybit", "books.jsonl"), []byte(content), 0o644))

	r := NewBybitReader(NewDirSource(dir), Options{})
	books, err := r.Books(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, books, 3)

	// stable sort keeps equal timestamps in file order
	assert.Equal(t, []int64{1, 2, 3}, []int64{books[0].Seq, books[1].Seq, books[2].Seq})
	// three undecodable lines plus one negative quantity
	assert.Equal(t, int64(4), metrics.Get(metrics.RecordsSkipped, "bybit", "books"))
	assert.Equal(t, int64(4), metrics.Get(metrics.RecordsRead, "bybit", "books"))
	assert.Equal(t, int64(0), metrics.Get(metrics.GapsDetected, "bybit", "books"))
}

func TestFixtureReaderMissingStream(t *testing.T) {
	r := NewFixtureReader("okx", NewDirSource(t.TempDir()), Options{})
	ctx := context.Background()

	books, err := r.Books(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, books)

	oi, err := r.OI(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, oi)

	funding, err := r.Funding(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, funding)

	marks, err := r.IndexMark(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, marks)
}

func TestFixtureReaderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBybitReader(NewDirSource(fixtureRoot), Options{}).Books(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCountGaps(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	books := bookSeries("v", 0, 100, 301, 500, 900)
	assert.Equal(t, 2, countGaps("v", books, 200))
	assert.Equal(t, int64(2), metrics.Get(metrics.GapsDetected, "v", "books"))
}
