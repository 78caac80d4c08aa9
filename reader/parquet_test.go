package reader

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"cryptosignal/internal/metrics"
	"cryptosignal/models"
)

type memWriteFile struct{ buf *bytes.Buffer }

func (m *memWriteFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memWriteFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memWriteFile) Seek(int64, int) (int64, error)            { return int64(m.buf.Len()), nil }
func (m *memWriteFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memWriteFile) Write(b []byte) (int, error)               { return m.buf.Write(b) }
func (m *memWriteFile) Close() error                              { return nil }

func encodeParquet[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	f := &memWriteFile{buf: &bytes.Buffer{}}
	pw, err := writer.NewParquetWriter(f, new(T), 1)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, pw.Write(r))
	}
	require.NoError(t, pw.WriteStop())
	return f.buf.Bytes()
}

// memSource serves objects from memory.
type memSource map[string][]byte

func (m memSource) Name() string { return "mem" }

func (m memSource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestParquetReaderRoundTrip(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	later := models.OrderBook{Ts: 2000, Venue: "bitget", Symbol: "BTCUSDT_UMCBL", Seq: 2,
		Bids: models.Ladder{{Price: 100, Qty: 1}, {Price: 99, Qty: 1}, {Price: 98, Qty: 1}},
		Asks: models.Ladder{{Price: 101, Qty: 2}}}
	earlier := models.OrderBook{Ts: 1000, Venue: "bitget", Symbol: "BTCUSDT_UMCBL", Seq: 1,
		Bids: models.Ladder{{Price: 100, Qty: 1}},
		Asks: models.Ladder{{Price: 101, Qty: 2}}}
	other := models.OrderBook{Ts: 1500, Venue: "bitget", Symbol: "ETHUSDT_UMCBL", Seq: 1,
		Bids: models.Ladder{{Price: 10, Qty: 1}}, Asks: models.Ladder{{Price: 11, Qty: 1}}}

	var bookRows []models.BookRow
	for _, ob := range []models.OrderBook{later, other, earlier} {
		bookRows = append(bookRows, models.BookRows(ob)...)
	}

	src := memSource{
		"bitget/books.parquet": encodeParquet(t, bookRows),
		"bitget/oi.parquet": encodeParquet(t, []models.OIRow{
			{Exchange: "bitget", Symbol: "BTCUSDT_UMCBL", Timestamp: 2000, Value: 12},
			{Exchange: "bitget", Symbol: "BTCUSDT_UMCBL", Timestamp: 1000, Value: 10},
			{Exchange: "bitget", Symbol: "BTCUSDT_UMCBL", Timestamp: 3000, Value: -1},
		}),
		"bitget/funding.parquet": encodeParquet(t, []models.PremiumIndexRow{
			{Exchange: "bitget", Symbol: "BTCUSDT_UMCBL", Timestamp: 1000, FundingRate: 0.0001, NextFundingTime: 9000},
		}),
		"bitget/index.parquet": encodeParquet(t, []models.PremiumIndexRow{
			{Exchange: "bitget", Symbol: "BTCUSDT_UMCBL", Timestamp: 1000, MarkPrice: 101, IndexPrice: 100},
			{Exchange: "bitget", Symbol: "BTCUSDT_UMCBL", Timestamp: 1100, MarkPrice: 101, IndexPrice: 0},
		}),
	}

	r := NewParquetReader("bitget", src, Options{TopN: 2})
	ctx := context.Background()

	books, err := r.Books(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, int64(1000), books[0].Ts)
	assert.Equal(t, int64(2000), books[1].Ts)
	assert.Equal(t, "BTCUSDT", books[1].Symbol)
	assert.Equal(t, models.Ladder{{Price: 100, Qty: 1}, {Price: 99, Qty: 1}}, books[1].Bids)
	assert.Equal(t, int64(1), metrics.Get(metrics.GapsDetected, "bitget", "books"))

	oi, err := r.OI(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, oi, 2)
	assert.Equal(t, 10.0, oi[0].Value)
	assert.Equal(t, int64(1), metrics.Get(metrics.RecordsSkipped, "bitget", "oi"))

	funding, err := r.Funding(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, funding, 1)
	assert.Equal(t, int64(9000), funding[0].NextTs)
	assert.Equal(t, 0.0001, funding[0].EstRate)

	marks, err := r.IndexMark(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.InDelta(t, 0.01, marks[0].Drift(), 1e-12)
	assert.Equal(t, int64(1), metrics.Get(metrics.RecordsSkipped, "bitget", "index"))
}

func TestParquetReaderMissingAndCorrupt(t *testing.T) {
	src := memSource{"bybit/oi.parquet": []byte("definitely not parquet")}
	r := NewParquetReader("bybit", src, Options{})

	books, err := r.Books(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, books)

	_, err = r.OI(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bybit/oi.parquet"), err.Error())
}

func TestBufferFileOpenIsIndependent(t *testing.T) {
	f := newBufferFile([]byte("abcdef"))
	other, err := f.Open("")
	require.NoError(t, err)

	_, err = f.Seek(3, io.SeekStart)
	require.NoError(t, err)
	p := make([]byte, 2)
	_, err = other.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(p))

	_, err = f.Write([]byte("x"))
	assert.Error(t, err)
}
