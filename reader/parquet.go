package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"cryptosignal/internal/metrics"
	"cryptosignal/internal/symbols"
	"cryptosignal/logger"
	"cryptosignal/models"
)

// ParquetReader replays a venue from columnar files: flattened book levels
// in books.parquet, open interest in oi.parquet and premium-index rows in
// funding.parquet and index.parquet.
type ParquetReader struct {
	venue string
	src   Source
	opts  Options
	log   *logger.Log
}

func NewParquetReader(venue string, src Source, opts Options) *ParquetReader {
	return &ParquetReader{
		venue: venue,
		src:   src,
		opts:  opts.withDefaults(),
		log:   logger.GetLogger(),
	}
}

func (r *ParquetReader) Venue() string { return r.venue }

func (r *ParquetReader) Books(ctx context.Context, symbol string) ([]models.OrderBook, error) {
	var rows []models.BookRow
	if err := readRows(ctx, r.src, ObjectKey(r.venue, StreamBooks, "parquet"), &rows); err != nil {
		return nil, err
	}
	matched := rows[:0]
	for _, row := range rows {
		if symbols.Match(r.venue, row.Symbol, symbol) {
			matched = append(matched, row)
		}
	}

	books := models.BooksFromRows(matched)
	sort.SliceStable(books, func(i, j int) bool { return books[i].Ts < books[j].Ts })

	out := make([]models.OrderBook, 0, len(books))
	for _, ob := range books {
		metrics.Inc(metrics.RecordsRead, r.venue, string(StreamBooks), 1)
		ob.Symbol = symbol
		ob.Bids = models.NewLadder(ob.Bids, r.opts.TopN)
		ob.Asks = models.NewLadder(ob.Asks, r.opts.TopN)
		if err := ob.Validate(); err != nil {
			r.skip(StreamBooks, err)
			continue
		}
		out = append(out, ob)
	}
	countGaps(r.venue, out, r.opts.GapThresholdMs)
	return out, nil
}

func (r *ParquetReader) OI(ctx context.Context, symbol string) ([]models.OpenInterest, error) {
	var rows []models.OIRow
	if err := readRows(ctx, r.src, ObjectKey(r.venue, StreamOI, "parquet"), &rows); err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	out := make([]models.OpenInterest, 0, len(rows))
	for _, row := range rows {
		metrics.Inc(metrics.RecordsRead, r.venue, string(StreamOI), 1)
		if !symbols.Match(r.venue, row.Symbol, symbol) {
			continue
		}
		oi := models.OpenInterest{Ts: row.Timestamp, Venue: r.venue, Symbol: symbol, Value: row.Value}
		if err := oi.Validate(); err != nil {
			r.skip(StreamOI, err)
			continue
		}
		out = append(out, oi)
	}
	return out, nil
}

func (r *ParquetReader) Funding(ctx context.Context, symbol string) ([]models.Funding, error) {
	rows, err := r.premiumRows(ctx, StreamFunding, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]models.Funding, 0, len(rows))
	for _, row := range rows {
		f := models.Funding{
			Ts:      row.Timestamp,
			Venue:   r.venue,
			Symbol:  symbol,
			NextTs:  row.NextFundingTime,
			EstRate: row.FundingRate,
		}
		if err := f.Validate(); err != nil {
			r.skip(StreamFunding, err)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *ParquetReader) IndexMark(ctx context.Context, symbol string) ([]models.IndexMark, error) {
	rows, err := r.premiumRows(ctx, StreamIndex, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]models.IndexMark, 0, len(rows))
	for _, row := range rows {
		im := models.IndexMark{
			Ts:     row.Timestamp,
			Venue:  r.venue,
			Symbol: symbol,
			Index:  row.IndexPrice,
			Mark:   row.MarkPrice,
		}
		if err := im.Validate(); err != nil {
			r.skip(StreamIndex, err)
			continue
		}
		out = append(out, im)
	}
	return out, nil
}

func (r *ParquetReader) premiumRows(ctx context.Context, stream Stream, symbol string) ([]models.PremiumIndexRow, error) {
	var rows []models.PremiumIndexRow
	if err := readRows(ctx, r.src, ObjectKey(r.venue, stream, "parquet"), &rows); err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	out := rows[:0]
	for _, row := range rows {
		metrics.Inc(metrics.RecordsRead, r.venue, string(stream), 1)
		if symbols.Match(r.venue, row.Symbol, symbol) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *ParquetReader) skip(stream Stream, err error) {
	r.log.WithComponent("parquet_reader").WithError(err).WithFields(logger.Fields{
		"venue":  r.venue,
		"stream": string(stream),
	}).Warn("skip row failing schema validation")
	metrics.Inc(metrics.RecordsSkipped, r.venue, string(stream), 1)
}

// readRows decodes every row of a parquet object into *dst, which must point
// to a slice of a parquet-tagged struct. A missing object leaves dst empty.
func readRows[T any](ctx context.Context, src Source, key string, dst *[]T) error {
	rc, err := src.Open(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	pr, err := reader.NewParquetReader(newBufferFile(data), new(T), 4)
	if err != nil {
		return fmt.Errorf("open parquet %s: %w", key, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return fmt.Errorf("decode parquet %s: %w", key, err)
		}
	}
	*dst = rows
	return nil
}

// bufferFile is a read-only in-memory source.ParquetFile. Open hands out
// independent readers over the same bytes, as the parquet reader opens one
// handle per column.
type bufferFile struct {
	data []byte
	r    *bytes.Reader
}

func newBufferFile(data []byte) *bufferFile {
	return &bufferFile{data: data, r: bytes.NewReader(data)}
}

func (b *bufferFile) Open(string) (source.ParquetFile, error) { return newBufferFile(b.data), nil }
func (b *bufferFile) Create(string) (source.ParquetFile, error) {
	return nil, errors.New("bufferFile is read-only")
}
func (b *bufferFile) Seek(offset int64, whence int) (int64, error) { return b.r.Seek(offset, whence) }
func (b *bufferFile) Read(p []byte) (int, error)                   { return b.r.Read(p) }
func (b *bufferFile) Write([]byte) (int, error) {
	return 0, errors.New("bufferFile is read-only")
}
func (b *bufferFile) Close() error { return nil }
