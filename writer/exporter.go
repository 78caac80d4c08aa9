// Package writer converts replayable venue streams into the columnar layout
// read by reader.ParquetReader and stores them in a local directory or S3.
package writer

import (
	"context"
	"fmt"
	"time"

	"cryptosignal/internal/metadata"
	"cryptosignal/logger"
	"cryptosignal/models"
	"cryptosignal/reader"
)

// ExportStats summarizes one venue export.
type ExportStats struct {
	Objects int
	Rows    int
	Bytes   int64
}

func (s *ExportStats) add(o ExportStats) {
	s.Objects += o.Objects
	s.Rows += o.Rows
	s.Bytes += o.Bytes
}

// Exporter writes books, oi, funding and index objects of a venue and keeps
// a manifest of everything written until Commit.
type Exporter struct {
	sink Sink
	meta *metadata.Generator
	log  *logger.Log
}

func NewExporter(sink Sink) *Exporter {
	return &Exporter{
		sink: sink,
		meta: metadata.NewGenerator(sink.Name(), "fixtures"),
		log:  logger.GetLogger(),
	}
}

// Commit stores the manifest of the objects written since the last commit
// together with the table metadata and catalog entry.
func (e *Exporter) Commit(ctx context.Context) error {
	files := e.meta.Pending()
	docs, err := e.meta.Commit(time.Now())
	if err != nil {
		return fmt.Errorf("build export manifest: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	catalog, err := e.meta.CatalogEntry()
	if err != nil {
		return fmt.Errorf("build catalog entry: %w", err)
	}
	for _, d := range append(docs, catalog) {
		if err := e.sink.Put(ctx, d.Key, d.Data); err != nil {
			return err
		}
	}
	e.log.WithComponent("exporter").WithFields(logger.Fields{
		"sink":  e.sink.Name(),
		"files": files,
	}).Info("export manifest committed")
	return nil
}

// ExportVenue reads every stream of the adapter for the given canonical
// symbols and stores them as <venue>/<stream>.parquet.
func (e *Exporter) ExportVenue(ctx context.Context, a reader.VenueAdapter, symbols ...string) (ExportStats, error) {
	venue := a.Venue()
	var (
		books    []models.BookRow
		ois      []models.OIRow
		fundings []models.PremiumIndexRow
		marks    []models.PremiumIndexRow
	)

	for _, sym := range symbols {
		bs, err := a.Books(ctx, sym)
		if err != nil {
			return ExportStats{}, fmt.Errorf("%s books: %w", venue, err)
		}
		for _, b := range bs {
			books = append(books, models.BookRows(b)...)
		}

		oi, err := a.OI(ctx, sym)
		if err != nil {
			return ExportStats{}, fmt.Errorf("%s oi: %w", venue, err)
		}
		for _, o := range oi {
			ois = append(ois, models.OIRow{Exchange: venue, Symbol: o.Symbol, Timestamp: o.Ts, Value: o.Value})
		}

		fs, err := a.Funding(ctx, sym)
		if err != nil {
			return ExportStats{}, fmt.Errorf("%s funding: %w", venue, err)
		}
		for _, f := range fs {
			fundings = append(fundings, models.PremiumIndexRow{
				Exchange:        venue,
				Symbol:          f.Symbol,
				Timestamp:       f.Ts,
				FundingRate:     f.EstRate,
				NextFundingTime: f.NextTs,
			})
		}

		ms, err := a.IndexMark(ctx, sym)
		if err != nil {
			return ExportStats{}, fmt.Errorf("%s index: %w", venue, err)
		}
		for _, m := range ms {
			marks = append(marks, models.PremiumIndexRow{
				Exchange:   venue,
				Symbol:     m.Symbol,
				Timestamp:  m.Ts,
				MarkPrice:  m.Mark,
				IndexPrice: m.Index,
			})
		}
	}

	var total ExportStats
	steps := []struct {
		stream reader.Stream
		encode func() ([]byte, int, error)
	}{
		{reader.StreamBooks, func() ([]byte, int, error) { b, err := encodeRows(books); return b, len(books), err }},
		{reader.StreamOI, func() ([]byte, int, error) { b, err := encodeRows(ois); return b, len(ois), err }},
		{reader.StreamFunding, func() ([]byte, int, error) { b, err := encodeRows(fundings); return b, len(fundings), err }},
		{reader.StreamIndex, func() ([]byte, int, error) { b, err := encodeRows(marks); return b, len(marks), err }},
	}
	for _, s := range steps {
		st, err := e.writeObject(ctx, venue, s.stream, s.encode)
		if err != nil {
			return total, err
		}
		total.add(st)
	}
	return total, nil
}

func (e *Exporter) writeObject(ctx context.Context, venue string, stream reader.Stream, encode func() ([]byte, int, error)) (ExportStats, error) {
	start := time.Now()
	key := reader.ObjectKey(venue, stream, "parquet")
	log := e.log.WithComponent("exporter").WithFields(logger.Fields{"key": key, "sink": e.sink.Name()})

	data, rows, err := encode()
	if err != nil {
		log.WithError(err).Error("create parquet failed")
		return ExportStats{}, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := e.sink.Put(ctx, key, data); err != nil {
		log.WithError(err).Error("store parquet failed")
		return ExportStats{}, err
	}

	duration := time.Since(start)
	fields := logger.Fields{
		"records":     rows,
		"bytes":       len(data),
		"duration_ms": float64(duration.Nanoseconds()) / 1e6,
	}
	if duration > 0 {
		fields["throughput_bytes_per_sec"] = float64(len(data)) / duration.Seconds()
	}
	log.WithFields(fields).Info("parquet object stored")
	e.meta.AddFile(metadata.DataFile{
		Path:        key,
		FileSize:    int64(len(data)),
		RecordCount: int64(rows),
		Partition:   map[string]any{"exchange": venue, "stream": string(stream)},
	})
	return ExportStats{Objects: 1, Rows: rows, Bytes: int64(len(data))}, nil
}
