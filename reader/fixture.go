package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"

	"cryptosignal/internal/metrics"
	"cryptosignal/internal/normalizer"
	"cryptosignal/internal/symbols"
	"cryptosignal/logger"
	"cryptosignal/models"
)

const maxLineBytes = 16 << 20

// FixtureReader replays a venue from JSON-lines files, one object per line.
// Blank lines are ignored; lines that are not JSON objects or fail schema
// validation are logged, counted as skipped and dropped.
type FixtureReader struct {
	venue string
	src   Source
	opts  Options
	log   *logger.Log
}

func NewFixtureReader(venue string, src Source, opts Options) *FixtureReader {
	r := &FixtureReader{
		venue: venue,
		src:   src,
		opts:  opts.withDefaults(),
		log:   logger.GetLogger(),
	}
	r.log.WithComponent("fixture_reader").WithFields(logger.Fields{
		"venue":  venue,
		"source": src.Name(),
	}).Debug("fixture reader initialized")
	return r
}

// NewBybitReader replays recorded Bybit linear perpetual data.
func NewBybitReader(src Source, opts Options) *FixtureReader {
	return NewFixtureReader("bybit", src, opts)
}

// NewBitgetReader replays recorded Bitget USDT-M perpetual data.
func NewBitgetReader(src Source, opts Options) *FixtureReader {
	return NewFixtureReader("bitget", src, opts)
}

func (r *FixtureReader) Venue() string { return r.venue }

func (r *FixtureReader) Books(ctx context.Context, symbol string) ([]models.OrderBook, error) {
	recs, err := r.records(ctx, StreamBooks, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]models.OrderBook, 0, len(recs))
	for _, rec := range recs {
		ob, err := normalizer.NormalizeOrderBook(rec, r.opts.TopN)
		if err != nil {
			r.skip(StreamBooks, err)
			continue
		}
		ob.Symbol = symbol
		out = append(out, ob)
	}
	countGaps(r.venue, out, r.opts.GapThresholdMs)
	return out, nil
}

func (r *FixtureReader) OI(ctx context.Context, symbol string) ([]models.OpenInterest, error) {
	recs, err := r.records(ctx, StreamOI, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]models.OpenInterest, 0, len(recs))
	for _, rec := range recs {
		oi, err := normalizer.NormalizeOI(rec)
		if err != nil {
			r.skip(StreamOI, err)
			continue
		}
		oi.Symbol = symbol
		out = append(out, oi)
	}
	return out, nil
}

func (r *FixtureReader) Funding(ctx context.Context, symbol string) ([]models.Funding, error) {
	recs, err := r.records(ctx, StreamFunding, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]models.Funding, 0, len(recs))
	for _, rec := range recs {
		f, err := normalizer.NormalizeFunding(rec)
		if err != nil {
			r.skip(StreamFunding, err)
			continue
		}
		f.Symbol = symbol
		out = append(out, f)
	}
	return out, nil
}

func (r *FixtureReader) IndexMark(ctx context.Context, symbol string) ([]models.IndexMark, error) {
	recs, err := r.records(ctx, StreamIndex, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]models.IndexMark, 0, len(recs))
	for _, rec := range recs {
		im, err := normalizer.NormalizeIndexMark(rec)
		if err != nil {
			r.skip(StreamIndex, err)
			continue
		}
		im.Symbol = symbol
		out = append(out, im)
	}
	return out, nil
}

// records loads a stream, sorts it by ts (stable), counts every record read
// and returns those quoting symbol.
func (r *FixtureReader) records(ctx context.Context, stream Stream, symbol string) ([]normalizer.Raw, error) {
	all, err := r.load(ctx, stream)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return normalizer.RecordTs(all[i]) < normalizer.RecordTs(all[j])
	})

	out := make([]normalizer.Raw, 0, len(all))
	for _, rec := range all {
		metrics.Inc(metrics.RecordsRead, r.venue, string(stream), 1)
		if symbols.Match(r.venue, normalizer.RecordSymbol(rec), symbol) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *FixtureReader) load(ctx context.Context, stream Stream) ([]normalizer.Raw, error) {
	key := ObjectKey(r.venue, stream, "jsonl")
	rc, err := r.src.Open(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()

	log := r.log.WithComponent("fixture_reader").WithFields(logger.Fields{
		"venue":  r.venue,
		"stream": string(stream),
		"key":    key,
	})

	var out []normalizer.Raw
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := decodeObject(line)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"line": lineNo}).Warn("skip invalid jsonl line")
			metrics.Inc(metrics.RecordsSkipped, r.venue, string(stream), 1)
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FixtureReader) skip(stream Stream, err error) {
	r.log.WithComponent("fixture_reader").WithError(err).WithFields(logger.Fields{
		"venue":  r.venue,
		"stream": string(stream),
	}).Warn("skip record failing schema validation")
	metrics.Inc(metrics.RecordsSkipped, r.venue, string(stream), 1)
}

var errNotObject = errors.New("expected a JSON object")

func decodeObject(line []byte) (normalizer.Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// countGaps increments gaps_detected_total once for every pair of
// consecutive books spaced more than thresholdMs apart.
func countGaps(venue string, books []models.OrderBook, thresholdMs int64) int {
	gaps := 0
	for i := 1; i < len(books); i++ {
		if books[i].Ts-books[i-1].Ts > thresholdMs {
			gaps++
		}
	}
	if gaps > 0 {
		metrics.Inc(metrics.GapsDetected, venue, string(StreamBooks), gaps)
	}
	return gaps
}
