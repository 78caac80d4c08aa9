// Package normalizer turns loosely typed venue records into validated value
// objects.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cryptosignal/models"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrBoolNumber   = errors.New("bool is not a number")
	ErrNotNumber    = errors.New("not a number")
)

// Raw is a decoded JSON object as produced by json.Unmarshal into a map.
type Raw = map[string]any

// NormalizeOrderBook builds an order book from a raw record. Levels that are
// not objects or carry unparsable price/qty are skipped. Each side is cut to
// topN levels; topN <= 0 keeps all of them.
func NormalizeOrderBook(raw Raw, topN int) (models.OrderBook, error) {
	var ob models.OrderBook
	var err error
	if ob.Ts, err = requiredInt(raw, "ts"); err != nil {
		return ob, err
	}
	if ob.Venue, err = requiredString(raw, "venue"); err != nil {
		return ob, err
	}
	if ob.Symbol, err = requiredString(raw, "symbol"); err != nil {
		return ob, err
	}
	if v, ok := raw["seq"]; ok && v != nil {
		if ob.Seq, err = toInt(v); err != nil {
			return ob, fmt.Errorf("seq: %w", err)
		}
	}
	ob.Bids = levels(raw["bids"], topN)
	ob.Asks = levels(raw["asks"], topN)
	return ob, ob.Validate()
}

// NormalizeOI builds an open interest observation from a raw record.
func NormalizeOI(raw Raw) (models.OpenInterest, error) {
	var oi models.OpenInterest
	var err error
	if oi.Ts, err = requiredInt(raw, "ts"); err != nil {
		return oi, err
	}
	if oi.Venue, err = requiredString(raw, "venue"); err != nil {
		return oi, err
	}
	if oi.Symbol, err = requiredString(raw, "symbol"); err != nil {
		return oi, err
	}
	if oi.Value, err = requiredFloat(raw, "open_interest"); err != nil {
		return oi, err
	}
	return oi, oi.Validate()
}

// NormalizeFunding builds a funding observation. A missing est_rate is 0 and
// term structure entries whose horizon or rate do not parse are dropped.
func NormalizeFunding(raw Raw) (models.Funding, error) {
	var f models.Funding
	var err error
	if f.Ts, err = requiredInt(raw, "ts"); err != nil {
		return f, err
	}
	if f.Venue, err = requiredString(raw, "venue"); err != nil {
		return f, err
	}
	if f.Symbol, err = requiredString(raw, "symbol"); err != nil {
		return f, err
	}
	if f.NextTs, err = requiredInt(raw, "next_ts"); err != nil {
		return f, err
	}
	if v, ok := raw["est_rate"]; ok && v != nil {
		if f.EstRate, err = toFloat(v); err != nil {
			return f, fmt.Errorf("est_rate: %w", err)
		}
	}
	if ts, ok := raw["term_structure"].(map[string]any); ok {
		f.TermStructure = make(map[int64]float64, len(ts))
		for k, v := range ts {
			h, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
			if err != nil {
				continue
			}
			r, err := toFloat(v)
			if err != nil {
				continue
			}
			f.TermStructure[h] = r
		}
	}
	return f, f.Validate()
}

// NormalizeIndexMark builds an index/mark observation from a raw record.
func NormalizeIndexMark(raw Raw) (models.IndexMark, error) {
	var im models.IndexMark
	var err error
	if im.Ts, err = requiredInt(raw, "ts"); err != nil {
		return im, err
	}
	if im.Venue, err = requiredString(raw, "venue"); err != nil {
		return im, err
	}
	if im.Symbol, err = requiredString(raw, "symbol"); err != nil {
		return im, err
	}
	if im.Index, err = requiredFloat(raw, "index"); err != nil {
		return im, err
	}
	if im.Mark, err = requiredFloat(raw, "mark"); err != nil {
		return im, err
	}
	return im, im.Validate()
}

func levels(v any, topN int) models.Ladder {
	items, ok := v.([]any)
	if !ok {
		return models.Ladder{}
	}
	out := make(models.Ladder, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		price, err := toFloat(m["price"])
		if err != nil {
			continue
		}
		qty, err := toFloat(m["qty"])
		if err != nil {
			continue
		}
		out = append(out, models.PriceLevel{Price: price, Qty: qty})
		if topN > 0 && len(out) >= topN {
			break
		}
	}
	return out
}

func requiredInt(raw Raw, key string) (int64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func requiredFloat(raw Raw, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	x, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return x, nil
}

func requiredString(raw Raw, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// toInt accepts integers, floats (truncated) and numeric strings.
func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case bool:
		return 0, ErrBoolNumber
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, ErrNotNumber
		}
		return int64(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, ErrNotNumber
		}
		return int64(f), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", x, ErrNotNumber)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%T: %w", v, ErrNotNumber)
}

// toFloat accepts integers, floats and numeric strings.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case bool:
		return 0, ErrBoolNumber
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, ErrNotNumber
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", x, ErrNotNumber)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%T: %w", v, ErrNotNumber)
}

// RecordTs returns the ts field of a raw record, 0 when missing or malformed.
func RecordTs(raw Raw) int64 {
	n, err := toInt(raw["ts"])
	if err != nil {
		return 0
	}
	return n
}

// RecordSymbol returns the symbol field of a raw record, "" when absent.
func RecordSymbol(raw Raw) string {
	s, _ := raw["symbol"].(string)
	return s
}
