package models

import (
	"errors"
	"fmt"
	"strconv"
)

// Schema violations reported by Validate. The signal core assumes inputs
// already passed these checks.
var (
	ErrNonPositivePrice  = errors.New("price must be > 0")
	ErrNegativeQty       = errors.New("qty must be >= 0")
	ErrNegativeTimestamp = errors.New("ts must be >= 0")
	ErrNegativeSeq       = errors.New("seq must be >= 0")
	ErrEmptyVenue        = errors.New("venue is required")
	ErrEmptySymbol       = errors.New("symbol is required")
)

// DefaultLadderDepth is the number of levels kept per side when no explicit
// depth is requested.
const DefaultLadderDepth = 10

// PriceLevel is a single resting price/quantity pair.
type PriceLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Validate checks the level against the schema contract.
func (l PriceLevel) Validate() error {
	if !(l.Price > 0) {
		return ErrNonPositivePrice
	}
	if l.Qty < 0 {
		return ErrNegativeQty
	}
	return nil
}

// Ladder is one side of a book, best price first. Ordering is assumed and
// never re-sorted.
type Ladder []PriceLevel

// NewLadder copies levels into a ladder holding at most capacity entries.
// A non-positive capacity keeps every level.
func NewLadder(levels []PriceLevel, capacity int) Ladder {
	n := len(levels)
	if capacity > 0 && n > capacity {
		n = capacity
	}
	out := make(Ladder, n)
	copy(out, levels[:n])
	return out
}

// Top returns the first n levels without copying.
func (l Ladder) Top(n int) Ladder {
	if n < 0 {
		return nil
	}
	if n >= len(l) {
		return l
	}
	return l[:n]
}

// Best returns the best level and whether the ladder had one.
func (l Ladder) Best() (PriceLevel, bool) {
	if len(l) == 0 {
		return PriceLevel{}, false
	}
	return l[0], true
}

// Depth sums the quantity of the first n levels, clamping negatives to zero.
func (l Ladder) Depth(n int) float64 {
	total := 0.0
	for _, lvl := range l.Top(n) {
		if lvl.Qty > 0 {
			total += lvl.Qty
		}
	}
	return total
}

// Validate checks every level of the ladder.
func (l Ladder) Validate() error {
	for i, lvl := range l {
		if err := lvl.Validate(); err != nil {
			return &LevelError{Index: i, Err: err}
		}
	}
	return nil
}

// LevelError pinpoints the offending level inside a ladder.
type LevelError struct {
	Index int
	Err   error
}

func (e *LevelError) Error() string {
	return "level " + strconv.Itoa(e.Index) + ": " + e.Err.Error()
}

func (e *LevelError) Unwrap() error { return e.Err }

// OrderBook is an immutable top-of-book snapshot from one venue.
type OrderBook struct {
	Ts     int64  `json:"ts"`
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
	Bids   Ladder `json:"bids"`
	Asks   Ladder `json:"asks"`
	Seq    int64  `json:"seq"`
}

// Mid returns the midpoint of best bid and best ask, or 0 when either side
// is missing or non-positive.
func (b OrderBook) Mid() float64 {
	bid, okBid := b.Bids.Best()
	ask, okAsk := b.Asks.Best()
	if !okBid || !okAsk || bid.Price <= 0 || ask.Price <= 0 {
		return 0
	}
	return 0.5 * (bid.Price + ask.Price)
}

// Validate checks the book against the schema contract.
func (b OrderBook) Validate() error {
	if b.Ts < 0 {
		return ErrNegativeTimestamp
	}
	if b.Seq < 0 {
		return ErrNegativeSeq
	}
	if b.Venue == "" {
		return ErrEmptyVenue
	}
	if b.Symbol == "" {
		return ErrEmptySymbol
	}
	if err := b.Bids.Validate(); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := b.Asks.Validate(); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	return nil
}
