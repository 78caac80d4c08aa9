package reader

import (
	"context"

	"cryptosignal/models"
)

// Stream names a recorded venue data stream.
type Stream string

const (
	StreamBooks   Stream = "books"
	StreamOI      Stream = "oi"
	StreamFunding Stream = "funding"
	StreamIndex   Stream = "index"
)

// DefaultGapThresholdMs is the largest spacing between consecutive books of
// a symbol that is not reported as a gap.
const DefaultGapThresholdMs = 200

// VenueAdapter is a read-only view of one venue's recorded streams. Every
// method returns the records for symbol sorted by ts; a stream that was not
// recorded yields an empty slice.
type VenueAdapter interface {
	Venue() string
	Books(ctx context.Context, symbol string) ([]models.OrderBook, error)
	OI(ctx context.Context, symbol string) ([]models.OpenInterest, error)
	Funding(ctx context.Context, symbol string) ([]models.Funding, error)
	IndexMark(ctx context.Context, symbol string) ([]models.IndexMark, error)
}

// Options tune how records are turned into value objects.
type Options struct {
	// TopN caps the levels kept per book side; <= 0 keeps all.
	TopN           int
	GapThresholdMs int64
}

func (o Options) withDefaults() Options {
	if o.GapThresholdMs <= 0 {
		o.GapThresholdMs = DefaultGapThresholdMs
	}
	return o
}
