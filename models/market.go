package models

import "errors"

var (
	ErrNegativeOI       = errors.New("open_interest must be >= 0")
	ErrFundingBeforeTs  = errors.New("next_ts must be >= ts")
	ErrNonPositiveIndex = errors.New("index and mark must be > 0")
)

// OpenInterest is a single open-interest observation.
type OpenInterest struct {
	Ts     int64   `json:"ts"`
	Venue  string  `json:"venue"`
	Symbol string  `json:"symbol"`
	Value  float64 `json:"open_interest"`
}

func (o OpenInterest) Validate() error {
	if o.Ts < 0 {
		return ErrNegativeTimestamp
	}
	if o.Venue == "" {
		return ErrEmptyVenue
	}
	if o.Symbol == "" {
		return ErrEmptySymbol
	}
	if o.Value < 0 {
		return ErrNegativeOI
	}
	return nil
}

// Funding is a venue's funding-rate estimate for the next settlement.
// TermStructure maps a tenor (in funding periods) to a rate.
type Funding struct {
	Ts            int64             `json:"ts"`
	Venue         string            `json:"venue"`
	Symbol        string            `json:"symbol"`
	NextTs        int64             `json:"next_ts"`
	EstRate       float64           `json:"est_rate"`
	TermStructure map[int64]float64 `json:"term_structure,omitempty"`
}

func (f Funding) Validate() error {
	if f.Ts < 0 || f.NextTs < 0 {
		return ErrNegativeTimestamp
	}
	if f.Venue == "" {
		return ErrEmptyVenue
	}
	if f.Symbol == "" {
		return ErrEmptySymbol
	}
	if f.NextTs < f.Ts {
		return ErrFundingBeforeTs
	}
	return nil
}

// IndexMark pairs the spot index with the venue mark price.
type IndexMark struct {
	Ts     int64   `json:"ts"`
	Venue  string  `json:"venue"`
	Symbol string  `json:"symbol"`
	Index  float64 `json:"index"`
	Mark   float64 `json:"mark"`
}

func (m IndexMark) Validate() error {
	if m.Ts < 0 {
		return ErrNegativeTimestamp
	}
	if m.Venue == "" {
		return ErrEmptyVenue
	}
	if m.Symbol == "" {
		return ErrEmptySymbol
	}
	if !(m.Index > 0) || !(m.Mark > 0) {
		return ErrNonPositiveIndex
	}
	return nil
}

// Drift is the relative premium of mark over index.
func (m IndexMark) Drift() float64 {
	if m.Index <= 0 {
		return 0
	}
	return (m.Mark - m.Index) / m.Index
}
