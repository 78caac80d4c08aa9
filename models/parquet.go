package models

import "sort"

// Columnar row layouts used for recorded venue data. Order books are stored
// flattened, one row per price level.

// BookRow is one price level of an order book snapshot.
type BookRow struct {
	Exchange     string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp    int64   `parquet:"name=timestamp, type=INT64"`
	LastUpdateID int64   `parquet:"name=last_update_id, type=INT64"`
	Side         string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        float64 `parquet:"name=price, type=DOUBLE"`
	Quantity     float64 `parquet:"name=quantity, type=DOUBLE"`
	Level        int32   `parquet:"name=level, type=INT32"`
}

// OIRow is one open interest observation.
type OIRow struct {
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
}

// PremiumIndexRow carries mark/index prices and funding for one timestamp.
// Funding and index streams share this layout.
type PremiumIndexRow struct {
	Exchange        string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol          string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp       int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	MarkPrice       float64 `parquet:"name=mark_price, type=DOUBLE"`
	IndexPrice      float64 `parquet:"name=index_price, type=DOUBLE"`
	FundingRate     float64 `parquet:"name=funding_rate, type=DOUBLE"`
	NextFundingTime int64   `parquet:"name=next_funding_time, type=INT64"`
}

const (
	SideBid = "bid"
	SideAsk = "ask"
)

// BookRows flattens an order book into level rows, level 1 being the best.
func BookRows(ob OrderBook) []BookRow {
	rows := make([]BookRow, 0, len(ob.Bids)+len(ob.Asks))
	add := func(side string, l Ladder) {
		for i, lvl := range l {
			rows = append(rows, BookRow{
				Exchange:     ob.Venue,
				Symbol:       ob.Symbol,
				Timestamp:    ob.Ts,
				LastUpdateID: ob.Seq,
				Side:         side,
				Price:        lvl.Price,
				Quantity:     lvl.Qty,
				Level:        int32(i + 1),
			})
		}
	}
	add(SideBid, ob.Bids)
	add(SideAsk, ob.Asks)
	return rows
}

// BooksFromRows regroups level rows into order books. Rows sharing symbol,
// timestamp and update id form one book; books keep first-seen order and
// levels are ordered by their level number. Rows with an unknown side are
// ignored.
func BooksFromRows(rows []BookRow) []OrderBook {
	type bookKey struct {
		symbol string
		ts     int64
		seq    int64
	}
	type levelRow struct {
		level int32
		pl    PriceLevel
	}
	type partial struct {
		ob         OrderBook
		bids, asks []levelRow
	}

	order := []bookKey{}
	books := map[bookKey]*partial{}
	for _, r := range rows {
		k := bookKey{r.Symbol, r.Timestamp, r.LastUpdateID}
		p, ok := books[k]
		if !ok {
			p = &partial{ob: OrderBook{Ts: r.Timestamp, Venue: r.Exchange, Symbol: r.Symbol, Seq: r.LastUpdateID}}
			books[k] = p
			order = append(order, k)
		}
		lr := levelRow{level: r.Level, pl: PriceLevel{Price: r.Price, Qty: r.Quantity}}
		switch r.Side {
		case SideBid:
			p.bids = append(p.bids, lr)
		case SideAsk:
			p.asks = append(p.asks, lr)
		}
	}

	ladder := func(ls []levelRow) Ladder {
		sort.SliceStable(ls, func(i, j int) bool { return ls[i].level < ls[j].level })
		out := make(Ladder, len(ls))
		for i, l := range ls {
			out[i] = l.pl
		}
		return out
	}

	out := make([]OrderBook, 0, len(order))
	for _, k := range order {
		p := books[k]
		p.ob.Bids = ladder(p.bids)
		p.ob.Asks = ladder(p.asks)
		out = append(out, p.ob)
	}
	return out
}
