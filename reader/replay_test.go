package reader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptosignal/internal/channel/feed"
	"cryptosignal/models"
)

func bookSeries(venue string, ts ...int64) []models.OrderBook {
	out := make([]models.OrderBook, 0, len(ts))
	for i, t := range ts {
		out = append(out, models.OrderBook{
			Ts:     t,
			Venue:  venue,
			Symbol: "BTCUSDT",
			Seq:    int64(i + 1),
			Bids:   models.Ladder{{Price: 100, Qty: 1}},
			Asks:   models.Ladder{{Price: 101, Qty: 1}},
		})
	}
	return out
}

// stubAdapter serves canned streams.
type stubAdapter struct {
	venue   string
	books   []models.OrderBook
	ois     []models.OpenInterest
	funding []models.Funding
	marks   []models.IndexMark
	err     error
}

func (s *stubAdapter) Venue() string { return s.venue }

func (s *stubAdapter) Books(context.Context, string) ([]models.OrderBook, error) {
	return s.books, s.err
}

func (s *stubAdapter) OI(context.Context, string) ([]models.OpenInterest, error) {
	return s.ois, nil
}

func (s *stubAdapter) Funding(context.Context, string) ([]models.Funding, error) {
	return s.funding, nil
}

func (s *stubAdapter) IndexMark(context.Context, string) ([]models.IndexMark, error) {
	return s.marks, nil
}

func testPair() Pair {
	a := &stubAdapter{
		venue: "bybit",
		books: bookSeries("bybit", 100, 200),
		ois:   []models.OpenInterest{{Ts: 100, Venue: "bybit", Symbol: "BTCUSDT", Value: 5}},
		marks: []models.IndexMark{{Ts: 100, Venue: "bybit", Symbol: "BTCUSDT", Index: 100, Mark: 100.5}},
	}
	b := &stubAdapter{
		venue:   "bitget",
		books:   bookSeries("bitget", 50, 100),
		funding: []models.Funding{{Ts: 100, Venue: "bitget", Symbol: "BTCUSDT", NextTs: 200, EstRate: 0.0001}},
	}
	return Pair{Name: "BTCUSDT:bybit/bitget", Symbol: "BTCUSDT", Legs: [2]VenueAdapter{a, b}}
}

func TestLoadPairOrdering(t *testing.T) {
	events, err := LoadPair(context.Background(), testPair())
	require.NoError(t, err)

	type key struct {
		ts   int64
		kind models.EventKind
		leg  int
	}
	var got []key
	for _, ev := range events {
		got = append(got, key{ev.Ts, ev.Kind, ev.Leg})
		assert.Equal(t, "BTCUSDT:bybit/bitget", ev.Pair)
	}
	assert.Equal(t, []key{
		{50, models.EventBook, 1},
		{100, models.EventIndexMark, 0},
		{100, models.EventFunding, 1},
		{100, models.EventOI, 0},
		{100, models.EventBook, 0},
		{100, models.EventBook, 1},
		{200, models.EventBook, 0},
	}, got)

	require.NotNil(t, events[0].Book)
	assert.Equal(t, "bitget", events[0].Book.Venue)
	require.NotNil(t, events[2].Funding)
	assert.Nil(t, events[2].Book)
}

func TestLoadPairErrors(t *testing.T) {
	p := testPair()
	p.Legs[1] = nil
	_, err := LoadPair(context.Background(), p)
	assert.ErrorContains(t, err, "leg 1 has no venue adapter")

	boom := errors.New("disk on fire")
	p = testPair()
	p.Legs[0].(*stubAdapter).err = boom
	_, err = LoadPair(context.Background(), p)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "bybit")
}

func TestReplayerRunPublishesEveryEvent(t *testing.T) {
	ch := feed.NewChannels(64, 1)
	r := NewReplayer([]Pair{testPair()}, ch, ReplayOptions{})

	require.NoError(t, r.Run(context.Background()))
	ch.CloseRaw()

	var ts []int64
	for ev := range ch.Raw {
		ts = append(ts, ev.Ts)
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, []int64{50, 100, 100, 100, 100, 100, 200}, ts)
	assert.Equal(t, int64(7), ch.GetStats().RawSent)
}

func TestReplayerRunFromFixtures(t *testing.T) {
	src := NewDirSource("../testdata/fixtures")
	p := Pair{
		Name:   "BTCUSDT:bybit/bitget",
		Symbol: "BTCUSDT",
		Legs:   [2]VenueAdapter{NewBybitReader(src, Options{}), NewBitgetReader(src, Options{})},
	}
	ch := feed.NewChannels(256, 1)
	require.NoError(t, NewReplayer([]Pair{p}, ch, ReplayOptions{}).Run(context.Background()))
	ch.CloseRaw()

	counts := map[models.EventKind]int{}
	last := int64(-1)
	for ev := range ch.Raw {
		counts[ev.Kind]++
		assert.GreaterOrEqual(t, ev.Ts, last)
		last = ev.Ts
	}
	assert.Equal(t, 40, counts[models.EventBook])
	assert.Equal(t, 10, counts[models.EventOI])
	assert.Equal(t, 10, counts[models.EventFunding])
	assert.Equal(t, 10, counts[models.EventIndexMark])
}

func TestReplayerPacedCancel(t *testing.T) {
	ch := feed.NewChannels(64, 1)
	r := NewReplayer([]Pair{testPair()}, ch, ReplayOptions{RecordsPerSecond: 1, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	require.Error(t, err)
	assert.Less(t, len(ch.Raw), 7)
}

func TestReplayerBlockedConsumerCancel(t *testing.T) {
	ch := feed.NewChannels(1, 1)
	r := NewReplayer([]Pair{testPair()}, ch, ReplayOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-ch.Raw
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("replayer did not stop after cancel")
	}
}
