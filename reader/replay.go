package reader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cryptosignal/internal/channel/feed"
	"cryptosignal/logger"
	"cryptosignal/models"
)

// Pair couples the two venue legs quoting the same canonical symbol.
type Pair struct {
	Name   string
	Symbol string
	Legs   [2]VenueAdapter
}

// ReplayOptions paces emission. RecordsPerSecond <= 0 replays unpaced.
type ReplayOptions struct {
	RecordsPerSecond float64
	Burst            int
}

// Replayer loads both legs of every pair and publishes their records as one
// ts-ordered stream of market events per pair.
type Replayer struct {
	pairs   []Pair
	out     *feed.Channels
	limiter *rate.Limiter
	log     *logger.Log
}

func NewReplayer(pairs []Pair, out *feed.Channels, opts ReplayOptions) *Replayer {
	r := &Replayer{pairs: pairs, out: out, log: logger.GetLogger()}
	if opts.RecordsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RecordsPerSecond), burst)
	}
	return r
}

// Run replays every pair concurrently and returns once all events were
// published, ctx was cancelled or a leg failed to load.
func (r *Replayer) Run(ctx context.Context) error {
	log := r.log.WithComponent("replayer")
	log.WithFields(logger.Fields{"pairs": len(r.pairs), "paced": r.limiter != nil}).Info("starting replay")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, p := range r.pairs {
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()
			if err := r.replayPair(ctx, p); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info("replay finished")
	return nil
}

func (r *Replayer) replayPair(ctx context.Context, p Pair) error {
	start := time.Now()
	events, err := LoadPair(ctx, p)
	if err != nil {
		return err
	}

	entry := r.log.WithComponent("replayer").WithFields(logger.Fields{"pair": p.Name})
	logger.LogPerformanceEntry(entry, "replayer", "load_pair", time.Since(start), logger.Fields{"events": len(events)})

	for _, ev := range events {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		ev.Timestamp = time.Now().UTC()
		if !r.out.PublishRaw(ctx, ev) {
			return ctx.Err()
		}
	}
	logger.LogDataFlowEntry(entry, p.Legs[0].Venue()+"+"+p.Legs[1].Venue(), "feed_raw", len(events), "market_events")
	return nil
}

// kindRank orders same-timestamp events so a book tick already sees the
// index, funding and open interest recorded at that instant.
var kindRank = map[models.EventKind]int{
	models.EventIndexMark: 0,
	models.EventFunding:   1,
	models.EventOI:        2,
	models.EventBook:      3,
}

// LoadPair reads every stream of both legs and merges them into one stream
// ordered by ts, then kind, then leg.
func LoadPair(ctx context.Context, p Pair) ([]models.MarketEvent, error) {
	var events []models.MarketEvent
	for leg, a := range p.Legs {
		if a == nil {
			return nil, fmt.Errorf("pair %s: leg %d has no venue adapter", p.Name, leg)
		}
		evs, err := loadLeg(ctx, p, leg, a)
		if err != nil {
			return nil, fmt.Errorf("pair %s: %s: %w", p.Name, a.Venue(), err)
		}
		events = append(events, evs...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Ts != b.Ts {
			return a.Ts < b.Ts
		}
		if kindRank[a.Kind] != kindRank[b.Kind] {
			return kindRank[a.Kind] < kindRank[b.Kind]
		}
		return a.Leg < b.Leg
	})
	return events, nil
}

func loadLeg(ctx context.Context, p Pair, leg int, a VenueAdapter) ([]models.MarketEvent, error) {
	books, err := a.Books(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	ois, err := a.OI(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	fundings, err := a.Funding(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	marks, err := a.IndexMark(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}

	events := make([]models.MarketEvent, 0, len(books)+len(ois)+len(fundings)+len(marks))
	base := models.MarketEvent{Pair: p.Name, Leg: leg}
	for i := range books {
		ev := base
		ev.Kind, ev.Ts, ev.Book = models.EventBook, books[i].Ts, &books[i]
		events = append(events, ev)
	}
	for i := range ois {
		ev := base
		ev.Kind, ev.Ts, ev.OI = models.EventOI, ois[i].Ts, &ois[i]
		events = append(events, ev)
	}
	for i := range fundings {
		ev := base
		ev.Kind, ev.Ts, ev.Funding = models.EventFunding, fundings[i].Ts, &fundings[i]
		events = append(events, ev)
	}
	for i := range marks {
		ev := base
		ev.Kind, ev.Ts, ev.IndexMark = models.EventIndexMark, marks[i].Ts, &marks[i]
		events = append(events, ev)
	}
	return events, nil
}
