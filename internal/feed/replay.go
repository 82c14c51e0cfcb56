package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/watchlist"
)

type replayCursor struct {
	bars []domain.Bar
	next int
}

// ReplayFeed plays back one trading day of five-second bars, one bar per
// symbol per interval. When a symbol runs out it starts over.
type ReplayFeed struct {
	date     time.Time
	watch    *watchlist.WatchList
	bus      *eventbus.Bus
	provider Provider
	interval time.Duration
	log      *slog.Logger

	cursors map[string]*replayCursor // owned by Run
}

// NewReplayFeed validates that date is a trading day.
func NewReplayFeed(date time.Time, deps Deps) (*ReplayFeed, error) {
	if !deps.Calendar.IsTradingDay(date) {
		return nil, fmt.Errorf("%w: %s, no historical data available", ErrNotTradingDay, date.Format(time.DateOnly))
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("feed: replay needs a data provider")
	}
	interval := deps.Config.ReplayInterval
	if interval <= 0 {
		interval = time.Second
	}
	y, m, d := date.Date()
	return &ReplayFeed{
		date:     time.Date(y, m, d, 0, 0, 0, 0, date.Location()),
		watch:    deps.Watchlist,
		bus:      deps.Bus,
		provider: deps.Provider,
		interval: interval,
		log:      deps.Log.With("component", "feed", "feed", "replay"),
		cursors:  make(map[string]*replayCursor),
	}, nil
}

// Name returns "replay".
func (f *ReplayFeed) Name() string { return "replay" }

// Date returns the day being replayed.
func (f *ReplayFeed) Date() time.Time { return f.date }

func (f *ReplayFeed) Run(ctx context.Context) error {
	f.log.Info("starting historical market data", "date", f.date.Format(time.DateOnly))
	return every(ctx, f.interval, func() { f.Step(ctx) })
}

// Step publishes the next bar of every watched symbol, loading a symbol's
// day the first time it is seen.
func (f *ReplayFeed) Step(ctx context.Context) {
	for _, symbol := range f.watch.Symbols() {
		cur, ok := f.cursors[symbol]
		if !ok {
			bars, err := f.provider.Fetch(ctx, domain.DataRequest{
				Symbol:     symbol,
				Start:      f.date,
				End:        f.date.AddDate(0, 0, 1),
				Resolution: domain.FiveSec,
			})
			if err != nil {
				f.log.Warn("loading replay data failed", "symbol", symbol, "error", err)
				continue
			}
			f.log.Info("loaded replay data", "symbol", symbol, "bars", len(bars))
			cur = &replayCursor{bars: bars}
			f.cursors[symbol] = cur
		}
		if len(cur.bars) == 0 {
			continue
		}
		if cur.next >= len(cur.bars) {
			f.log.Warn("Replaying data", "symbol", symbol)
			cur.next = 0
		}
		bar := cur.bars[cur.next]
		cur.next++
		publish(f.bus, f.Name(), bar)
	}
}
