package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/watchlist"
)

// RandomFeed walks every watched symbol randomly from its last close.
type RandomFeed struct {
	watch    *watchlist.WatchList
	bus      *eventbus.Bus
	lookup   PriceLookup
	interval time.Duration
	now      func() time.Time
	rng      *rand.Rand
	log      *slog.Logger
}

func NewRandomFeed(deps Deps) *RandomFeed {
	interval := deps.Config.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RandomFeed{
		watch:    deps.Watchlist,
		bus:      deps.Bus,
		lookup:   deps.Lookup,
		interval: interval,
		now:      deps.Now,
		rng:      rand.New(rand.NewSource(deps.Now().UnixNano())),
		log:      deps.Log.With("component", "feed", "feed", "random"),
	}
}

// Name returns "random".
func (f *RandomFeed) Name() string { return "random" }

func (f *RandomFeed) Run(ctx context.Context) error {
	f.log.Info("starting random market data", "interval", f.interval)
	return every(ctx, f.interval, func() { f.Step(ctx) })
}

// Step publishes one bar for every watched symbol. A symbol without a price
// is seeded from the lookup first and skipped if that fails.
func (f *RandomFeed) Step(ctx context.Context) {
	for _, last := range f.watch.Items() {
		prev := last.Close
		if !prev.IsPositive() {
			if f.lookup == nil {
				f.log.Warn("no price for symbol", "symbol", last.Symbol)
				continue
			}
			f.log.Info("looking up newly added symbol", "symbol", last.Symbol)
			px, err := f.lookup(ctx, last.Symbol)
			if err != nil {
				f.log.Warn("price lookup failed", "symbol", last.Symbol, "error", err)
				continue
			}
			f.watch.AddSymbol(last.Symbol, px)
			prev = px
		}
		bar := domain.WalkBar(f.rng, last.Symbol, prev, f.now())
		f.watch.Set(bar)
		publish(f.bus, f.Name(), bar)
	}
}
