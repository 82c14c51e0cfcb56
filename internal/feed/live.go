package feed

import (
	"context"
	"log/slog"
	"time"

	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/session"
	"quant/internal/util"
	"quant/internal/watchlist"
)

// LiveFeed keeps the session's realtime subscriptions in line with the
// watchlist. The session publishes the bars itself.
type LiveFeed struct {
	session  *session.Session
	watch    *watchlist.WatchList
	bus      *eventbus.Bus
	interval time.Duration
	log      *slog.Logger
}

func NewLiveFeed(deps Deps) *LiveFeed {
	interval := deps.Config.SyncInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &LiveFeed{
		session:  deps.Session,
		watch:    deps.Watchlist,
		bus:      deps.Bus,
		interval: interval,
		log:      deps.Log.With("component", "feed", "feed", "live"),
	}
}

// Name returns "live".
func (f *LiveFeed) Name() string { return "live" }

// Run starts the session if needed and syncs subscriptions every interval.
// A session it started is shut down on return.
func (f *LiveFeed) Run(ctx context.Context) error {
	counted := eventbus.SubscribeContext(ctx, f.bus, func(domain.TickEvent) bool {
		ticksPublished.WithLabelValues(f.Name()).Inc()
		return false
	})
	defer counted.Unsubscribe()

	f.log.Info("starting live market data")
	return session.Exec(ctx, f.session, func(*session.Session) error {
		return every(ctx, f.interval, func() { f.Sync(ctx) })
	})
}

// Sync subscribes newly watched symbols and drops the ones no longer
// watched.
func (f *LiveFeed) Sync(ctx context.Context) {
	added, removed := util.Diff(f.session.Subscriptions(), f.watch.Symbols())
	for _, symbol := range added {
		if err := f.session.SubscribeRealtime(ctx, symbol); err != nil {
			f.log.Warn("subscribe failed", "symbol", symbol, "error", err)
		}
	}
	for _, symbol := range removed {
		if err := f.session.UnsubscribeRealtime(symbol); err != nil {
			f.log.Warn("unsubscribe failed", "symbol", symbol, "error", err)
		}
	}
}
