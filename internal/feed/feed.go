// Package feed produces market data. Every feed publishes domain.TickEvents
// on the bus for the symbols of the watchlist.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quant/internal/config"
	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/session"
	"quant/internal/util"
	"quant/internal/watchlist"
)

var (
	// ErrNotTradingDay is returned when replay is asked for a day the market
	// was closed.
	ErrNotTradingDay = errors.New("not a trading day")

	// ErrUnknownSource is returned by New for an unrecognised source.
	ErrUnknownSource = errors.New("unknown feed source")
)

var ticksPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quant_feed_ticks_published_total",
	Help: "Ticks published on the bus, by feed.",
}, []string{"feed"})

// Feed is a running source of ticks.
type Feed interface {
	// Name returns the feed identifier.
	Name() string
	// Run publishes ticks. It blocks until ctx is cancelled.
	Run(ctx context.Context) error
}

// TradingDays reports whether the market is open on a given day.
type TradingDays interface {
	IsTradingDay(t time.Time) bool
}

// Deps carries what the feeds are built from. Only the fields a source needs
// have to be set.
type Deps struct {
	Bus       *eventbus.Bus
	Watchlist *watchlist.WatchList
	Session   *session.Session // live
	Provider  Provider         // replay, and price lookup for random
	Lookup    PriceLookup      // random; defaults to LastDailyClose(Provider)
	Calendar  TradingDays      // replay; defaults to the static NYSE calendar
	Config    config.Feed
	Log       *slog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Calendar == nil {
		d.Calendar = util.NewTradingCalendar()
	}
	if d.Lookup == nil && d.Provider != nil {
		d.Lookup = LastDailyClose(d.Provider, d.Now)
	}
	return d
}

// New builds the feed named by source: "live", "random" or a replay date
// such as "2022-09-08" or "yesterday".
func New(source string, deps Deps) (Feed, error) {
	deps = deps.withDefaults()
	if deps.Bus == nil || deps.Watchlist == nil {
		return nil, errors.New("feed: bus and watchlist are required")
	}

	switch s := strings.ToLower(strings.TrimSpace(source)); s {
	case "live":
		if deps.Session == nil {
			return nil, errors.New("feed: live source needs a session")
		}
		return NewLiveFeed(deps), nil
	case "random":
		return NewRandomFeed(deps), nil
	default:
		date, err := util.ParseDate(s, deps.Now(), location(deps.Calendar))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
		}
		return NewReplayFeed(date, deps)
	}
}

func location(cal TradingDays) *time.Location {
	if l, ok := cal.(interface{ Location() *time.Location }); ok {
		return l.Location()
	}
	return time.Local
}

// publish sends one tick and counts it against feed.
func publish(bus *eventbus.Bus, feed string, bar domain.Bar) {
	ticksPublished.WithLabelValues(feed).Inc()
	bus.Publish(domain.TickEvent{Bar: bar})
}

// every calls fn immediately and then on each tick of interval until ctx is
// done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
