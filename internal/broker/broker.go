// Package broker defines the Broker interface and provides implementations
// for executing orders against a brokerage session or a local simulation.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/orderbook"
	"quant/internal/watchlist"
)

// ErrUnknownSymbol is returned for orders or P&L queries on a symbol that is
// not in the watchlist.
var ErrUnknownSymbol = errors.New("symbol not in watchlist")

var orderEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quant_broker_order_events_total",
	Help: "Order snapshots published on the bus, by status.",
}, []string{"status"})

// Broker abstracts order execution and position keeping.
type Broker interface {
	// Name returns the broker identifier (e.g. "session", "simulator").
	Name() string

	// Start brings the broker up. It reports true only when this call did
	// the startup.
	Start(ctx context.Context) (bool, error)

	Shutdown() error

	// CancelPendingOrders cancels every order that has not reached the
	// market yet.
	CancelPendingOrders(ctx context.Context) error

	// PlaceOrder sends pos to the market. The symbol must be watched.
	PlaceOrder(ctx context.Context, pos domain.Position) (domain.Order, error)

	// CurrentPositions returns the net position of every watched symbol.
	CurrentPositions() []domain.Position

	// PnL marks the filled orders of symbol at its last close.
	PnL(symbol string) (decimal.Decimal, error)
	TotalPnL() decimal.Decimal

	Orders() []domain.Order
	OpenOrders() []domain.Order
	FilledOrders() []domain.Order
}

// Ledger is the bookkeeping shared by the broker implementations: the order
// book, the watchlist used for prices and the bus order events go out on.
type Ledger struct {
	book  *orderbook.Book
	watch *watchlist.WatchList
	bus   *eventbus.Bus
	log   *slog.Logger
}

// NewLedger creates an empty ledger priced by watch.
func NewLedger(watch *watchlist.WatchList, bus *eventbus.Bus, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		book:  orderbook.New(),
		watch: watch,
		bus:   bus,
		log:   log,
	}
}

func (l *Ledger) Book() *orderbook.Book { return l.book }

func (l *Ledger) Watchlist() *watchlist.WatchList { return l.watch }

func (l *Ledger) checkSymbol(symbol string) error {
	if !l.watch.Contains(symbol) {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return nil
}

func (l *Ledger) CurrentPositions() []domain.Position {
	symbols := l.watch.Symbols()
	out := make([]domain.Position, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, l.book.CurrentPosition(s))
	}
	return out
}

func (l *Ledger) PnL(symbol string) (decimal.Decimal, error) {
	px, ok := l.watch.LastClose(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return l.book.PnL(symbol, px), nil
}

func (l *Ledger) TotalPnL() decimal.Decimal {
	return l.book.TotalPnL(l.watch.LastClose)
}

func (l *Ledger) Orders() []domain.Order       { return l.book.Orders() }
func (l *Ledger) OpenOrders() []domain.Order   { return l.book.Open() }
func (l *Ledger) FilledOrders() []domain.Order { return l.book.Filled() }

// append records a new order and announces it.
func (l *Ledger) append(o domain.Order) {
	l.book.Append(o)
	l.publish(o)
}

// advance applies a status change to order id. Stale and duplicate updates
// are dropped; accepted ones are published.
func (l *Ledger) advance(id int64, status domain.OrderStatus, fill domain.Fill) (domain.Order, bool) {
	o, changed, err := l.book.Update(id, func(o domain.Order) (domain.Order, bool) {
		return o.Advance(status, fill)
	})
	if err != nil {
		l.log.Warn("status for order not in book", "order_id", id, "status", status.String())
		return o, false
	}
	if !changed {
		l.log.Debug("ignoring stale order update", "order_id", id, "status", status.String())
		return o, false
	}
	l.publish(o)
	return o, true
}

func (l *Ledger) publish(o domain.Order) {
	orderEvents.WithLabelValues(o.Status.String()).Inc()
	l.log.Info("order update", "order", o.String())
	l.bus.Publish(domain.OrderEvent{Order: o})
}
