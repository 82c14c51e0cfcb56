// Package engine runs a single trade: it opens, reduces and closes one
// position through a broker while rendering the market and order updates
// for the console.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quant/internal/broker"
	"quant/internal/console"
	"quant/internal/domain"
	"quant/internal/eventbus"
)

var (
	ErrAlreadyOpen = errors.New("position already open")
	ErrNoPosition  = errors.New("no open position")

	// ErrPositionOpen is returned by Shutdown while a position is open.
	ErrPositionOpen = errors.New("you must first close your open position")
)

// Option configures a Trader.
type Option func(*Trader)

func WithRiskManager(rm *RiskManager) Option {
	return func(t *Trader) { t.risk = rm }
}

// WithAwaitInterval sets how often outstanding orders are checked while
// closing.
func WithAwaitInterval(d time.Duration) Option {
	return func(t *Trader) { t.awaitInterval = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(t *Trader) { t.log = log }
}

// Trader manages one position in one symbol.
type Trader struct {
	position      domain.Position
	broker        broker.Broker
	out           *console.Renderer
	risk          *RiskManager
	awaitInterval time.Duration
	log           *slog.Logger

	mu        sync.Mutex
	isOpen    bool // a position was opened
	isClosed  bool // the opened position was closed out
	active    bool
	prevClose decimal.Decimal
	prevRef   decimal.Decimal
	subs      []eventbus.Subscription
}

// NewTrader creates a trader for pos placing orders through b.
func NewTrader(pos domain.Position, b broker.Broker, out *console.Renderer, opts ...Option) *Trader {
	t := &Trader{
		position:      pos,
		broker:        b,
		out:           out,
		risk:          NewRiskManager(0),
		awaitInterval: time.Second,
		log:           slog.Default(),
		active:        true,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "trader", "symbol", pos.Symbol)
	return t
}

// Attach renders ticks of the traded symbol and every order update published
// on bus. Detach undoes it.
func (t *Trader) Attach(bus *eventbus.Bus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs,
		eventbus.On(bus, func(e domain.TickEvent) {
			if e.Bar.Symbol == t.position.Symbol {
				t.OnBar(e.Bar)
			}
		}),
		eventbus.On(bus, func(e domain.OrderEvent) {
			t.out.Announce("Received order status: %s", e.Order)
		}),
	)
}

func (t *Trader) Detach() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Position returns the position this trader was created for.
func (t *Trader) Position() domain.Position { return t.position }

// OpenPosition places the initial order. It can only succeed once.
func (t *Trader) OpenPosition(ctx context.Context) error {
	t.mu.Lock()
	open := t.isOpen
	t.mu.Unlock()
	if open {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, t.position)
	}
	if err := t.risk.CheckOpen(t.position); err != nil {
		return err
	}

	t.out.Announce("Opening position: %s", t.position)
	if _, err := t.broker.PlaceOrder(ctx, t.position); err != nil {
		return fmt.Errorf("opening %s: %w", t.position, err)
	}
	t.mu.Lock()
	t.isOpen = true
	t.mu.Unlock()
	t.log.Info("position opened", "position", t.position.String())
	return nil
}

// OnBar prints a bar of the traded symbol, followed by the running P&L once
// the position is open.
func (t *Trader) OnBar(bar domain.Bar) {
	t.mu.Lock()
	prevClose, prevRef, open := t.prevClose, t.prevRef, t.isOpen
	t.prevClose, t.prevRef = bar.Close, bar.RefPrice
	t.mu.Unlock()

	line := t.out.Bar(bar, prevClose, prevRef)
	if open {
		if pnl, err := t.broker.PnL(t.position.Symbol); err == nil {
			line += fmt.Sprintf(" [P/L: %s]", t.out.PnL(pnl))
		}
	}
	t.out.Println(line)
}

// currentPosition returns the net position held in the traded symbol.
func (t *Trader) currentPosition() domain.Position {
	for _, p := range t.broker.CurrentPositions() {
		if p.Symbol == t.position.Symbol {
			return p
		}
	}
	return domain.Position{Symbol: t.position.Symbol, Direction: t.position.Direction}
}

func (t *Trader) pnl() string {
	pnl, err := t.broker.PnL(t.position.Symbol)
	if err != nil {
		return "n/a"
	}
	return console.FormatMoney(pnl)
}

// Status prints the position state followed by the open and filled orders.
func (t *Trader) Status() {
	t.mu.Lock()
	open, closed := t.isOpen, t.isClosed
	t.mu.Unlock()

	switch {
	case open && !closed:
		t.out.Println(fmt.Sprintf("\tCurrent position OPEN: %s with P/L %s", t.currentPosition(), t.pnl()))
	case closed:
		t.out.Println(fmt.Sprintf("\tCurrent position CLOSED: %s with P/L %s", t.position, t.pnl()))
	default:
		t.out.Println(fmt.Sprintf("\tPosition not yet open: %s", t.position))
	}

	printOrders := func(label string, orders []domain.Order) {
		t.out.Println(fmt.Sprintf("\t%s: %d", label, len(orders)))
		for _, o := range orders {
			t.out.Println("\t\t" + o.String())
		}
	}
	printOrders("Open orders", t.broker.OpenOrders())
	printOrders("Filled orders", t.broker.FilledOrders())
}

// HasOpenPosition reports whether a position was opened, not yet closed and
// still holds shares.
func (t *Trader) HasOpenPosition() bool {
	t.mu.Lock()
	open, closed := t.isOpen, t.isClosed
	t.mu.Unlock()
	if !open || closed {
		return false
	}
	for _, p := range t.broker.CurrentPositions() {
		if !p.IsNeutral() {
			return true
		}
	}
	return false
}

// ReducePosition trades qty shares against the current position.
func (t *Trader) ReducePosition(ctx context.Context, qty int64) error {
	if !t.HasOpenPosition() {
		return fmt.Errorf("%w to reduce", ErrNoPosition)
	}
	current := t.currentPosition()
	if err := t.risk.CheckReduce(current, qty); err != nil {
		return err
	}
	reduce := domain.Position{Symbol: t.position.Symbol, Direction: current.Direction.Reverse(), Quantity: qty}
	t.out.Announce("Placing reduce order %s", reduce)
	if _, err := t.broker.PlaceOrder(ctx, reduce); err != nil {
		return fmt.Errorf("reducing by %d: %w", qty, err)
	}
	return nil
}

// ClosePosition cancels what has not been submitted, waits for the rest and
// then reverses every remaining position.
func (t *Trader) ClosePosition(ctx context.Context) error {
	if !t.HasOpenPosition() {
		return fmt.Errorf("%w to close", ErrNoPosition)
	}

	open := t.broker.OpenOrders()
	t.out.Announce("Closing/awaiting %d open orders", len(open))
	if err := t.broker.CancelPendingOrders(ctx); err != nil {
		return fmt.Errorf("cancelling pending orders: %w", err)
	}
	if err := t.AwaitOpenOrders(ctx); err != nil {
		return err
	}

	for _, p := range t.broker.CurrentPositions() {
		if p.IsNeutral() {
			continue
		}
		reversal := p.Reverse()
		t.out.Announce("Placing reversal order %s", reversal)
		if _, err := t.broker.PlaceOrder(ctx, reversal); err != nil {
			return fmt.Errorf("reversing %s: %w", p, err)
		}
		if err := t.AwaitOpenOrders(ctx); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.isClosed = true
	t.mu.Unlock()
	t.log.Info("position closed", "pnl", t.pnl())
	return nil
}

// AwaitOpenOrders blocks until no order is live at the broker. Orders in an
// unknown state are not waited on.
func (t *Trader) AwaitOpenOrders(ctx context.Context) error {
	ticker := time.NewTicker(t.awaitInterval)
	defer ticker.Stop()
	for {
		open := t.broker.OpenOrders()
		for _, o := range open {
			t.out.Println(o.String())
		}
		if len(open) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops the broker. Without force it refuses while a position is
// open.
func (t *Trader) Shutdown(force bool) error {
	if t.HasOpenPosition() && !force {
		return ErrPositionOpen
	}
	t.Detach()
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
	if err := t.broker.Shutdown(); err != nil {
		return fmt.Errorf("shutting down %s broker: %w", t.broker.Name(), err)
	}
	return nil
}

// Active reports whether Shutdown has not happened yet.
func (t *Trader) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
