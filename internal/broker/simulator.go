package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quant/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// DefaultSimulatorInterval is the pace at which simulated orders progress.
const DefaultSimulatorInterval = time.Second

// SimulatorBroker implements the Broker interface for paper trading without a
// brokerage connection. Every step moves each live order one state forward,
// Unposted to Pending to Submitted to Filled, and fills at the watchlist's
// last close.
type SimulatorBroker struct {
	*Ledger
	interval time.Duration
	log      *slog.Logger

	placeMu sync.Mutex // serialises id assignment with Append

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSimulatorBroker creates a simulator stepping every interval.
func NewSimulatorBroker(ledger *Ledger, interval time.Duration, log *slog.Logger) *SimulatorBroker {
	if interval <= 0 {
		interval = DefaultSimulatorInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &SimulatorBroker{
		Ledger:   ledger,
		interval: interval,
		log:      log.With("component", "broker", "broker", "simulator"),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Start launches the stepping goroutine.
func (b *SimulatorBroker) Start(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return false, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
	b.log.Info("simulator started", "interval", b.interval)
	return true, nil
}

func (b *SimulatorBroker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Step()
		}
	}
}

// Shutdown stops the stepping goroutine. Orders keep their current state.
func (b *SimulatorBroker) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	<-b.done
	b.cancel = nil
	b.log.Info("simulator stopped")
	return nil
}

// PlaceOrder books pos as an unposted order with the next slot as its id.
func (b *SimulatorBroker) PlaceOrder(_ context.Context, pos domain.Position) (domain.Order, error) {
	if err := b.checkSymbol(pos.Symbol); err != nil {
		return domain.Order{}, err
	}
	b.placeMu.Lock()
	defer b.placeMu.Unlock()
	o := domain.NewOrder(pos).WithID(int64(b.book.Len()))
	b.append(o)
	return o, nil
}

// CancelPendingOrders cancels every order that has not been submitted.
func (b *SimulatorBroker) CancelPendingOrders(_ context.Context) error {
	for _, o := range b.book.Cancellable() {
		b.advance(o.ID, domain.OrderCancelled, domain.NoFill)
	}
	return nil
}

// Step moves every live order one state forward. A submitted order fills
// only once its symbol has a price.
func (b *SimulatorBroker) Step() {
	for _, o := range b.book.Orders() {
		switch o.Status {
		case domain.OrderUnposted:
			b.advance(o.ID, domain.OrderPending, domain.NoFill)
		case domain.OrderPending:
			b.advance(o.ID, domain.OrderSubmitted, domain.NoFill)
		case domain.OrderSubmitted, domain.OrderPartiallyFilled:
			px, ok := b.watch.LastClose(o.Position.Symbol)
			if !ok || !px.IsPositive() {
				b.log.Debug("no price to fill at", "order_id", o.ID, "symbol", o.Position.Symbol)
				continue
			}
			b.advance(o.ID, domain.OrderFilled, domain.Fill{Price: px, Quantity: o.Position.Quantity})
		}
	}
}
