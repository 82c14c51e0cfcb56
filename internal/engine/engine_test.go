package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/internal/broker"
	"quant/internal/console"
	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/watchlist"
)

// syncBuffer guards a bytes.Buffer written from the simulator goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	bus    *eventbus.Bus
	watch  *watchlist.WatchList
	broker *broker.SimulatorBroker
	out    *syncBuffer
	trader *Trader
}

var long10 = domain.Position{Symbol: "AAPL", Direction: domain.Long, Quantity: 10}

func newFixture(t *testing.T, interval time.Duration, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{bus: eventbus.New(nil), watch: watchlist.New(), out: &syncBuffer{}}
	f.watch.AddSymbol("AAPL", decimal.NewFromInt(100))
	f.broker = broker.NewSimulatorBroker(broker.NewLedger(f.watch, f.bus, nil), interval, nil)
	opts = append([]Option{WithAwaitInterval(2 * time.Millisecond)}, opts...)
	f.trader = NewTrader(long10, f.broker, console.New(f.out), opts...)
	return f
}

// fill steps the simulator until every order placed so far is filled.
func (f *fixture) fill() {
	for i := 0; i < 3; i++ {
		f.broker.Step()
	}
}

func TestRiskManager(t *testing.T) {
	rm := NewRiskManager(100)
	assert.NoError(t, rm.CheckOpen(long10))
	assert.ErrorIs(t, rm.CheckOpen(domain.Position{Symbol: "AAPL", Quantity: 0}), ErrInvalidQuantity)
	assert.ErrorIs(t, rm.CheckOpen(domain.Position{Symbol: "AAPL", Quantity: 101}), ErrPositionLimit)
	assert.NoError(t, NewRiskManager(0).CheckOpen(domain.Position{Symbol: "AAPL", Quantity: 1_000_000}))

	assert.NoError(t, rm.CheckReduce(long10, 10))
	assert.ErrorIs(t, rm.CheckReduce(long10, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, rm.CheckReduce(long10, 11), ErrExceedsPosition)
}

func TestOpenPositionOnce(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.trader.OpenPosition(ctx))
	assert.ErrorIs(t, f.trader.OpenPosition(ctx), ErrAlreadyOpen)
	require.Len(t, f.broker.Orders(), 1)
	assert.Equal(t, long10, f.broker.Orders()[0].Position)
	assert.Contains(t, f.out.String(), "Opening position: LONG 10 AAPL")
}

func TestOpenPositionLimit(t *testing.T) {
	f := newFixture(t, time.Hour, WithRiskManager(NewRiskManager(5)))
	assert.ErrorIs(t, f.trader.OpenPosition(context.Background()), ErrPositionLimit)
	assert.Empty(t, f.broker.Orders())
}

func TestReducePosition(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	assert.ErrorIs(t, f.trader.ReducePosition(ctx, 1), ErrNoPosition)

	require.NoError(t, f.trader.OpenPosition(ctx))
	assert.False(t, f.trader.HasOpenPosition(), "nothing is filled yet")
	f.fill()
	require.True(t, f.trader.HasOpenPosition())

	assert.ErrorIs(t, f.trader.ReducePosition(ctx, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, f.trader.ReducePosition(ctx, 11), ErrExceedsPosition)
	require.NoError(t, f.trader.ReducePosition(ctx, 4))
	f.fill()

	orders := f.broker.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.Position{Symbol: "AAPL", Direction: domain.Short, Quantity: 4}, orders[1].Position)
	assert.Equal(t, []domain.Position{{Symbol: "AAPL", Direction: domain.Long, Quantity: 6}}, f.broker.CurrentPositions())
}

func TestClosePosition(t *testing.T) {
	f := newFixture(t, 2*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.broker.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.broker.Shutdown() })

	assert.ErrorIs(t, f.trader.ClosePosition(ctx), ErrNoPosition)

	require.NoError(t, f.trader.OpenPosition(ctx))
	require.Eventually(t, f.trader.HasOpenPosition, 2*time.Second, time.Millisecond)

	require.NoError(t, f.trader.ClosePosition(ctx))
	assert.False(t, f.trader.HasOpenPosition())
	assert.Equal(t, []domain.Position{{Symbol: "AAPL", Direction: domain.Long, Quantity: 0}}, f.broker.CurrentPositions())

	filled := f.broker.FilledOrders()
	require.Len(t, filled, 2)
	assert.Equal(t, domain.Position{Symbol: "AAPL", Direction: domain.Short, Quantity: 10}, filled[1].Position)

	f.trader.Status()
	assert.Contains(t, f.out.String(), "Current position CLOSED: LONG 10 AAPL with P/L $0.00")
	assert.Contains(t, f.out.String(), "Filled orders: 2")
}

func TestClosePositionCancelsPending(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.trader.OpenPosition(ctx))
	f.fill()
	require.NoError(t, f.trader.ReducePosition(ctx, 5))

	// The reduce order is still unposted, so closing cancels it and reverses
	// the full ten shares. The reversal is filled by a manual step.
	done := make(chan error, 1)
	go func() { done <- f.trader.ClosePosition(ctx) }()
	require.Eventually(t, func() bool { return len(f.broker.Orders()) == 3 }, 2*time.Second, time.Millisecond)
	f.fill()
	require.NoError(t, <-done)

	orders := f.broker.Orders()
	assert.Equal(t, domain.OrderCancelled, orders[1].Status)
	assert.Equal(t, domain.Position{Symbol: "AAPL", Direction: domain.Short, Quantity: 10}, orders[2].Position)
}

func TestShutdownRefusesOpenPosition(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.trader.OpenPosition(context.Background()))
	f.fill()

	assert.ErrorIs(t, f.trader.Shutdown(false), ErrPositionOpen)
	assert.True(t, f.trader.Active())
	require.NoError(t, f.trader.Shutdown(true))
	assert.False(t, f.trader.Active())
}

func TestBarsAndOrderEvents(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.trader.Attach(f.bus)
	defer f.trader.Detach()

	at := time.Date(2024, 7, 3, 10, 0, 0, 0, time.UTC)
	tick := func(symbol, px string) {
		b := domain.PlaceholderBar(symbol, decimal.RequireFromString(px))
		b.Time = at
		f.watch.Set(b)
		f.bus.Publish(domain.TickEvent{Bar: b})
	}

	tick("AAPL", "100")
	tick("MSFT", "400")
	require.NoError(t, f.trader.OpenPosition(context.Background()))
	f.fill()
	tick("AAPL", "110")

	out := f.out.String()
	assert.Contains(t, out, "2024-07-03 10:00:00 AAPL 100.00 O100.00-H100.00-L100.00-C100.00    0\n")
	assert.NotContains(t, out, "MSFT")
	assert.Contains(t, out, "Received order status: #0 LONG 10 AAPL UNPOSTED")
	assert.Contains(t, out, "Received order status: #0 LONG 10 AAPL FILLED (10 @ 100.00)")
	assert.Contains(t, out, "C110.00    0 [P/L: $100.00]")
}

func TestRunCommands(t *testing.T) {
	f := newFixture(t, time.Hour)
	in := strings.NewReader("x\n\no\nr 5\nQ\no\n")

	require.NoError(t, RunCommands(context.Background(), f.trader, in, console.New(f.out)))

	out := f.out.String()
	assert.Contains(t, out, "Commands:\n\tq: Quit the trader program\n")
	assert.Contains(t, out, "Unrecognized command x")
	assert.Contains(t, out, "Opening position: LONG 10 AAPL")
	assert.Contains(t, out, `Error executing "r 5"`)
	assert.Contains(t, out, "Force quit, without closing positions")
	assert.Equal(t, 1, strings.Count(out, "Opening position"), "commands after quit are not run")
	assert.False(t, f.trader.Active())
}

func TestRunCommandsReducePrompt(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.trader.OpenPosition(context.Background()))
	f.fill()

	in := strings.NewReader("r\n3\nq\nQ\n")
	require.NoError(t, RunCommands(context.Background(), f.trader, in, console.New(f.out)))

	out := f.out.String()
	assert.Contains(t, out, "Reduce position by how many shares?")
	assert.Contains(t, out, "Error executing \"q\": you must first close your open position")

	orders := f.broker.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.Position{Symbol: "AAPL", Direction: domain.Short, Quantity: 3}, orders[1].Position)
}

func TestRunCommandsStopsAtEOF(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, RunCommands(context.Background(), f.trader, strings.NewReader("s\n"), console.New(f.out)))
	assert.Contains(t, f.out.String(), "\tPosition not yet open: LONG 10 AAPL")
	assert.True(t, f.trader.Active())
}

// unknownOrderBroker reports one order stuck in an unrecognised state.
type unknownOrderBroker struct {
	broker.Broker
	orders []domain.Order
}

func (b *unknownOrderBroker) Orders() []domain.Order { return b.orders }

func (b *unknownOrderBroker) OpenOrders() []domain.Order {
	var out []domain.Order
	for _, o := range b.orders {
		if o.Status.Open() {
			out = append(out, o)
		}
	}
	return out
}

func TestAwaitOpenOrdersSkipsUnknown(t *testing.T) {
	f := newFixture(t, time.Hour)
	b := &unknownOrderBroker{
		Broker: f.broker,
		orders: []domain.Order{domain.NewOrder(long10).WithID(7).UpdateStatus(domain.OrderUnknown, domain.NoFill)},
	}
	tr := NewTrader(long10, b, console.New(f.out), WithAwaitInterval(2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, tr.AwaitOpenOrders(ctx))

	b.orders = append(b.orders, domain.NewOrder(long10).WithID(8).UpdateStatus(domain.OrderSubmitted, domain.NoFill))
	assert.ErrorIs(t, tr.AwaitOpenOrders(ctx), context.DeadlineExceeded)
}
