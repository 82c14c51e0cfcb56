package orderbook

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/internal/domain"
)

func filledOrder(id int64, d domain.Direction, qty int64, price int64) domain.Order {
	return domain.NewOrder(domain.Position{Symbol: "AAPL", Direction: d, Quantity: qty}).
		WithID(id).
		UpdateStatus(domain.OrderFilled, domain.Fill{Price: decimal.NewFromInt(price), Quantity: qty})
}

func TestAppendAndIndex(t *testing.T) {
	b := New()
	unposted := domain.NewOrder(domain.Position{Symbol: "AAPL", Direction: domain.Long, Quantity: 1})
	i := b.Append(unposted)
	j := b.Append(unposted.WithID(5))

	assert.Equal(t, 0, i)
	assert.Equal(t, 1, j)

	o, slot, ok := b.ByOrderID(5)
	require.True(t, ok)
	assert.Equal(t, 1, slot)
	assert.Equal(t, int64(5), o.ID)

	_, _, ok = b.ByOrderID(-1)
	assert.False(t, ok, "unposted orders are not indexed")
}

func TestSetRefreshesIndex(t *testing.T) {
	b := New()
	unposted := domain.NewOrder(domain.Position{Symbol: "AAPL", Direction: domain.Long, Quantity: 1})
	i := b.Append(unposted)

	require.NoError(t, b.Set(i, unposted.WithID(9)))
	_, slot, ok := b.ByOrderID(9)
	require.True(t, ok)
	assert.Equal(t, i, slot)

	require.NoError(t, b.Set(i, unposted.WithID(10)))
	_, _, ok = b.ByOrderID(9)
	assert.False(t, ok, "stale id is dropped from the index")

	assert.Error(t, b.Set(3, unposted))
}

func TestUpdateUnknownOrder(t *testing.T) {
	b := New()
	_, _, err := b.Update(77, func(o domain.Order) (domain.Order, bool) { return o, true })
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestViews(t *testing.T) {
	b := New()
	pos := domain.Position{Symbol: "MSFT", Direction: domain.Long, Quantity: 2}
	b.Append(domain.NewOrder(pos).WithID(1).UpdateStatus(domain.OrderPending, domain.NoFill))
	b.Append(domain.NewOrder(pos).WithID(2).UpdateStatus(domain.OrderSubmitted, domain.NoFill))
	b.Append(domain.NewOrder(pos).WithID(3).UpdateStatus(domain.OrderCancelled, domain.NoFill))
	b.Append(filledOrder(4, domain.Long, 10, 100))

	assert.Len(t, b.Open(), 2)
	assert.Len(t, b.Filled(), 1)
	assert.Len(t, b.Cancellable(), 1)
	assert.Len(t, b.For("MSFT"), 3)
	assert.Equal(t, []string{"AAPL", "MSFT"}, b.Symbols())
}

func TestCurrentPositionIsSignedSumOfFills(t *testing.T) {
	b := New()
	rng := rand.New(rand.NewSource(7))
	var signed int64
	for id := int64(0); id < 50; id++ {
		d := domain.Long
		if rng.Intn(2) == 0 {
			d = domain.Short
		}
		qty := int64(rng.Intn(100) + 1)
		signed += d.Sign() * qty
		b.Append(filledOrder(id, d, qty, 100))
	}
	// Unfilled orders do not count.
	b.Append(domain.NewOrder(domain.Position{Symbol: "AAPL", Direction: domain.Long, Quantity: 1000}).WithID(99))

	assert.Equal(t, signed, b.CurrentPosition("AAPL").Signed())
	assert.True(t, b.CurrentPosition("NONE").IsNeutral())
}

func TestPnL(t *testing.T) {
	b := New()
	b.Append(filledOrder(1, domain.Long, 10, 100))
	b.Append(filledOrder(2, domain.Short, 5, 104))

	// (110-100)*10 + (110-104)*5*-1 = 100 - 30
	got := b.PnL("AAPL", decimal.NewFromInt(110))
	assert.True(t, got.Equal(decimal.NewFromInt(70)), "got %s", got)

	total := b.TotalPnL(func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(110), true })
	assert.True(t, total.Equal(decimal.NewFromInt(70)))

	none := b.TotalPnL(func(string) (decimal.Decimal, bool) { return decimal.Zero, false })
	assert.True(t, none.IsZero())
}

func TestConcurrentUpdates(t *testing.T) {
	b := New()
	pos := domain.Position{Symbol: "AAPL", Direction: domain.Long, Quantity: 1}
	for id := int64(0); id < 20; id++ {
		b.Append(domain.NewOrder(pos).WithID(id))
	}

	var wg sync.WaitGroup
	for id := int64(0); id < 20; id++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			_, _, _ = b.Update(id, func(o domain.Order) (domain.Order, bool) {
				return o.Advance(domain.OrderFilled, domain.Fill{Price: decimal.NewFromInt(1), Quantity: 1})
			})
		}(id)
		go func() {
			defer wg.Done()
			_ = b.Open()
			_ = b.CurrentPosition("AAPL")
		}()
	}
	wg.Wait()

	assert.Len(t, b.Filled(), 20)
	assert.Equal(t, int64(20), b.CurrentPosition("AAPL").Quantity)
}
