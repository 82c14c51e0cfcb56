// Package orderbook keeps the ordered history of order snapshots together
// with an index from broker order id to slot, under a single lock.
package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"quant/internal/domain"
)

// ErrUnknownOrder is returned for an order id that is not in the book.
var ErrUnknownOrder = errors.New("unknown order id")

// Book is safe for concurrent use by order placement and status callbacks.
type Book struct {
	mu     sync.RWMutex
	orders []domain.Order
	index  map[int64]int // order id -> slot, for orders with an assigned id
}

// New creates an empty book.
func New() *Book {
	return &Book{index: make(map[int64]int)}
}

// Append adds an order and returns its slot.
func (b *Book) Append(o domain.Order) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, o)
	i := len(b.orders) - 1
	b.reindexLocked(i, domain.Order{ID: -1}, o)
	return i
}

// Set replaces the order in slot i and refreshes the index.
func (b *Book) Set(i int, o domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.orders) {
		return fmt.Errorf("slot %d out of range [0,%d)", i, len(b.orders))
	}
	old := b.orders[i]
	b.orders[i] = o
	b.reindexLocked(i, old, o)
	return nil
}

func (b *Book) reindexLocked(i int, old, cur domain.Order) {
	if old.ID >= 0 && old.ID != cur.ID {
		if j, ok := b.index[old.ID]; ok && j == i {
			delete(b.index, old.ID)
		}
	}
	if cur.ID >= 0 {
		b.index[cur.ID] = i
	}
}

// ByOrderID returns the order with the given broker id and its slot.
func (b *Book) ByOrderID(id int64) (domain.Order, int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.index[id]
	if !ok {
		return domain.Order{}, -1, false
	}
	return b.orders[i], i, true
}

// Update replaces the order with the given id by fn's result. When fn reports
// no change the book is left untouched and changed is false.
func (b *Book) Update(id int64, fn func(domain.Order) (domain.Order, bool)) (domain.Order, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[id]
	if !ok {
		return domain.Order{}, false, fmt.Errorf("%w: %d", ErrUnknownOrder, id)
	}
	old := b.orders[i]
	next, changed := fn(old)
	if !changed {
		return old, false, nil
	}
	b.orders[i] = next
	b.reindexLocked(i, old, next)
	return next, true, nil
}

// Len returns the number of orders.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

// Orders returns a snapshot of every order in placement order.
func (b *Book) Orders() []domain.Order {
	return b.filter(func(domain.Order) bool { return true })
}

// Open returns orders that are live at the broker.
func (b *Book) Open() []domain.Order {
	return b.filter(func(o domain.Order) bool { return o.Status.Open() })
}

// Filled returns completely filled orders.
func (b *Book) Filled() []domain.Order {
	return b.filter(func(o domain.Order) bool { return o.Status == domain.OrderFilled })
}

// Cancellable returns orders that can still be cancelled.
func (b *Book) Cancellable() []domain.Order {
	return b.filter(func(o domain.Order) bool { return o.Status.Cancellable() })
}

// For returns the orders of one symbol.
func (b *Book) For(symbol string) []domain.Order {
	return b.filter(func(o domain.Order) bool { return o.Position.Symbol == symbol })
}

func (b *Book) filter(keep func(domain.Order) bool) []domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.Order
	for _, o := range b.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Symbols returns the sorted set of symbols with orders in the book.
func (b *Book) Symbols() []string {
	b.mu.RLock()
	seen := make(map[string]bool)
	for _, o := range b.orders {
		seen[o.Position.Symbol] = true
	}
	b.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CurrentPosition folds the executed quantity of every order in symbol into
// one net position.
func (b *Book) CurrentPosition(symbol string) domain.Position {
	var filled []domain.Position
	for _, o := range b.For(symbol) {
		if p := o.FilledPosition(); !p.IsNeutral() {
			filled = append(filled, p)
		}
	}
	// All positions share symbol, so the fold cannot fail.
	net, _ := domain.SumPositions(symbol, filled...)
	return net
}

// PnL sums the profit or loss of the filled orders in symbol at price.
func (b *Book) PnL(symbol string, price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, o := range b.For(symbol) {
		total = total.Add(o.PnL(price))
	}
	return total
}

// TotalPnL sums PnL across the book. Symbols without a price are skipped.
func (b *Book) TotalPnL(price func(symbol string) (decimal.Decimal, bool)) decimal.Decimal {
	total := decimal.Zero
	for _, s := range b.Symbols() {
		if p, ok := price(s); ok {
			total = total.Add(b.PnL(s, p))
		}
	}
	return total
}
