// Package watchlist keeps the most recent bar for every symbol of interest.
package watchlist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/store"
)

// WatchList maps symbols to their latest bar. It is safe for concurrent use.
type WatchList struct {
	mu   sync.RWMutex
	last map[string]domain.Bar
}

// New creates a watchlist seeded with zero-price placeholders for symbols.
func New(symbols ...string) *WatchList {
	w := &WatchList{last: make(map[string]domain.Bar)}
	for _, s := range symbols {
		w.AddSymbol(s, decimal.Zero)
	}
	return w
}

// Attach keeps the watchlist current from TickEvents published on bus.
func (w *WatchList) Attach(bus *eventbus.Bus) eventbus.Subscription {
	return eventbus.On(bus, func(e domain.TickEvent) {
		w.Set(e.Bar)
	})
}

// AddSymbol registers interest in symbol. A placeholder at price is seeded
// only when the symbol is unknown or its recorded close is zero, so a known
// price is never clobbered by re-registration.
func (w *WatchList) AddSymbol(symbol string, price decimal.Decimal) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.last[symbol]; ok && !cur.Close.IsZero() {
		return
	}
	w.last[symbol] = domain.PlaceholderBar(symbol, price)
}

// Set records bar as the latest for its symbol.
func (w *WatchList) Set(bar domain.Bar) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last[bar.Symbol] = bar
}

// Get returns the latest bar for symbol.
func (w *WatchList) Get(symbol string) (domain.Bar, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.last[symbol]
	return b, ok
}

// LastClose returns the latest close for symbol. It satisfies the price
// lookup used for P&L.
func (w *WatchList) LastClose(symbol string) (decimal.Decimal, bool) {
	b, ok := w.Get(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return b.Close, true
}

// Remove drops symbol. It reports whether the symbol was present.
func (w *WatchList) Remove(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.last[symbol]; !ok {
		return false
	}
	delete(w.last, symbol)
	return true
}

func (w *WatchList) Contains(symbol string) bool {
	_, ok := w.Get(symbol)
	return ok
}

func (w *WatchList) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.last)
}

// Symbols returns the watched symbols in sorted order.
func (w *WatchList) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.last))
	for s := range w.last {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Items returns a snapshot of the latest bars, sorted by symbol.
func (w *WatchList) Items() []domain.Bar {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.Bar, 0, len(w.last))
	for _, b := range w.last {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// Load builds a watchlist from the symbols held by st.
func Load(ctx context.Context, st store.SymbolStore) (*WatchList, error) {
	symbols, err := st.LoadSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading watchlist: %w", err)
	}
	return New(symbols...), nil
}

// Save replaces the symbols held by st with the watched symbols.
func (w *WatchList) Save(ctx context.Context, st store.SymbolStore) error {
	if err := st.SaveSymbols(ctx, w.Symbols()); err != nil {
		return fmt.Errorf("saving watchlist: %w", err)
	}
	return nil
}
