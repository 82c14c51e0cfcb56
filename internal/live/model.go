// Package live provides a shared in-memory model of the latest bar per
// symbol, with stale-tick rejection and pub/sub for gRPC streaming.
package live

import (
	"sort"
	"sync"

	"quant/internal/domain"
	"quant/internal/eventbus"
)

// Model holds the latest bar of every symbol it has seen.
type Model struct {
	mu     sync.RWMutex
	latest map[string]domain.Bar

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.Bar
}

func NewModel() *Model {
	return &Model{
		latest: make(map[string]domain.Bar),
		subs:   make(map[int]chan domain.Bar),
	}
}

// Attach feeds every TickEvent published on bus into the model.
func (m *Model) Attach(bus *eventbus.Bus) eventbus.Subscription {
	return eventbus.On(bus, func(e domain.TickEvent) { m.Add(e.Bar) })
}

// Add records bar and notifies subscribers. A bar not newer than the one
// held for its symbol is a duplicate and is ignored; Add then returns false.
func (m *Model) Add(bar domain.Bar) bool {
	m.mu.Lock()
	if cur, ok := m.latest[bar.Symbol]; ok && !bar.Time.After(cur.Time) {
		m.mu.Unlock()
		return false
	}
	m.latest[bar.Symbol] = bar
	m.mu.Unlock()

	// Non-blocking send: a slow subscriber misses the tick.
	m.subsMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- bar:
		default:
		}
	}
	m.subsMu.Unlock()
	return true
}

// Get returns the latest bar for symbol.
func (m *Model) Get(symbol string) (domain.Bar, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.latest[symbol]
	return b, ok
}

// Snapshot returns the latest bars sorted by symbol. With symbols given only
// those are included.
func (m *Model) Snapshot(symbols ...string) []domain.Bar {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	m.mu.RLock()
	out := make([]domain.Bar, 0, len(m.latest))
	for s, b := range m.latest {
		if len(want) == 0 || want[s] {
			out = append(out, b)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.latest)
}

// Subscribe creates a new subscription channel for accepted bars.
func (m *Model) Subscribe(bufSize int) (id int, ch <-chan domain.Bar) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id = m.nextSubID
	m.nextSubID++
	c := make(chan domain.Bar, bufSize)
	m.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Model) Unsubscribe(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
}
