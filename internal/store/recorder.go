package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quant/internal/domain"
	"quant/internal/eventbus"
)

// DefaultRecorderBuffer is the number of order snapshots queued for writing.
const DefaultRecorderBuffer = 256

// OrderRecorder persists every published OrderEvent on its own goroutine so
// bus delivery never waits on the database. When the queue is full the
// snapshot is dropped with a warning.
type OrderRecorder struct {
	store OrderStore
	log   *slog.Logger
	sub   eventbus.Subscription

	mu     sync.Mutex
	closed bool
	queue  chan domain.Order
	done   chan struct{}
}

// StartOrderRecorder subscribes to order events on bus and starts writing
// them to st.
func StartOrderRecorder(bus *eventbus.Bus, st OrderStore, log *slog.Logger, buffer int) *OrderRecorder {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	r := &OrderRecorder{
		store: st,
		log:   log.With("component", "order-recorder"),
		queue: make(chan domain.Order, buffer),
		done:  make(chan struct{}),
	}
	r.sub = eventbus.On(bus, r.enqueue)
	go r.run()
	return r
}

func (r *OrderRecorder) enqueue(e domain.OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if e.Order.ID < 0 {
		return
	}
	select {
	case r.queue <- e.Order:
	default:
		r.log.Warn("order recorder queue full, dropping snapshot", "order_id", e.Order.ID, "status", e.Order.Status.String())
	}
}

func (r *OrderRecorder) run() {
	defer close(r.done)
	for o := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.SaveOrder(ctx, o); err != nil {
			r.log.Error("saving order", "order_id", o.ID, "error", err)
		}
		cancel()
	}
}

// Close stops recording and waits for queued snapshots to be written.
func (r *OrderRecorder) Close() {
	r.sub.Unsubscribe()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}
