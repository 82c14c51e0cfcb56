// Package eventbus is a typed publish/subscribe bus. Events are routed by
// their exact dynamic type and delivered synchronously, in subscription
// order, on the publishing goroutine.
package eventbus

import (
	"context"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quant_eventbus_handler_failures_total",
	Help: "Event handlers that panicked during delivery, by event type.",
}, []string{"event"})

type entry struct {
	id      uint64
	ctx     context.Context // nil for permanent subscriptions
	handler func(any) bool
}

// Bus fans published events out to the handlers subscribed to their type.
type Bus struct {
	mu     sync.Mutex
	subs   map[reflect.Type][]*entry
	nextID uint64
	log    *slog.Logger
}

// New creates an empty bus. A nil logger uses slog.Default.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[reflect.Type][]*entry),
		log:  log.With("component", "eventbus"),
	}
}

// Subscription is the handle returned by Subscribe. Unsubscribe releases it.
type Subscription struct {
	bus *Bus
	typ reflect.Type
	id  uint64
}

// Unsubscribe removes the handler. Calling it more than once is harmless.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.remove(s.typ, s.id)
	}
}

// Subscribe registers handler for events of type E. If the handler returns
// true it is removed after that delivery.
func Subscribe[E any](b *Bus, handler func(E) bool) Subscription {
	return subscribe(context.Context(nil), b, handler)
}

// SubscribeContext registers handler for events of type E for as long as ctx
// is live. Once ctx is done the entry is dropped on the next publish without
// calling the handler.
func SubscribeContext[E any](ctx context.Context, b *Bus, handler func(E) bool) Subscription {
	return subscribe(ctx, b, handler)
}

// On registers a permanent handler for events of type E.
func On[E any](b *Bus, fn func(E)) Subscription {
	return Subscribe(b, func(e E) bool {
		fn(e)
		return false
	})
}

func subscribe[E any](ctx context.Context, b *Bus, handler func(E) bool) Subscription {
	typ := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	e := &entry{
		id:  b.nextID,
		ctx: ctx,
		handler: func(v any) bool {
			return handler(v.(E))
		},
	}
	b.subs[typ] = append(b.subs[typ], e)
	return Subscription{bus: b, typ: typ, id: e.id}
}

// Publish delivers event to every live subscriber of its type. A handler that
// panics is logged and skipped; delivery continues with the next one.
func (b *Bus) Publish(event any) {
	if event == nil {
		return
	}
	typ := reflect.TypeOf(event)

	b.mu.Lock()
	snapshot := make([]*entry, len(b.subs[typ]))
	copy(snapshot, b.subs[typ])
	b.mu.Unlock()

	for _, e := range snapshot {
		if e.ctx != nil && e.ctx.Err() != nil {
			b.log.Debug("dropping subscriber with finished context", "event", typ.String())
			b.remove(typ, e.id)
			continue
		}
		if b.deliver(typ, e, event) {
			b.remove(typ, e.id)
		}
	}
}

func (b *Bus) deliver(typ reflect.Type, e *entry, event any) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			handlerFailures.WithLabelValues(typ.String()).Inc()
			b.log.Error("event handler panicked",
				"event", typ.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			done = false
		}
	}()
	return e.handler(event)
}

// Subscribers returns the number of handlers registered for the type of event.
func (b *Bus) Subscribers(event any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[reflect.TypeOf(event)])
}

func (b *Bus) remove(typ reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[typ]
	for i, e := range list {
		if e.id == id {
			b.subs[typ] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[typ]) == 0 {
		delete(b.subs, typ)
	}
}
