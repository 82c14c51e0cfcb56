// Package session owns a brokerage connection and turns its asynchronous
// callbacks into blocking calls, streaming events and order updates.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"quant/internal/channel"
	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/internal/transport"
)

var (
	// ErrNotReady is returned by Start when the connection does not announce
	// readiness in time.
	ErrNotReady = errors.New("broker connection not ready")

	// ErrNotStarted is returned by operations that need a running session.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadySubscribed is returned when a symbol already streams bars.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrNotSubscribed is returned when unsubscribing a symbol that does not
	// stream bars.
	ErrNotSubscribed = errors.New("not subscribed")
)

const (
	DefaultReadyTimeout   = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// OrderUpdate is a status callback for one order.
type OrderUpdate struct {
	OrderID      int64
	Status       string
	Filled       float64
	AvgFillPrice float64
}

// OrderListener follows the orders it places. OrderPosted runs before the
// order is transmitted; OrderStatusChanged runs on the transport goroutine.
type OrderListener interface {
	OrderPosted(order domain.Order)
	OrderStatusChanged(update OrderUpdate)
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithReadyTimeout(d time.Duration) Option {
	return func(s *Session) { s.readyTimeout = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) { s.requestTimeout = d }
}

// WithRequestBase sets the first request id handed out for data requests.
func WithRequestBase(base int64) Option {
	return func(s *Session) { s.requestBase = channel.Key(base) }
}

// Session is an explicitly constructed brokerage session. The zero value is
// not usable; call New.
type Session struct {
	transport      transport.Transport
	bus            *eventbus.Bus
	log            *slog.Logger
	readyTimeout   time.Duration
	requestTimeout time.Duration
	requestBase    channel.Key

	requests *channel.Registry // data requests, allocated ids
	orders   *channel.Registry // keyed by broker order id

	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	idMu        sync.Mutex
	nextOrderID int64
	ready       chan struct{}

	subMu sync.Mutex
	subs  map[string]*channel.Channel
}

// New creates a session over t publishing to bus.
func New(t transport.Transport, bus *eventbus.Bus, opts ...Option) *Session {
	s := &Session{
		transport:      t,
		bus:            bus,
		log:            slog.Default(),
		readyTimeout:   DefaultReadyTimeout,
		requestTimeout: DefaultRequestTimeout,
		requestBase:    channel.DefaultBase,
		nextOrderID:    -1,
		subs:           make(map[string]*channel.Channel),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	s.requests = channel.NewRegistry(s.requestBase, s.log)
	s.orders = channel.NewRegistry(0, s.log)
	return s
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start connects and launches the transport goroutine. It reports true only
// when this call did the startup, so the caller knows it owns Shutdown. When
// the connection does not become ready within the ready timeout the session
// is torn down again and ErrNotReady is returned.
func (s *Session) Start(ctx context.Context) (bool, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.running {
		s.log.Debug("session already started")
		return false, nil
	}

	ready := make(chan struct{})
	s.idMu.Lock()
	s.ready = ready
	s.idMu.Unlock()

	if err := s.transport.Connect(ctx, callbacks{s}); err != nil {
		return false, fmt.Errorf("connecting transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.transport.Run(runCtx); err != nil {
			s.log.Error("transport stopped", "error", err)
		}
	}()

	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
		s.log.Error("broker connection not ready", "timeout", s.readyTimeout)
		s.teardown(cancel, done)
		return false, ErrNotReady
	case <-ctx.Done():
		s.teardown(cancel, done)
		return false, ctx.Err()
	}

	s.running = true
	s.cancel = cancel
	s.done = done
	s.log.Info("session started", "next_order_id", s.peekOrderID())
	return true, nil
}

func (s *Session) teardown(cancel context.CancelFunc, done chan struct{}) {
	cancel()
	if err := s.transport.Disconnect(); err != nil {
		s.log.Warn("disconnect failed", "error", err)
	}
	<-done
}

// Shutdown stops the transport goroutine and disconnects. Pending requests
// are woken with whatever they have accumulated.
func (s *Session) Shutdown() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	err := s.transport.Disconnect()
	<-s.done

	s.requests.CloseAll()
	s.orders.CloseAll()
	s.subMu.Lock()
	s.subs = make(map[string]*channel.Channel)
	s.subMu.Unlock()

	s.log.Info("session stopped")
	if err != nil {
		return fmt.Errorf("disconnecting transport: %w", err)
	}
	return nil
}

// Running reports whether the session is started.
func (s *Session) Running() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.running
}

// Exec runs fn with a started session and shuts it down afterwards only if
// Exec was the one to start it.
func Exec(ctx context.Context, s *Session, fn func(*Session) error) error {
	started, err := s.Start(ctx)
	if err != nil {
		return err
	}
	if started {
		defer func() {
			if err := s.Shutdown(); err != nil {
				s.log.Warn("shutdown failed", "error", err)
			}
		}()
	}
	return fn(s)
}

func (s *Session) takeOrderID() (int64, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if s.nextOrderID < 0 {
		return 0, ErrNotStarted
	}
	id := s.nextOrderID
	s.nextOrderID++
	return id, nil
}

func (s *Session) peekOrderID() int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.nextOrderID
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// PlaceOrder transmits pos as a new order and routes its status callbacks to
// l. It does not wait for an acknowledgement.
func (s *Session) PlaceOrder(ctx context.Context, pos domain.Position, l OrderListener) (domain.Order, error) {
	if !s.Running() {
		return domain.Order{}, ErrNotStarted
	}
	id, err := s.takeOrderID()
	if err != nil {
		return domain.Order{}, err
	}
	ch, err := s.orders.Open(channel.Key(id), pos)
	if err != nil {
		return domain.Order{}, err
	}
	ch.AddHandler(func(rec any) {
		if u, ok := rec.(OrderUpdate); ok {
			l.OrderStatusChanged(u)
		}
	})

	order := domain.NewOrder(pos).WithID(id).UpdateStatus(domain.OrderPending, domain.NoFill)
	l.OrderPosted(order)

	if _, err := ch.Invoke(ctx, func() error { return s.transport.PlaceOrder(id, pos) }, 0); err != nil {
		l.OrderStatusChanged(OrderUpdate{OrderID: id, Status: domain.StatusInactive})
		return order, fmt.Errorf("placing order %d: %w", id, err)
	}
	s.log.Info("order placed", "order_id", id, "position", pos.String())
	return order, nil
}

// CancelOrder asks the broker to cancel an order. The outcome arrives as a
// status callback.
func (s *Session) CancelOrder(_ context.Context, orderID int64) error {
	if !s.Running() {
		return ErrNotStarted
	}
	if err := s.transport.CancelOrder(orderID); err != nil {
		return fmt.Errorf("cancelling order %d: %w", orderID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Request/response
// ---------------------------------------------------------------------------

// HistoricalData fetches bars for req. A timed-out request returns the bars
// received so far.
func (s *Session) HistoricalData(ctx context.Context, req domain.DataRequest) (*domain.SymbolData, error) {
	if !s.Running() {
		return nil, ErrNotStarted
	}
	data := domain.NewSymbolData(req.Symbol)
	ch := s.requests.Allocate(req.Symbol)
	ch.SetResult(data)
	ch.AddHandler(func(rec any) {
		if bar, ok := rec.(domain.Bar); ok {
			data.Append(bar)
		}
	})

	key := int64(ch.Key())
	_, err := ch.Invoke(ctx, func() error {
		return s.transport.RequestHistoricalData(key, req)
	}, s.requestTimeout)
	if err != nil {
		return data, fmt.Errorf("historical data for %s: %w", req.Symbol, err)
	}
	s.log.Debug("historical data received", "request", req.String(), "bars", data.Len())
	return data, nil
}

// ScannerParameters fetches the scanner parameter document.
func (s *Session) ScannerParameters(ctx context.Context) (string, error) {
	if !s.Running() {
		return "", ErrNotStarted
	}
	ch, err := s.requests.Open(channel.ScannerParamsKey, nil)
	if err != nil {
		return "", err
	}
	res, err := ch.Invoke(ctx, s.transport.RequestScannerParameters, s.requestTimeout)
	if err != nil {
		return "", fmt.Errorf("scanner parameters: %w", err)
	}
	xml, _ := res.(string)
	return xml, nil
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// SubscribeRealtime streams bars for symbol as TickEvents until
// UnsubscribeRealtime.
func (s *Session) SubscribeRealtime(ctx context.Context, symbol string) error {
	if !s.Running() {
		return ErrNotStarted
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[symbol]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, symbol)
	}

	ch := s.requests.Allocate(symbol)
	ch.AddHandler(func(rec any) {
		if bar, ok := rec.(domain.Bar); ok {
			s.bus.Publish(domain.TickEvent{Bar: bar})
		}
	})
	key := int64(ch.Key())
	if _, err := ch.Invoke(ctx, func() error { return s.transport.RequestRealtimeBars(key, symbol) }, 0); err != nil {
		return fmt.Errorf("subscribing %s: %w", symbol, err)
	}
	s.subs[symbol] = ch
	s.log.Info("subscribed to realtime bars", "symbol", symbol, "request_id", key)
	return nil
}

// UnsubscribeRealtime stops the stream for symbol.
func (s *Session) UnsubscribeRealtime(symbol string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch, ok := s.subs[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, symbol)
	}
	delete(s.subs, symbol)
	ch.Close(nil)
	if err := s.transport.CancelRealtimeBars(int64(ch.Key())); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", symbol, err)
	}
	s.log.Info("unsubscribed from realtime bars", "symbol", symbol)
	return nil
}

// Subscriptions returns the symbols with an active realtime stream.
func (s *Session) Subscriptions() []string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

// callbacks adapts the session to transport.Wrapper without exporting the
// callback methods on Session.
type callbacks struct{ s *Session }

var _ transport.Wrapper = callbacks{}

func (c callbacks) NextValidID(orderID int64) {
	s := c.s
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if orderID > s.nextOrderID {
		s.nextOrderID = orderID
	}
	if s.ready != nil {
		close(s.ready)
		s.ready = nil
	}
}

func (c callbacks) HistoricalData(reqID int64, bar domain.Bar) {
	if ch, ok := c.s.requests.Get(channel.Key(reqID)); ok {
		ch.OnData(bar)
		return
	}
	c.s.log.Debug("dropping historical bar for closed request", "request_id", reqID)
}

func (c callbacks) HistoricalDataEnd(reqID int64) {
	if ch, ok := c.s.requests.Get(channel.Key(reqID)); ok {
		ch.Close(nil)
	}
}

func (c callbacks) RealtimeBar(reqID int64, bar domain.Bar) {
	if ch, ok := c.s.requests.Get(channel.Key(reqID)); ok {
		ch.OnData(bar)
		return
	}
	c.s.log.Debug("dropping realtime bar for closed subscription", "request_id", reqID)
}

func (c callbacks) ScannerParameters(xml string) {
	if ch, ok := c.s.requests.Get(channel.ScannerParamsKey); ok {
		ch.Close(xml)
	}
}

func (c callbacks) OrderStatus(orderID int64, status string, filled float64, avgFillPrice float64) {
	s := c.s
	ch, ok := s.orders.Get(channel.Key(orderID))
	if !ok {
		s.log.Warn("status for unknown order", "order_id", orderID, "status", status)
		return
	}
	if filled != math.Trunc(filled) {
		s.log.Warn("fractional fill quantity", "order_id", orderID, "filled", filled)
	}
	ch.OnData(OrderUpdate{OrderID: orderID, Status: status, Filled: filled, AvgFillPrice: avgFillPrice})
	if domain.ParseOrderStatus(status).Terminal() {
		ch.Close(nil)
	}
}

func (c callbacks) Error(reqID int64, code int, msg string) {
	s := c.s
	if transport.Informational(code) {
		s.log.Debug("broker message", "request_id", reqID, "code", code, "msg", msg)
		return
	}
	s.log.Error("broker error", "request_id", reqID, "code", code, "msg", msg)

	// Order ids and request ids are separate spaces; a live order owns its id.
	if ch, ok := s.orders.Get(channel.Key(reqID)); ok {
		ch.OnData(OrderUpdate{OrderID: reqID, Status: domain.StatusInactive})
		ch.Close(nil)
		return
	}
	ch, ok := s.requests.Get(channel.Key(reqID))
	if !ok {
		return
	}
	s.subMu.Lock()
	for sym, sub := range s.subs {
		if sub == ch {
			delete(s.subs, sym)
		}
	}
	s.subMu.Unlock()
	ch.Close(nil)
}
