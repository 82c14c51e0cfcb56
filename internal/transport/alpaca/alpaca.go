// Package alpaca adapts the Alpaca REST SDK to transport.Transport. Requests
// are queued and performed on the Run goroutine, which also polls realtime
// bars and the status of live orders.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	alp "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quant/internal/config"
	"quant/internal/domain"
	"quant/internal/transport"
	"quant/internal/util"
)

// Compile-time interface checks.
var (
	_ transport.Transport = (*Transport)(nil)
	_ TradingClient       = (*alp.Client)(nil)
	_ DataClient          = (*marketdata.Client)(nil)
)

var errQueueFull = errors.New("alpaca: request queue full")

// TradingClient is the part of the Alpaca trading API the transport uses.
type TradingClient interface {
	PlaceOrder(req alp.PlaceOrderRequest) (*alp.Order, error)
	GetOrder(orderID string) (*alp.Order, error)
	CancelOrder(orderID string) error
}

// DataClient is the part of the Alpaca market-data API the transport uses.
type DataClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetLatestBar(symbol string, req marketdata.GetLatestBarRequest) (*marketdata.Bar, error)
}

// Options tunes request pacing.
type Options struct {
	Feed            string        // "iex" or "sip"
	PollInterval    time.Duration // realtime bars and order status
	RateLimitPerMin int
	MaxAttempts     int
	RetryDelay      time.Duration
	FirstOrderID    int64
}

func (o *Options) defaults() {
	if o.Feed == "" {
		o.Feed = "iex"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.FirstOrderID <= 0 {
		o.FirstOrderID = 1
	}
}

// NewClients builds the SDK clients from configuration.
func NewClients(cfg config.Alpaca) (*alp.Client, *marketdata.Client) {
	trading := alp.NewClient(alp.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return trading, marketdata.NewClient(opts)
}

type stream struct {
	symbol string
	last   time.Time
}

type trackedOrder struct {
	alpacaID string
	status   string
	filled   float64
	avgPrice float64
}

// Transport is the Alpaca-backed venue.
type Transport struct {
	trading TradingClient
	data    DataClient
	opts    Options
	limiter *util.RateLimiter
	log     *slog.Logger
	jobs    chan func(ctx context.Context, w transport.Wrapper)

	mu        sync.Mutex
	w         transport.Wrapper
	connected bool

	// Owned by the Run goroutine.
	streams map[int64]*stream
	orders  map[int64]*trackedOrder
}

// New creates a transport over the given clients.
func New(trading TradingClient, data DataClient, opts Options, log *slog.Logger) *Transport {
	opts.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		trading: trading,
		data:    data,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     log.With("component", "alpaca"),
		jobs:    make(chan func(context.Context, transport.Wrapper), 256),
		streams: make(map[int64]*stream),
		orders:  make(map[int64]*trackedOrder),
	}
}

func (t *Transport) Connect(_ context.Context, w transport.Wrapper) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w = w
	t.connected = true
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *Transport) wrapper() (transport.Wrapper, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w, t.connected
}

// Run announces the first order id, then performs queued requests and polls
// until ctx is done.
func (t *Transport) Run(ctx context.Context) error {
	w, ok := t.wrapper()
	if !ok {
		return transport.ErrNotConnected
	}
	w.NextValidID(t.opts.FirstOrderID)

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-t.jobs:
			job(ctx, w)
		case <-ticker.C:
			t.pollStreams(ctx, w)
			t.pollOrders(ctx, w)
		}
	}
}

func (t *Transport) enqueue(job func(context.Context, transport.Wrapper)) error {
	if _, ok := t.wrapper(); !ok {
		return transport.ErrNotConnected
	}
	select {
	case t.jobs <- job:
		return nil
	default:
		return errQueueFull
	}
}

// call performs one rate-limited API call with retries.
func (t *Transport) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, t.opts.MaxAttempts, t.opts.RetryDelay, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		return fn()
	})
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// TimeFrame maps a resolution to the Alpaca bar timeframe. Sub-minute
// resolutions use minute bars, the finest Alpaca serves.
func TimeFrame(r domain.Resolution) marketdata.TimeFrame {
	switch {
	case r >= domain.Month:
		return marketdata.NewTimeFrame(1, marketdata.Month)
	case r >= domain.Week:
		return marketdata.NewTimeFrame(1, marketdata.Week)
	case r >= domain.Day:
		return marketdata.OneDay
	}
	return marketdata.OneMin
}

// ToBar converts an Alpaca bar.
func ToBar(symbol string, b marketdata.Bar) domain.Bar {
	return domain.Bar{
		Symbol:   strings.ToUpper(symbol),
		Time:     b.Timestamp,
		Open:     domain.Price(b.Open),
		High:     domain.Price(b.High),
		Low:      domain.Price(b.Low),
		Close:    domain.Price(b.Close),
		RefPrice: domain.Price(b.VWAP),
		Volume:   int64(b.Volume),
	}
}

// Bars fetches bars for req directly, outside the request queue.
func (t *Transport) Bars(ctx context.Context, req domain.DataRequest) ([]domain.Bar, error) {
	var raw []marketdata.Bar
	err := t.call(ctx, func() error {
		var err error
		raw, err = t.data.GetBars(req.Symbol, marketdata.GetBarsRequest{
			TimeFrame: TimeFrame(req.Resolution),
			Start:     req.Start,
			End:       req.End,
			Feed:      marketdata.Feed(t.opts.Feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", req.Symbol, err)
	}
	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, ToBar(req.Symbol, b))
	}
	return bars, nil
}

func (t *Transport) RequestHistoricalData(reqID int64, req domain.DataRequest) error {
	return t.enqueue(func(ctx context.Context, w transport.Wrapper) {
		bars, err := t.Bars(ctx, req)
		if err != nil {
			w.Error(reqID, transport.CodeRequestFailed, err.Error())
			return
		}
		for _, b := range bars {
			w.HistoricalData(reqID, b)
		}
		w.HistoricalDataEnd(reqID)
	})
}

func (t *Transport) RequestRealtimeBars(reqID int64, symbol string) error {
	return t.enqueue(func(context.Context, transport.Wrapper) {
		t.streams[reqID] = &stream{symbol: strings.ToUpper(symbol)}
	})
}

func (t *Transport) CancelRealtimeBars(reqID int64) error {
	return t.enqueue(func(context.Context, transport.Wrapper) {
		delete(t.streams, reqID)
	})
}

// pollStreams emits the latest minute bar of each subscribed symbol when it
// is newer than the last one sent.
func (t *Transport) pollStreams(ctx context.Context, w transport.Wrapper) {
	for id, s := range t.streams {
		var latest *marketdata.Bar
		err := t.call(ctx, func() error {
			var err error
			latest, err = t.data.GetLatestBar(s.symbol, marketdata.GetLatestBarRequest{
				Feed: marketdata.Feed(t.opts.Feed),
			})
			return err
		})
		if err != nil {
			t.log.Warn("latest bar failed", "symbol", s.symbol, "error", err)
			continue
		}
		if latest == nil || !latest.Timestamp.After(s.last) {
			continue
		}
		s.last = latest.Timestamp
		w.RealtimeBar(id, ToBar(s.symbol, *latest))
	}
}

func (t *Transport) RequestScannerParameters() error {
	return t.enqueue(func(_ context.Context, w transport.Wrapper) {
		w.Error(transport.ScannerRequestID, transport.CodeNotSupported, "scanner parameters are not available from alpaca")
	})
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// TranslateStatus maps an Alpaca order status to the broker vocabulary.
// Unrecognised statuses are returned unchanged.
func TranslateStatus(s string) string {
	switch s {
	case "pending_new", "accepted", "accepted_for_bidding", "pending_replace":
		return domain.StatusPendingSubmit
	case "new", "calculated":
		return domain.StatusSubmitted
	case "pending_cancel":
		return domain.StatusPendingCancel
	case "partially_filled":
		return domain.StatusPartiallyFilled
	case "filled":
		return domain.StatusFilled
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.StatusCancelled
	case "rejected", "suspended", "stopped":
		return domain.StatusInactive
	}
	return s
}

func clientOrderID(orderID int64) string {
	return fmt.Sprintf("quant-%d-%s", orderID, uuid.NewString())
}

func (t *Transport) PlaceOrder(orderID int64, pos domain.Position) error {
	return t.enqueue(func(ctx context.Context, w transport.Wrapper) {
		if _, dup := t.orders[orderID]; dup {
			w.Error(orderID, transport.CodeOrderRejected, "duplicate order id")
			return
		}
		side := alp.Buy
		if pos.Direction == domain.Short {
			side = alp.Sell
		}
		qty := decimal.NewFromInt(pos.Quantity)
		req := alp.PlaceOrderRequest{
			Symbol:        pos.Symbol,
			Qty:           &qty,
			Side:          side,
			Type:          alp.Market,
			TimeInForce:   alp.Day,
			ClientOrderID: clientOrderID(orderID),
		}

		var placed *alp.Order
		// Placement is not retried: a timed-out request may still have
		// reached the exchange.
		err := t.limiter.Wait(ctx)
		if err == nil {
			placed, err = t.trading.PlaceOrder(req)
		}
		if err != nil {
			w.Error(orderID, transport.CodeOrderRejected, err.Error())
			w.OrderStatus(orderID, domain.StatusInactive, 0, 0)
			return
		}
		o := &trackedOrder{alpacaID: placed.ID}
		t.orders[orderID] = o
		t.log.Info("order sent", "order_id", orderID, "alpaca_id", placed.ID, "client_order_id", req.ClientOrderID)
		t.report(w, orderID, o, placed)
	})
}

func (t *Transport) CancelOrder(orderID int64) error {
	return t.enqueue(func(ctx context.Context, w transport.Wrapper) {
		o, ok := t.orders[orderID]
		if !ok {
			w.Error(orderID, transport.CodeRequestFailed, "cancel for unknown order")
			return
		}
		if err := t.call(ctx, func() error { return t.trading.CancelOrder(o.alpacaID) }); err != nil {
			w.Error(orderID, transport.CodeRequestFailed, err.Error())
		}
	})
}

// pollOrders refreshes every order that has not reached a terminal state.
func (t *Transport) pollOrders(ctx context.Context, w transport.Wrapper) {
	for id, o := range t.orders {
		var cur *alp.Order
		err := t.call(ctx, func() error {
			var err error
			cur, err = t.trading.GetOrder(o.alpacaID)
			return err
		})
		if err != nil {
			t.log.Warn("order status poll failed", "order_id", id, "error", err)
			continue
		}
		t.report(w, id, o, cur)
	}
}

// report forwards the order state when it differs from the last one sent.
// Terminal orders stop being polled.
func (t *Transport) report(w transport.Wrapper, id int64, o *trackedOrder, cur *alp.Order) {
	status := TranslateStatus(cur.Status)
	filled := cur.FilledQty.InexactFloat64()
	var avg float64
	if cur.FilledAvgPrice != nil {
		avg = cur.FilledAvgPrice.InexactFloat64()
	}
	if status != o.status || filled != o.filled || avg != o.avgPrice {
		o.status, o.filled, o.avgPrice = status, filled, avg
		w.OrderStatus(id, status, filled, avg)
	}
	if domain.ParseOrderStatus(status).Terminal() {
		delete(t.orders, id)
	}
}
