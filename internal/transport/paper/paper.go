// Package paper is an in-process brokerage venue. It implements
// transport.Transport with simulated prices and fills so the session can run
// without a brokerage account.
package paper

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quant/internal/domain"
	"quant/internal/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

// ScannerXML is the document returned for scanner parameter requests.
const ScannerXML = `<?xml version="1.0" encoding="UTF-8"?>
<ScanParameterResponse>
  <InstrumentList><Instrument><type>STK</type><name>US Stocks</name></Instrument></InstrumentList>
  <ScanTypeList><ScanType><scanCode>TOP_PERC_GAIN</scanCode><displayName>Top % Gainers</displayName></ScanType></ScanTypeList>
</ScanParameterResponse>`

var errQueueFull = errors.New("paper: request queue full")

// QuoteFunc returns the current price of symbol, if known.
type QuoteFunc func(symbol string) (decimal.Decimal, bool)

// Options tunes the simulation.
type Options struct {
	FirstOrderID int64
	BarInterval  time.Duration // realtime bar cadence
	SubmitDelay  time.Duration // PreSubmitted -> Submitted
	FillDelay    time.Duration // Submitted -> Filled
	MaxBars      int           // cap on bars per historical request
	Seed         int64
	Quote        QuoteFunc
}

func (o *Options) defaults() {
	if o.FirstOrderID == 0 {
		o.FirstOrderID = 1
	}
	if o.BarInterval == 0 {
		o.BarInterval = 5 * time.Second
	}
	if o.FillDelay == 0 {
		o.FillDelay = time.Second
	}
	if o.MaxBars == 0 {
		o.MaxBars = 500
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
}

type order struct {
	pos  domain.Position
	done bool
}

// Transport is the simulated venue. Requests are queued and executed on the
// Run goroutine, which is also the only goroutine calling the Wrapper.
type Transport struct {
	opts Options
	log  *slog.Logger
	jobs chan func()

	mu        sync.Mutex
	w         transport.Wrapper
	connected bool

	// Owned by the Run goroutine.
	rng      *rand.Rand
	realtime map[int64]string
	last     map[string]decimal.Decimal
	orders   map[int64]*order
}

// New creates a paper venue.
func New(opts Options, log *slog.Logger) *Transport {
	opts.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		opts:     opts,
		log:      log.With("component", "paper"),
		jobs:     make(chan func(), 1024),
		rng:      rand.New(rand.NewSource(opts.Seed)),
		realtime: make(map[int64]string),
		last:     make(map[string]decimal.Decimal),
		orders:   make(map[int64]*order),
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

// Run announces the first order id and then executes queued requests and
// emits realtime bars until ctx is done.
func (t *Transport) Run(ctx context.Context) error {
	w, ok := t.wrapper()
	if !ok {
		return transport.ErrNotConnected
	}
	w.NextValidID(t.opts.FirstOrderID)

	ticker := time.NewTicker(t.opts.BarInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-t.jobs:
			job()
		case now := <-ticker.C:
			t.emitRealtime(w, now)
		}
	}
}

func (t *Transport) enqueue(job func()) error {
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

func (t *Transport) after(d time.Duration, job func()) {
	if d <= 0 {
		_ = t.enqueue(job)
		return
	}
	time.AfterFunc(d, func() {
		if err := t.enqueue(job); err != nil {
			t.log.Debug("dropping delayed job", "error", err)
		}
	})
}

func (t *Transport) price(symbol string) decimal.Decimal {
	if t.opts.Quote != nil {
		if p, ok := t.opts.Quote(symbol); ok && p.IsPositive() {
			return p
		}
	}
	if p, ok := t.last[symbol]; ok {
		return p
	}
	return decimal.NewFromInt(100)
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func (t *Transport) RequestHistoricalData(reqID int64, req domain.DataRequest) error {
	return t.enqueue(func() {
		w, _ := t.wrapper()
		step := req.Resolution.Duration()
		if step == 0 {
			step = domain.FiveSec.Duration()
		}
		px := t.price(req.Symbol)
		n := 0
		for at := req.Start; !at.After(req.End) && n < t.opts.MaxBars; at = at.Add(step) {
			bar := domain.WalkBar(t.rng, req.Symbol, px, at)
			px = bar.Close
			w.HistoricalData(reqID, bar)
			n++
		}
		w.HistoricalDataEnd(reqID)
	})
}

func (t *Transport) RequestRealtimeBars(reqID int64, symbol string) error {
	return t.enqueue(func() {
		t.realtime[reqID] = symbol
	})
}

func (t *Transport) CancelRealtimeBars(reqID int64) error {
	return t.enqueue(func() {
		delete(t.realtime, reqID)
	})
}

func (t *Transport) emitRealtime(w transport.Wrapper, now time.Time) {
	ids := make([]int64, 0, len(t.realtime))
	for id := range t.realtime {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		symbol := t.realtime[id]
		bar := domain.WalkBar(t.rng, symbol, t.price(symbol), now)
		t.last[symbol] = bar.Close
		w.RealtimeBar(id, bar)
	}
}

func (t *Transport) RequestScannerParameters() error {
	return t.enqueue(func() {
		w, _ := t.wrapper()
		w.ScannerParameters(ScannerXML)
	})
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func (t *Transport) PlaceOrder(orderID int64, pos domain.Position) error {
	return t.enqueue(func() {
		w, _ := t.wrapper()
		if _, dup := t.orders[orderID]; dup {
			w.Error(orderID, transport.CodeOrderRejected, "duplicate order id")
			return
		}
		o := &order{pos: pos}
		t.orders[orderID] = o
		t.report(w, orderID, domain.StatusPreSubmitted, 0, decimal.Zero)

		t.after(t.opts.SubmitDelay, func() {
			if o.done {
				return
			}
			w, _ := t.wrapper()
			t.report(w, orderID, domain.StatusSubmitted, 0, decimal.Zero)
			t.after(t.opts.FillDelay, func() {
				if o.done {
					return
				}
				w, _ := t.wrapper()
				o.done = true
				t.report(w, orderID, domain.StatusFilled, float64(pos.Quantity), t.price(pos.Symbol))
			})
		})
	})
}

func (t *Transport) CancelOrder(orderID int64) error {
	return t.enqueue(func() {
		w, _ := t.wrapper()
		o, ok := t.orders[orderID]
		if !ok {
			w.Error(orderID, transport.CodeRequestFailed, "cancel for unknown order")
			return
		}
		if o.done {
			return
		}
		o.done = true
		t.report(w, orderID, domain.StatusCancelled, 0, decimal.Zero)
	})
}

func (t *Transport) report(w transport.Wrapper, id int64, status string, filled float64, avg decimal.Decimal) {
	w.OrderStatus(id, status, filled, avg.InexactFloat64())
}
