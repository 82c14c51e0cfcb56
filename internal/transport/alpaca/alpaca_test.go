package alpaca

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alp "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/internal/domain"
	"quant/internal/transport"
)

type fakeTrading struct {
	mu       sync.Mutex
	placed   []alp.PlaceOrderRequest
	status   string
	failNext bool
}

func (f *fakeTrading) PlaceOrder(req alp.PlaceOrderRequest) (*alp.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("insufficient buying power")
	}
	f.placed = append(f.placed, req)
	return &alp.Order{ID: "alp-1", ClientOrderID: req.ClientOrderID, Status: "accepted"}, nil
}

func (f *fakeTrading) GetOrder(id string) (*alp.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := &alp.Order{ID: id, Status: f.status}
	if f.status == "filled" {
		px := decimal.RequireFromString("101.25")
		o.FilledQty = decimal.NewFromInt(10)
		o.FilledAvgPrice = &px
	}
	return o, nil
}

func (f *fakeTrading) CancelOrder(string) error { return nil }

func (f *fakeTrading) setStatus(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

type fakeData struct{}

func (fakeData) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	return []marketdata.Bar{
		{Timestamp: req.Start, Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1200, VWAP: 10.2},
		{Timestamp: req.Start.Add(time.Minute), Open: 10.5, High: 10.75, Low: 10.25, Close: 10.5, Volume: 800, VWAP: 10.5},
	}, nil
}

func (fakeData) GetLatestBar(string, marketdata.GetLatestBarRequest) (*marketdata.Bar, error) {
	return &marketdata.Bar{Timestamp: time.Date(2024, 7, 3, 14, 0, 0, 0, time.UTC), Close: 12}, nil
}

type statusCall struct {
	id     int64
	status string
	filled float64
	avg    float64
}

type recorder struct {
	mu       sync.Mutex
	nextID   int64
	bars     []domain.Bar
	ended    []int64
	realtime []domain.Bar
	statuses []statusCall
	errors   []int
}

func (r *recorder) NextValidID(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID = id
}

func (r *recorder) HistoricalData(_ int64, bar domain.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = append(r.bars, bar)
}

func (r *recorder) HistoricalDataEnd(reqID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, reqID)
}

func (r *recorder) RealtimeBar(_ int64, bar domain.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime = append(r.realtime, bar)
}

func (r *recorder) ScannerParameters(string) {}

func (r *recorder) OrderStatus(id int64, status string, filled, avg float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusCall{id, status, filled, avg})
}

func (r *recorder) Error(_ int64, code int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code)
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		nextID:   r.nextID,
		bars:     append([]domain.Bar(nil), r.bars...),
		ended:    append([]int64(nil), r.ended...),
		realtime: append([]domain.Bar(nil), r.realtime...),
		statuses: append([]statusCall(nil), r.statuses...),
		errors:   append([]int(nil), r.errors...),
	}
}

func start(t *testing.T, trading *fakeTrading) (*Transport, *recorder) {
	t.Helper()
	tr := New(trading, fakeData{}, Options{PollInterval: 5 * time.Millisecond, RetryDelay: time.Millisecond}, nil)
	rec := &recorder{}
	require.NoError(t, tr.Connect(context.Background(), rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr, rec
}

func TestRequestsBeforeConnect(t *testing.T) {
	tr := New(&fakeTrading{}, fakeData{}, Options{}, nil)
	assert.ErrorIs(t, tr.RequestScannerParameters(), transport.ErrNotConnected)
}

func TestHistoricalData(t *testing.T) {
	tr, rec := start(t, &fakeTrading{})
	req := domain.DataRequest{
		Symbol:     "aapl",
		Start:      time.Date(2024, 7, 3, 13, 30, 0, 0, time.UTC),
		End:        time.Date(2024, 7, 3, 20, 0, 0, 0, time.UTC),
		Resolution: domain.Minute,
	}
	require.NoError(t, tr.RequestHistoricalData(3001, req))

	require.Eventually(t, func() bool { return len(rec.snapshot().ended) == 1 }, time.Second, time.Millisecond)
	got := rec.snapshot()
	assert.Equal(t, int64(1), got.nextID)
	require.Len(t, got.bars, 2)
	assert.Equal(t, "AAPL", got.bars[0].Symbol)
	assert.True(t, got.bars[0].RefPrice.Equal(decimal.RequireFromString("10.2")))
	assert.Equal(t, int64(1200), got.bars[0].Volume)
}

func TestRealtimePolling(t *testing.T) {
	tr, rec := start(t, &fakeTrading{})
	require.NoError(t, tr.RequestRealtimeBars(4001, "MSFT"))

	require.Eventually(t, func() bool { return len(rec.snapshot().realtime) == 1 }, time.Second, time.Millisecond)
	// The latest bar does not change, so it is sent once.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.snapshot().realtime, 1)
}

func TestOrderStatusPolling(t *testing.T) {
	trading := &fakeTrading{status: "new"}
	tr, rec := start(t, trading)
	require.NoError(t, tr.PlaceOrder(7, domain.Position{Symbol: "AAPL", Direction: domain.Short, Quantity: 10}))

	require.Eventually(t, func() bool { return len(rec.snapshot().statuses) >= 2 }, time.Second, time.Millisecond)
	trading.setStatus("filled")
	require.Eventually(t, func() bool {
		s := rec.snapshot().statuses
		return len(s) > 0 && s[len(s)-1].status == domain.StatusFilled
	}, time.Second, time.Millisecond)

	got := rec.snapshot().statuses
	assert.Equal(t, statusCall{7, domain.StatusPendingSubmit, 0, 0}, got[0])
	assert.Equal(t, statusCall{7, domain.StatusSubmitted, 0, 0}, got[1])
	assert.Equal(t, statusCall{7, domain.StatusFilled, 10, 101.25}, got[len(got)-1])

	trading.mu.Lock()
	req := trading.placed[0]
	trading.mu.Unlock()
	assert.Equal(t, alp.Sell, req.Side)
	assert.Regexp(t, `^quant-7-[0-9a-f-]{36}$`, req.ClientOrderID)
	assert.True(t, req.Qty.Equal(decimal.NewFromInt(10)))
}

func TestRejectedOrder(t *testing.T) {
	tr, rec := start(t, &fakeTrading{failNext: true})
	require.NoError(t, tr.PlaceOrder(9, domain.Position{Symbol: "AAPL", Direction: domain.Long, Quantity: 1}))

	require.Eventually(t, func() bool { return len(rec.snapshot().statuses) == 1 }, time.Second, time.Millisecond)
	got := rec.snapshot()
	assert.Equal(t, domain.StatusInactive, got.statuses[0].status)
	assert.Equal(t, []int{transport.CodeOrderRejected}, got.errors)
}

func TestScannerAndUnknownCancel(t *testing.T) {
	tr, rec := start(t, &fakeTrading{})
	require.NoError(t, tr.RequestScannerParameters())
	require.NoError(t, tr.CancelOrder(42))

	require.Eventually(t, func() bool { return len(rec.snapshot().errors) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{transport.CodeNotSupported, transport.CodeRequestFailed}, rec.snapshot().errors)
}

func TestTranslateStatus(t *testing.T) {
	for in, want := range map[string]domain.OrderStatus{
		"accepted":         domain.OrderPending,
		"new":              domain.OrderSubmitted,
		"partially_filled": domain.OrderPartiallyFilled,
		"filled":           domain.OrderFilled,
		"canceled":         domain.OrderCancelled,
		"rejected":         domain.OrderCancelled,
		"held":             domain.OrderUnknown,
	} {
		assert.Equal(t, want, domain.ParseOrderStatus(TranslateStatus(in)), in)
	}
}

func TestTimeFrame(t *testing.T) {
	assert.Equal(t, marketdata.OneMin, TimeFrame(domain.FiveSec))
	assert.Equal(t, marketdata.OneDay, TimeFrame(domain.Day))
	assert.Equal(t, marketdata.NewTimeFrame(1, marketdata.Week), TimeFrame(domain.Week))
}
