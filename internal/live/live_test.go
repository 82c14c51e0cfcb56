package live

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"quant/internal/domain"
	"quant/internal/eventbus"
)

var t0 = time.Date(2024, 7, 3, 14, 30, 0, 0, time.UTC)

func bar(symbol string, at time.Time, close string) domain.Bar {
	px := decimal.RequireFromString(close)
	return domain.Bar{Symbol: symbol, Time: at, Open: px, High: px, Low: px, Close: px, RefPrice: px, Volume: 300}
}

func TestModelRejectsStaleBars(t *testing.T) {
	m := NewModel()
	_, ch := m.Subscribe(4)

	assert.True(t, m.Add(bar("AAPL", t0, "100")))
	assert.False(t, m.Add(bar("AAPL", t0, "101")), "same timestamp")
	assert.False(t, m.Add(bar("AAPL", t0.Add(-time.Second), "99")), "older")
	assert.True(t, m.Add(bar("AAPL", t0.Add(5*time.Second), "102")))

	got, ok := m.Get("AAPL")
	require.True(t, ok)
	assert.True(t, got.Close.Equal(decimal.NewFromInt(102)))
	assert.Len(t, ch, 2)
}

func TestModelSnapshotAndAttach(t *testing.T) {
	bus := eventbus.New(nil)
	m := NewModel()
	sub := m.Attach(bus)
	defer sub.Unsubscribe()

	bus.Publish(domain.TickEvent{Bar: bar("MSFT", t0, "400")})
	bus.Publish(domain.TickEvent{Bar: bar("AAPL", t0, "100")})

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "AAPL", snap[0].Symbol)
	assert.Equal(t, "MSFT", snap[1].Symbol)
	assert.Len(t, m.Snapshot("MSFT"), 1)
}

func TestCodecRoundTrip(t *testing.T) {
	in := bar("AAPL", t0.Add(123*time.Millisecond), "187.2534")
	out, err := structToBar(barToStruct(in))
	require.NoError(t, err)
	assert.True(t, in.Time.Equal(out.Time))
	assert.True(t, in.Close.Equal(out.Close))
	assert.Equal(t, in.Volume, out.Volume)

	_, err = structToBar(barToStruct(domain.Bar{Time: t0}))
	assert.ErrorIs(t, err, errMissingSymbol)
}

func startServer(t *testing.T, m *Model) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewServer(m, nil).RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := NewClient("passthrough:///bufnet", NewModel(), nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSnapshotRPC(t *testing.T) {
	m := NewModel()
	m.Add(bar("AAPL", t0, "100"))
	m.Add(bar("MSFT", t0, "400.5"))
	c := startServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bars, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "AAPL", bars[0].Symbol)

	bars, err = c.Snapshot(ctx, "MSFT")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Close.Equal(decimal.RequireFromString("400.5")))
}

func TestSyncMirrorsServerModel(t *testing.T) {
	m := NewModel()
	m.Add(bar("AAPL", t0, "100"))
	c := startServer(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Sync(ctx, "AAPL") }()

	require.Eventually(t, func() bool { return c.Model().Len() == 1 }, 5*time.Second, time.Millisecond)

	// Keep publishing until the stream is subscribed and the update arrives.
	next := t0
	require.Eventually(t, func() bool {
		next = next.Add(time.Second)
		m.Add(bar("AAPL", next, "105"))
		m.Add(bar("MSFT", next, "400"))
		b, _ := c.Model().Get("AAPL")
		return b.Close.Equal(decimal.NewFromInt(105))
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := c.Model().Get("MSFT")
	assert.False(t, ok, "MSFT is filtered by the request")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not return after cancel")
	}
}
