package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop() error { return nil }

func TestAllocateMonotonicFromBase(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	a := r.Allocate("AAPL")
	b := r.Allocate("MSFT")

	assert.Equal(t, Key(1000), a.Key())
	assert.Equal(t, Key(1001), b.Key())
	assert.Equal(t, "AAPL", a.Metadata())
	assert.Equal(t, 2, r.Len())
}

func TestInvokeZeroTimeoutReturnsImmediately(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)

	start := time.Now()
	res, err := c.Invoke(context.Background(), noop, 0)

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, c.Closed(), "fire-and-forget channels stay open for streaming")
}

func TestInvokeReturnsWhenClosed(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	var rows []int
	c.AddHandler(func(rec any) { rows = append(rows, rec.(int)) })

	action := func() error {
		go func() {
			c.OnData(1)
			c.OnData(2)
			c.Close(3)
		}()
		return nil
	}
	res, err := c.Invoke(context.Background(), action, 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 1, res, "first record is the default result")
	assert.Equal(t, []int{1, 2, 3}, rows)
	assert.Equal(t, 0, r.Len())
}

func TestInvokeTimeoutReturnsPartialResultAndLateCloseIsSafe(t *testing.T) {
	r := NewRegistry(2001, nil)
	c := r.Allocate(nil)
	require.Equal(t, Key(2001), c.Key())

	start := time.Now()
	res, err := c.Invoke(context.Background(), noop, time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 3*time.Second)

	assert.NotPanics(t, func() {
		c.OnData("late")
		c.Close("very late")
	})
	assert.Nil(t, c.Result())

	_, err = r.Lookup(2001)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestInvokeTimeoutReturnsCallerResult(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	c.SetResult([]string{})
	c.AddHandler(func(rec any) {})

	res, err := c.Invoke(context.Background(), func() error {
		c.OnData("x")
		return nil
	}, 50*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, []string{}, res, "result set by the caller is kept")
}

func TestInvokeClosedChannelIsAnError(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	c.Close(nil)
	c.Close(nil)

	_, err := c.Invoke(context.Background(), noop, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInvokeTwiceIsAnError(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	_, err := c.Invoke(context.Background(), noop, 0)
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), noop, 0)
	assert.ErrorIs(t, err, ErrInUse)
}

func TestInvokeActionError(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	boom := errors.New("not connected")

	_, err := c.Invoke(context.Background(), func() error { return boom }, time.Second)

	assert.ErrorIs(t, err, boom)
	assert.True(t, c.Closed())
	assert.Equal(t, 0, r.Len())
}

func TestInvokeContextCancelled(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Invoke(ctx, noop, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBufferAndFlush(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	var batches [][]any
	c.AddHandler(func(rec any) { batches = append(batches, rec.([]any)) })

	c.Buffer("a")
	c.Buffer("b")
	c.Flush()
	c.Close(nil)

	require.Len(t, batches, 1)
	assert.Equal(t, []any{"a", "b"}, batches[0])
}

func TestOpenRejectsKeyInUse(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c, err := r.Open(ScannerParamsKey, nil)
	require.NoError(t, err)

	_, err = r.Open(ScannerParamsKey, nil)
	assert.ErrorIs(t, err, ErrInUse)

	c.Close("<xml/>")
	_, err = r.Open(ScannerParamsKey, nil)
	assert.NoError(t, err, "a closed well-known key can be reused")
}

func TestLookupCreatesExternalKeys(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c, err := r.Lookup(42)
	require.NoError(t, err)

	again, err := r.Lookup(42)
	require.NoError(t, err)
	assert.Same(t, c, again)

	_, ok := r.Get(43)
	assert.False(t, ok)
}

func TestCloseAllWakesWaiters(t *testing.T) {
	r := NewRegistry(DefaultBase, nil)
	c := r.Allocate(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Invoke(context.Background(), noop, time.Minute)
	}()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.invoked
	}, time.Second, 5*time.Millisecond)
	r.CloseAll()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}
