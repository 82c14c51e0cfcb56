// Package channel correlates asynchronous, id-tagged transport callbacks with
// the blocking calls that requested them.
//
// A caller allocates a Channel, triggers the transport request with the
// channel's key inside Invoke, and waits. The transport goroutine feeds
// records with OnData/Buffer/Flush and finishes the request with Close.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrClosed is returned when invoking a channel that is closed or whose
	// key is no longer registered.
	ErrClosed = errors.New("channel already closed")

	// ErrInUse is returned when a key is already bound to an open request.
	ErrInUse = errors.New("channel key already in use")
)

var (
	openChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_channels_open",
		Help: "Correlation channels currently waiting for callbacks.",
	})
	timeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quant_channel_timeouts_total",
		Help: "Invocations that returned a partial result after their timeout.",
	})
	lateRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quant_channel_late_records_total",
		Help: "Callback records dropped because their channel was already closed.",
	})
)

// Key is a correlation id.
type Key int64

// ScannerParamsKey is the well-known key for scanner parameter requests,
// which carry no request id on the wire.
const ScannerParamsKey Key = -2 // matches transport.ScannerRequestID

// Channel holds the pending state of one outstanding request.
type Channel struct {
	key      Key
	metadata any
	registry *Registry

	mu       sync.Mutex
	handlers []func(any)
	buffer   []any
	result   any
	invoked  bool
	closed   bool
	done     chan struct{}
}

func newChannel(r *Registry, key Key, metadata any) *Channel {
	return &Channel{
		key:      key,
		metadata: metadata,
		registry: r,
		done:     make(chan struct{}),
	}
}

// Key returns the correlation id to send with the request.
func (c *Channel) Key() Key { return c.key }

// Metadata returns the caller-supplied context given at allocation.
func (c *Channel) Metadata() any { return c.metadata }

// AddHandler registers fn to receive every record. Handlers run under the
// channel lock and must not call back into the channel.
func (c *Channel) AddHandler(fn func(any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// SetResult sets the value Invoke returns.
func (c *Channel) SetResult(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = v
}

// Result returns the current result.
func (c *Channel) Result() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// OnData forwards rec to the handlers. The first record becomes the result
// unless one was set.
func (c *Channel) OnData(rec any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliverLocked(rec)
}

func (c *Channel) deliverLocked(rec any) {
	if c.closed {
		lateRecords.Inc()
		c.registry.log.Debug("dropping record for closed channel", "key", c.key)
		return
	}
	for _, h := range c.handlers {
		h(rec)
	}
	if c.result == nil {
		c.result = rec
	}
}

// Buffer accumulates a partial record until Flush.
func (c *Channel) Buffer(rec any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		lateRecords.Inc()
		return
	}
	c.buffer = append(c.buffer, rec)
}

// Flush delivers the buffered records as one []any batch.
func (c *Channel) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.buffer
	c.buffer = nil
	if batch == nil {
		batch = []any{}
	}
	c.deliverLocked(batch)
}

// Close delivers final when it is non-nil, wakes the waiter and unregisters
// the channel. Closing twice does nothing.
func (c *Channel) Close(final any) {
	c.mu.Lock()
	if final != nil {
		c.deliverLocked(final)
	}
	ok := c.markClosedLocked()
	c.mu.Unlock()
	if ok {
		c.registry.remove(c)
	}
}

func (c *Channel) markClosedLocked() bool {
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// Done is closed once the channel completes.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Closed reports whether the channel has completed or been abandoned.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Invoke runs action and waits up to timeout for the channel to close. With a
// zero timeout it returns straight after action. When the timeout expires the
// channel is abandoned and the partial result is returned without an error.
func (c *Channel) Invoke(ctx context.Context, action func() error, timeout time.Duration) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.invoked {
		c.mu.Unlock()
		return nil, ErrInUse
	}
	c.invoked = true
	c.mu.Unlock()

	if err := action(); err != nil {
		c.abandon()
		return nil, err
	}
	if timeout == 0 {
		return c.Result(), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return c.Result(), nil
	case <-timer.C:
		timeouts.Inc()
		c.registry.log.Warn("request timed out, results may be incomplete",
			"key", c.key, "metadata", c.metadata, "timeout", timeout)
		return c.abandon(), nil
	case <-ctx.Done():
		return c.abandon(), ctx.Err()
	}
}

// abandon closes the channel so late callbacks are dropped and returns what
// was accumulated.
func (c *Channel) abandon() any {
	c.mu.Lock()
	res := c.result
	ok := c.markClosedLocked()
	c.mu.Unlock()
	if ok {
		c.registry.remove(c)
	}
	return res
}
