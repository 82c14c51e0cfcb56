package channel

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefaultBase is the first key handed out by Allocate. It keeps request ids
// clear of broker order ids.
const DefaultBase Key = 1000

// Registry owns the open channels of one id space.
type Registry struct {
	mu       sync.Mutex
	base     Key
	next     Key
	channels map[Key]*Channel
	log      *slog.Logger
}

// NewRegistry creates a registry whose allocated keys start at base.
func NewRegistry(base Key, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		base:     base,
		next:     base,
		channels: make(map[Key]*Channel),
		log:      log.With("component", "channels"),
	}
}

// Allocate opens a channel under a fresh key.
func (r *Registry) Allocate(metadata any) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := newChannel(r, r.next, metadata)
	r.next++
	r.channels[c.key] = c
	openChannels.Inc()
	return c
}

// Open registers a channel under an externally assigned or well-known key.
// A key that is still open cannot be bound to another request.
func (r *Registry) Open(key Key, metadata any) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[key]; ok {
		return nil, fmt.Errorf("%w: %d", ErrInUse, key)
	}
	c := newChannel(r, key, metadata)
	r.channels[key] = c
	openChannels.Inc()
	return c, nil
}

// Lookup returns the open channel for key, creating one for keys this
// registry did not allocate. An allocated key that has since closed returns
// ErrClosed.
func (r *Registry) Lookup(key Key) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[key]; ok {
		return c, nil
	}
	if r.allocatedLocked(key) {
		return nil, fmt.Errorf("%w: %d", ErrClosed, key)
	}
	c := newChannel(r, key, nil)
	r.channels[key] = c
	openChannels.Inc()
	return c, nil
}

// Get returns the open channel for key without creating one.
func (r *Registry) Get(key Key) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[key]
	return c, ok
}

// Len returns the number of open channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// CloseAll closes every open channel, waking any waiters.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		open = append(open, c)
	}
	r.mu.Unlock()

	for _, c := range open {
		c.Close(nil)
	}
}

func (r *Registry) allocatedLocked(key Key) bool {
	return key >= r.base && key < r.next
}

func (r *Registry) remove(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.channels[c.key]; ok && cur == c {
		delete(r.channels, c.key)
		openChannels.Dec()
	}
}
