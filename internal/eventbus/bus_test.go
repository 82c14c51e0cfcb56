package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type priceEvent struct {
	Symbol string
}

type otherEvent struct{}

func TestPublishInSubscriptionOrder(t *testing.T) {
	b := New(nil)
	var got []string
	On(b, func(e priceEvent) { got = append(got, "first:"+e.Symbol) })
	On(b, func(e priceEvent) { got = append(got, "second:"+e.Symbol) })
	On(b, func(otherEvent) { got = append(got, "other") })

	b.Publish(priceEvent{Symbol: "AAPL"})

	assert.Equal(t, []string{"first:AAPL", "second:AAPL"}, got)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := New(nil)
	delivered := false
	On(b, func(priceEvent) { panic("broken consumer") })
	On(b, func(priceEvent) { delivered = true })

	require.NotPanics(t, func() { b.Publish(priceEvent{Symbol: "MSFT"}) })
	assert.True(t, delivered)
	assert.Equal(t, 2, b.Subscribers(priceEvent{}), "a panicking handler stays subscribed")
}

func TestOneShotHandler(t *testing.T) {
	b := New(nil)
	calls := 0
	Subscribe(b, func(priceEvent) bool {
		calls++
		return true
	})

	b.Publish(priceEvent{})
	b.Publish(priceEvent{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Subscribers(priceEvent{}))
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	calls := 0
	sub := On(b, func(priceEvent) { calls++ })

	b.Publish(priceEvent{})
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(priceEvent{})

	assert.Equal(t, 1, calls)
}

func TestContextSubscriptionSelfHeals(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls, after := 0, 0
	SubscribeContext(ctx, b, func(priceEvent) bool {
		calls++
		return false
	})
	On(b, func(priceEvent) { after++ })

	b.Publish(priceEvent{})
	cancel()
	b.Publish(priceEvent{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, after)
	assert.Equal(t, 1, b.Subscribers(priceEvent{}))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New(nil)
	assert.NotPanics(t, func() {
		b.Publish(otherEvent{})
		b.Publish(nil)
	})
}
