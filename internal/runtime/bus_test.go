package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

func testResult(ts int64) *engine.Result {
	ev := &events.Event{EventType: events.TypeMCP, TS: ts}
	return engine.NewResult("Test", ev, engine.SeverityLow, 25, nil)
}

func TestBusPublishReachesSubscribers(t *testing.T) {
	bus := NewResultBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	res := testResult(1)
	bus.Publish(res)

	assert.Same(t, res, <-a)
	assert.Same(t, res, <-b)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewResultBus()
	ch := bus.Subscribe(4)
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Unsubscribing twice must not panic.
	assert.NotPanics(t, func() { bus.Unsubscribe(ch) })
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewResultBus()
	ch := bus.Subscribe(1)

	// Fill the buffer, then keep publishing.
	bus.Publish(testResult(1))
	bus.Publish(testResult(2))
	bus.Publish(testResult(3))

	// Only the first delivery fit; the subscriber missed the rest.
	first := <-ch
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.Result.OriginalEvent.TS)
	select {
	case res := <-ch:
		t.Fatalf("unexpected extra delivery: %+v", res)
	default:
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewResultBus()
	assert.NotPanics(t, func() { bus.Publish(testResult(1)) })
}
