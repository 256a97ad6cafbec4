package runtime

import (
	"sync"

	"github.com/mcpwatch/mcpwatch-go/internal/engine"
)

// ResultBus fans persisted detection results out to live subscribers.
// Publishing never blocks: a subscriber that cannot keep up misses
// results instead of stalling the pipeline.
type ResultBus struct {
	mu   sync.RWMutex
	subs map[chan *engine.Result]struct{}
}

// NewResultBus creates an empty bus.
func NewResultBus() *ResultBus {
	return &ResultBus{subs: make(map[chan *engine.Result]struct{})}
}

// Subscribe returns a buffered channel receiving future results.
func (b *ResultBus) Subscribe(buffer int) chan *engine.Result {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *engine.Result, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes the channel.
func (b *ResultBus) Unsubscribe(ch chan *engine.Result) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers to every subscriber without blocking.
func (b *ResultBus) Publish(res *engine.Result) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- res:
		default:
		}
	}
}
