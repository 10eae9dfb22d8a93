// Package broadcast fans stored events out to live subscribers. Delivery
// is best effort: a subscriber that stops draining its channel is dropped
// rather than allowed to stall the publisher.
package broadcast

import (
	"sync"

	"github.com/calebhsu/codetrail/internal/event"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Broadcaster delivers event envelopes to any number of subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]chan event.Envelope
	buffer int
	closed bool
}

// New returns a Broadcaster with the given per-subscriber buffer. A
// non-positive buffer falls back to DefaultBuffer.
func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[int64]chan event.Envelope),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (b *Broadcaster) Subscribe() (<-chan event.Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan event.Envelope, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers env to every subscriber. A subscriber whose buffer is
// full is dropped and its channel closed; the publisher never blocks.
func (b *Broadcaster) Publish(env event.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- env:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
