// Package bus is the daemon's in-process event fabric. The transport
// adapter publishes live updates inward, the merger and the backfill
// coordinator publish index and job events outward, and each consumer
// subscribes to a kind prefix such as "transport." or "job.". Delivery is
// best effort: a subscriber that falls behind loses events rather than
// stalling the publisher.
package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to prefix-filtered subscribers.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Publish never blocks: when a subscriber's channel is full the event is
// dropped for that subscriber, which keeps a stuck consumer from backing
// up into the transport polling loop.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Subscribe registers a buffered channel for every kind starting with
// prefix; the empty prefix matches everything. The returned function
// removes the subscription. The channel is never closed, so a reader
// that also watches its own context can unsubscribe at any point.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
