package eventbus

import "sync"

// Event is an arbitrary market event passed on the bus.
type Event interface{}

// EventBus is a simple in-process publish/subscribe bus. Surrounding
// services observe market lifecycle events through it without coupling to
// the coordinator.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus fans events out to subscriber channels. Delivery is non-blocking: a
// subscriber that falls behind loses events rather than stalling the market.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	buffer int
	closed bool
}

// New creates a Bus with the default subscriber buffer of 16 events.
func New() *Bus { return &Bus{buffer: 16} }

// NewBuffered creates a Bus with the given per-subscriber buffer.
func NewBuffered(n int) *Bus {
	if n <= 0 {
		n = 1
	}
	return &Bus{buffer: n}
}

// Publish sends the event to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes all subscriber channels and clears the list.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
