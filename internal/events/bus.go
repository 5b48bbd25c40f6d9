// Package events carries the engine's lifecycle signals to whatever wants
// to observe them. Presentation layers (terminal, dashboard) are external
// collaborators; this bus is the interface they consume.
package events

import "sync"

// Bus is a channel-based pub-sub bus. Publishing never blocks: a subscriber
// whose channel is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event // topic -> subscribers; "" key holds all-topic subscribers
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events published to topic. An empty
// topic subscribes to every topic. bufSize defaults to 256 when <= 0.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish delivers the event to its topic's subscribers and to all-topic
// subscribers. Full channels are skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[e.Topic()] {
		select {
		case ch <- e:
		default:
		}
	}
	for _, ch := range b.subs[""] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	b.subs = nil
}
