// Package events fans system events (health cycle summaries, alerts,
// discovery changes) out to in-process subscribers and websocket clients.
package events

import (
	"sync"
	"time"
)

// Type of a published event.
type Type string

const (
	TypeHealthCheck Type = "healthCheck"
	TypeAlert       Type = "alert"
	TypeDiscovery   Type = "discovery"
)

// Event is a single bus message.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

const subscriberBuffer = 64

// Bus is a non-blocking publish/subscribe hub. Publish never blocks: a
// subscriber that falls behind loses events rather than stalling the
// health loop.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel function removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, dropping it for any
// whose buffer is full.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
