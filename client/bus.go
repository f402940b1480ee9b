package client

import (
	"sync"

	"RelayIM/service/hub"
)

// Bus routes server events to subscribers. It is owned by the Session:
// built at startup, torn down on logout. Subscribe hands back an explicit
// unsubscribe; there is no process-wide listener registry.
type Bus struct {
	mu     sync.Mutex
	subs   map[hub.EventType]map[int]func(hub.Event)
	next   int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[hub.EventType]map[int]func(hub.Event))}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function. Subscribing on a closed bus is a no-op.
func (b *Bus) Subscribe(t hub.EventType, h func(hub.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	set := b.subs[t]
	if set == nil {
		set = make(map[int]func(hub.Event))
		b.subs[t] = set
	}
	id := b.next
	b.next++
	set[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[t]; ok {
			delete(set, id)
		}
	}
}

// Publish delivers the event to every handler of its type, synchronously
// and in no particular order.
func (b *Bus) Publish(e hub.Event) {
	b.mu.Lock()
	set := b.subs[e.Type]
	handlers := make([]func(hub.Event), 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

// Close drops all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[hub.EventType]map[int]func(hub.Event))
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
