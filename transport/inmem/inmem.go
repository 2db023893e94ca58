// Package inmem implements an in-process transport.Bus that delivers every published message
// synchronously to the topic's current subscribers.
package inmem

import (
	"context"
	"sync"

	"github.com/MShields1986/reuleaux/transport"
)

// Bus is an in-process bus. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]transport.Handler
	nextID uint64
	closed bool
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: map[string]map[uint64]transport.Handler{}}
}

// Publish calls every handler subscribed to topic, in no particular order, and returns when all
// of them have returned. Publishing to a topic without subscribers drops the message.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return transport.ErrClosed
	}
	handlers := make([]transport.Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Subscribe registers handler for topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler transport.Handler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = map[uint64]transport.Handler{}
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = handler
	return &subscription{bus: b, topic: topic, id: id}, nil
}

// NumSubscribers returns the number of active subscriptions to topic.
func (b *Bus) NumSubscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close drops every subscription. Later calls return transport.ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[string]map[uint64]transport.Handler{}
	return nil
}

type subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.topic], s.id)
	if len(s.bus.subs[s.topic]) == 0 {
		delete(s.bus.subs, s.topic)
	}
	return nil
}
