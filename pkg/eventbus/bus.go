// Package eventbus provides a small in-process, bounded, fan-out
// publish/subscribe bus used to distribute hedge events, reconciliation
// events, and PnL samples to interested consumers (logging, a future
// HTTP status endpoint) without coupling producers to consumers.
//
// An external broker (NATS, gRPC) was considered and rejected: every
// consumer here lives in the same process as the producer, so crossing
// a network boundary would add a dependency with no corresponding need.
package eventbus

import "sync"

const defaultQueueDepth = 256

// Event is anything published on the bus; Topic groups subscribers.
type Event struct {
	Topic string
	Data  interface{}
}

// Bus fans out published events to every current subscriber of a topic.
// A slow subscriber drops events rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a bounded channel receiving every event published to
// topic from this point on. Call Unsubscribe with the same channel when done.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, defaultQueueDepth)

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subscribers[topic]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subscribers[topic] = set
	}
	set[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel previously returned
// by Subscribe.
func (b *Bus) Unsubscribe(topic string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subscribers[topic]
	if !ok {
		return
	}
	for c := range set {
		if c == ch {
			delete(set, c)
			close(c)
			return
		}
	}
}

// Publish fans data out to every current subscriber of topic. Subscribers
// whose queue is full miss the event; the bus never blocks a publisher.
func (b *Bus) Publish(topic string, data interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[topic] {
		select {
		case ch <- Event{Topic: topic, Data: data}:
		default:
		}
	}
}
