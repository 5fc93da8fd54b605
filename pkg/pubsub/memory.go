package pubsub

import (
	"context"
	"sync"
)

// MemoryPubSub implements PubSub in-process. It backs single-node
// deployments without Redis/Kafka and is the transport used by tests.
type MemoryPubSub struct {
	subscribers map[string][]chan *Event
	mu          sync.RWMutex
	closed      bool
}

// NewMemoryPubSub creates a new in-memory PubSub instance.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		subscribers: make(map[string][]chan *Event),
	}
}

// Publish delivers the event to all current subscribers of the channel.
// Delivery preserves publish order per subscriber (per-subscription FIFO).
func (m *MemoryPubSub) Publish(_ context.Context, channel string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.subscribers[channel] {
		select {
		case ch <- event:
		default:
			// Subscriber full, skip message
		}
	}
	return nil
}

// Subscribe registers a new subscriber for the channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *Event, 100)
	m.subscribers[channel] = append(m.subscribers[channel], ch)

	go func() {
		<-ctx.Done()
		m.removeSubscriber(channel, ch)
	}()

	return ch, nil
}

// Unsubscribe closes all subscriptions for a channel.
func (m *MemoryPubSub) Unsubscribe(_ context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subscribers[channel] {
		close(ch)
	}
	delete(m.subscribers, channel)
	return nil
}

// Close closes all subscriptions.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for channel, chans := range m.subscribers {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.subscribers, channel)
	}
	return nil
}

// SubscriberCount reports the live subscriptions on a channel.
func (m *MemoryPubSub) SubscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[channel])
}

func (m *MemoryPubSub) removeSubscriber(channel string, target chan *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	chans := m.subscribers[channel]
	for i, ch := range chans {
		if ch == target {
			m.subscribers[channel] = append(chans[:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}
