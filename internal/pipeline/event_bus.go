package pipeline

import (
	"slices"
	"sync"
)

// EventBus fans frame results out to viewers, loggers and recorders.
// Subscribers are called in subscription order, each on the publishing
// goroutine, so every subscriber sees frames in the order they were processed.
// Subscribers that feed other goroutines (the MJPEG server, the WebSocket
// hub) buffer and drop on their own side.
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
}

type subscriber struct {
	handler ResultHandler
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe adds a handler and returns the function that removes it.
// Subscribing to a closed bus is a no-op.
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	sub := &subscriber{handler: handler}

	b.mu.Lock()
	if !b.closed {
		b.subs = append(b.subs, sub)
	}
	b.mu.Unlock()

	return func() { b.remove(sub) }
}

func (b *EventBus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := slices.Index(b.subs, sub); i >= 0 {
		b.subs = slices.Delete(b.subs, i, i+1)
	}
}

// Publish delivers result to every subscriber. nil results are ignored.
func (b *EventBus) Publish(result *FrameResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		sub.handler.OnFrameResult(result)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.closed = true
}
