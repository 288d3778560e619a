// ABOUTME: Bounded in-memory fan-out of relayed payloads to stream subscribers
// ABOUTME: Publish never blocks; full subscriber channels drop the event for that subscriber

package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the channel capacity for each subscriber.
const DefaultSubscriberBuffer = 1024

// EventBroadcaster is the internal subscriber stream. Each subscriber gets
// its own bounded channel.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan json.RawMessage // subID -> ch
	bufferSize  int
	closed      bool
	metrics     *Metrics
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. A non-positive bufferSize uses
// DefaultSubscriberBuffer. Pass nil logger for default.
func NewEventBroadcaster(bufferSize int, logger *slog.Logger) *EventBroadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]chan json.RawMessage),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and id. The
// subscription is cleaned up when ctx is cancelled. After Close, the returned
// channel is already closed.
func (b *EventBroadcaster) Subscribe(ctx context.Context) (<-chan json.RawMessage, string) {
	subID := uuid.New().String()
	ch := make(chan json.RawMessage, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish offers payload to every subscriber and returns how many accepted it.
func (b *EventBroadcaster) Publish(payload json.RawMessage) int {
	// sends are non-blocking, so holding the read lock keeps Unsubscribe from
	// closing a channel mid-send without stalling the publisher
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, ch := range b.subscribers {
		select {
		case ch <- payload:
			delivered++
		default:
			b.metrics.recordDrop()
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id)
		}
	}
	return delivered
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
