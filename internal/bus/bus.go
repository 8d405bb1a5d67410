// Package bus fans engine events out to live subscribers through bounded
// queues.
//
// Responsibilities:
//   - Register and remove subscribers, each with its own queue capacity
//   - Deliver sample, anomaly, and state events in publish order
//   - Drop the oldest undelivered event when a queue is full so a slow
//     subscriber can never stall the sampling loop
//
// Publish never blocks. A subscriber that falls behind sees the most recent
// events and loses the oldest ones; drops are logged at debug and counted.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/metrics"
	"github.com/hostpulse/hostpulse/pkg/types"
)

// DefaultCapacity is the queue size used when a subscriber asks for none.
const DefaultCapacity = 64

// Subscription is one subscriber's bounded event queue. The channel is closed
// when the subscriber is removed or the bus shuts down.
type Subscription struct {
	ID uuid.UUID

	ch chan types.Event
}

// Events returns the receive side of the queue.
func (s *Subscription) Events() <-chan types.Event {
	return s.ch
}

// Bus is the subscriber registry. All methods are safe for concurrent use.
type Bus struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a new subscriber with the given queue capacity.
// Capacities below 1 fall back to DefaultCapacity. Returns nil after Close.
func (b *Bus) Subscribe(capacity int) *Subscription {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	sub := &Subscription{
		ID: uuid.New(),
		ch: make(chan types.Event, capacity),
	}
	b.subs[sub.ID] = sub
	metrics.Subscribers.Set(float64(len(b.subs)))

	b.logger.Debug("subscriber registered",
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("capacity", capacity))
	return sub
}

// Unsubscribe removes a subscriber and closes its queue. Unknown IDs are
// ignored.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	metrics.Subscribers.Set(float64(len(b.subs)))

	b.logger.Debug("subscriber removed", zap.String("subscription_id", id.String()))
}

// Publish delivers the event to every subscriber without blocking. A full
// queue sheds its oldest event first.
func (b *Bus) Publish(event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Queue full: drop from the head, then retry once. The lock keeps the
		// send side single-writer, so the retry cannot fail.
		select {
		case dropped := <-sub.ch:
			metrics.DroppedEvents.Inc()
			b.logger.Debug("subscriber queue full, dropped oldest event",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("dropped_type", dropped.Type))
		default:
		}

		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Count returns the number of registered subscribers.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close removes all subscribers and closes their queues. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	metrics.Subscribers.Set(0)
}
