package app

import (
	"context"
	"sync"
	"time"
)

// Invalidation tells every listener that the named query keys (and every
// key they prefix) are stale. CorrelationID is shared by all messages a
// single mutation produces; Origin identifies the sending instance.
//
// A Resync message carries no keys. Drivers publish it locally after
// reconnecting, since anything sent while disconnected was lost.
type Invalidation struct {
	QueryKeys     []QueryKey `json:"query_keys"`
	CorrelationID string     `json:"correlation_id"`
	Origin        string     `json:"origin"`
	SentAt        time.Time  `json:"sent_at"`
	Resync        bool       `json:"resync,omitempty"`
}

func resyncMessage() Invalidation {
	return Invalidation{CorrelationID: newID(), SentAt: time.Now(), Resync: true}
}

// Bus carries invalidations between instances. Delivery is at-most-once
// per subscriber; a slow subscriber may miss messages.
type Bus interface {
	Publish(ctx context.Context, msg Invalidation) error
	// Subscribe returns a channel of messages and a function that must be
	// called to release it.
	Subscribe() (<-chan Invalidation, func())
	Close() error
}

const subscriberBufferSize = 64

// EventBus is the in-memory Bus. It also backs the local fan-out of the
// Postgres and Redis drivers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[chan Invalidation]struct{}
	closed      bool
}

var _ Bus = (*EventBus)(nil)

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[chan Invalidation]struct{}),
	}
}

// Subscribe returns a buffered channel that receives bus messages and an
// unsubscribe function. The caller must call unsubscribe when done.
func (b *EventBus) Subscribe() (<-chan Invalidation, func()) {
	ch := make(chan Invalidation, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[ch]; ok {
				delete(b.subscribers, ch)
				close(ch)
			}
		})
	}

	return ch, unsubscribe
}

// Publish sends a message to all subscribers with a non-blocking send.
// Slow consumers that have full buffers will miss messages.
func (b *EventBus) Publish(_ context.Context, msg Invalidation) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			// Drop message for slow consumer
		}
	}
	return nil
}

// Close releases every subscriber channel.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	return nil
}
