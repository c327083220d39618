package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
)

// InvalidationHandler receives the keys of an invalidation that has not
// been seen before.
type InvalidationHandler func(ctx context.Context, msg Invalidation)

// Invalidator publishes and consumes broadcast invalidations on a Bus.
//
// Each (correlation id, key) pair is processed at most once, so a message
// delivered twice (or echoed by two drivers) never marks a key stale
// twice. Handlers only see messages from other origins: the instance that
// committed a mutation has already updated its own cache.
type Invalidator struct {
	bus    Bus
	origin string

	seenMu sync.Mutex
	seen   *lru.Cache

	handlersMu sync.RWMutex
	handlers   map[uint64]InvalidationHandler
	nextID     uint64

	streams     *EventBus
	unsubscribe func()
	done        chan struct{}
}

// NewInvalidator subscribes to bus immediately. dedupeSize bounds the
// number of remembered (correlation id, key) pairs.
func NewInvalidator(bus Bus, dedupeSize int) *Invalidator {
	if dedupeSize <= 0 {
		dedupeSize = 4096
	}
	ch, unsubscribe := bus.Subscribe()
	inv := &Invalidator{
		bus:         bus,
		origin:      newID(),
		seen:        lru.New(dedupeSize),
		handlers:    make(map[uint64]InvalidationHandler),
		streams:     NewEventBus(),
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}
	go inv.pump(ch)
	return inv
}

// Origin is the id stamped on every message this instance publishes.
func (inv *Invalidator) Origin() string {
	return inv.origin
}

// Broadcast publishes one invalidation for keys. An empty correlationID
// gets a fresh one.
func (inv *Invalidator) Broadcast(ctx context.Context, keys []QueryKey, correlationID string) error {
	if len(keys) == 0 {
		return nil
	}
	if correlationID == "" {
		correlationID = newID()
	}
	msg := Invalidation{
		QueryKeys:     keys,
		CorrelationID: correlationID,
		Origin:        inv.origin,
		SentAt:        time.Now(),
	}
	if err := inv.bus.Publish(ctx, msg); err != nil {
		return fmt.Errorf("broadcasting invalidation %s: %w", correlationID, err)
	}
	log(ctx).Debug("Broadcast invalidation",
		slog.String("correlation_id", correlationID),
		slog.Any("query_keys", keys),
	)
	return nil
}

// OnInvalidation registers h and returns a function that removes it.
func (inv *Invalidator) OnInvalidation(h InvalidationHandler) func() {
	inv.handlersMu.Lock()
	id := inv.nextID
	inv.nextID++
	inv.handlers[id] = h
	inv.handlersMu.Unlock()

	return func() {
		inv.handlersMu.Lock()
		delete(inv.handlers, id)
		inv.handlersMu.Unlock()
	}
}

// Subscribe streams every deduplicated invalidation, whatever its origin.
// Browser tabs of this instance need to hear about its own commits too.
func (inv *Invalidator) Subscribe() (<-chan Invalidation, func()) {
	return inv.streams.Subscribe()
}

// Close stops consuming the bus and ends every stream. It does not close
// the bus itself.
func (inv *Invalidator) Close() {
	inv.unsubscribe()
	<-inv.done
	_ = inv.streams.Close()
}

func (inv *Invalidator) pump(ch <-chan Invalidation) {
	defer close(inv.done)
	ctx := context.Background()
	for msg := range ch {
		if !msg.Resync {
			fresh := inv.unseen(msg)
			if len(fresh) == 0 {
				continue
			}
			msg.QueryKeys = fresh
		}
		_ = inv.streams.Publish(ctx, msg)
		if msg.Origin == inv.origin {
			continue
		}

		inv.handlersMu.RLock()
		handlers := make([]InvalidationHandler, 0, len(inv.handlers))
		for _, h := range inv.handlers {
			handlers = append(handlers, h)
		}
		inv.handlersMu.RUnlock()

		for _, h := range handlers {
			h(ctx, msg)
		}
	}
}

// unseen records the message's keys and returns the ones not already
// processed under its correlation id.
func (inv *Invalidator) unseen(msg Invalidation) []QueryKey {
	inv.seenMu.Lock()
	defer inv.seenMu.Unlock()
	var fresh []QueryKey
	for _, key := range msg.QueryKeys {
		id := msg.CorrelationID + "\x00" + string(key)
		if _, ok := inv.seen.Get(id); ok {
			continue
		}
		inv.seen.Add(id, struct{}{})
		fresh = append(fresh, key)
	}
	return fresh
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
