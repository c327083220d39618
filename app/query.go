package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the server value for key.
type FetchFunc[V any] func(ctx context.Context, key QueryKey) (V, error)

// QueryClient is the read-through side of the Store. Fresh entries are
// served from the cache; missing or stale ones are fetched, with
// concurrent fetches of the same key collapsed into one.
type QueryClient[V any] struct {
	store *Store[V]
	group singleflight.Group
}

func NewQueryClient[V any](store *Store[V]) *QueryClient[V] {
	return &QueryClient[V]{store: store}
}

// Get returns the cached value for key, fetching it when needed. An entry
// owned by a pending mutation is served as is: its optimistic value, or
// not found while a delete is in flight.
func (q *QueryClient[V]) Get(ctx context.Context, key QueryKey, fetch FetchFunc[V]) (V, error) {
	var zero V
	value, present, stale, pending := q.store.Peek(key)
	if pending {
		if present {
			return value, nil
		}
		return zero, NewNotFoundError(fmt.Sprintf("%s is being deleted", key))
	}
	if present && !stale {
		return value, nil
	}

	observed := q.store.Observe()
	// Fetches started after a write or invalidation must not join an
	// older flight that may have read the previous server state.
	flight := fmt.Sprintf("%s@%d", key, observed)
	ch := q.group.DoChan(flight, func() (any, error) {
		v, err := fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		if !q.store.Fill(key, v, observed) {
			log(ctx).Debug("Discarded superseded fetch", "key", string(key))
			if newer, ok := q.store.Get(key); ok {
				return newer, nil
			}
		}
		return v, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return zero, Classify(r.Err)
		}
		return r.Val.(V), nil
	case <-ctx.Done():
		return zero, Classify(ctx.Err())
	}
}

// Invalidate marks every entry under keys stale so the next Get refetches.
func (q *QueryClient[V]) Invalidate(keys ...QueryKey) []QueryKey {
	return q.store.MarkStale(keys...)
}

func (q *QueryClient[V]) Store() *Store[V] {
	return q.store
}
