package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// MutationPolicy decides what happens when a mutation targets a key that
// another mutation still owns.
type MutationPolicy string

const (
	// PolicyQueue waits for earlier mutations on the key, in arrival order.
	PolicyQueue MutationPolicy = "queue"
	// PolicyReject fails fast with ErrMutationInFlight.
	PolicyReject MutationPolicy = "reject"
)

func ParseMutationPolicy(s string) (MutationPolicy, error) {
	switch MutationPolicy(s) {
	case PolicyQueue, PolicyReject:
		return MutationPolicy(s), nil
	case "":
		return PolicyQueue, nil
	}
	return "", fmt.Errorf("unknown mutation policy %q", s)
}

type MutationStatus string

const (
	StatusPending    MutationStatus = "pending"
	StatusCommitted  MutationStatus = "committed"
	StatusRolledBack MutationStatus = "rolled-back"
)

// PendingMutation is an optimistic write that has been applied locally
// and is waiting on the remote.
type PendingMutation[V any] struct {
	Key           QueryKey       `json:"key"`
	RelatedKeys   []QueryKey     `json:"related_keys,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	TraceID       string         `json:"trace_id,omitempty"`
	Optimistic    V              `json:"optimistic"`
	Deleting      bool           `json:"deleting,omitempty"`
	Previous      Snapshot[V]    `json:"-"`
	Status        MutationStatus `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
}

// RemoteFunc performs the write and returns the server's version of the value.
type RemoteFunc[V any] func(ctx context.Context, optimistic V) (V, error)

// RemoveFunc performs a delete.
type RemoveFunc func(ctx context.Context) error

// Broadcaster announces committed keys to other listeners. *Invalidator
// implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, keys []QueryKey, correlationID string) error
}

type MutateOption func(*mutateOptions)

type mutateOptions struct {
	related []QueryKey
	traceID string
}

// WithRelatedKeys names other keys (usually list prefixes) that the write
// makes stale.
func WithRelatedKeys(keys ...QueryKey) MutateOption {
	return func(o *mutateOptions) {
		o.related = append(o.related, keys...)
	}
}

// WithTraceID records the caller's request-tracing id on the mutation and
// its log lines. Callers often reuse one trace id for a whole session, so
// it never replaces the correlation id, which is fresh for every mutation.
func WithTraceID(id string) MutateOption {
	return func(o *mutateOptions) {
		o.traceID = id
	}
}

type keySlot struct {
	waiters []chan struct{}
}

// Controller runs optimistic mutations against a Store.
//
// A mutation applies its optimistic value synchronously, then waits on the
// remote. On success the server value is committed and the key plus its
// related keys are broadcast under one correlation id. On failure the
// snapshot taken before the optimistic write is restored and the
// classified error is returned. If the caller gives up first the entry is
// restored and marked stale, since the server outcome is unknown.
//
// Mutations on the same key never overlap; mutations on different keys run
// concurrently.
type Controller[V any] struct {
	store       *Store[V]
	broadcaster Broadcaster
	policy      MutationPolicy

	mu      sync.Mutex
	slots   map[QueryKey]*keySlot
	pending map[*PendingMutation[V]]struct{}
}

// NewController builds a controller. broadcaster may be nil, in which case
// commits are only applied locally.
func NewController[V any](store *Store[V], broadcaster Broadcaster, policy MutationPolicy) *Controller[V] {
	if policy == "" {
		policy = PolicyQueue
	}
	return &Controller[V]{
		store:       store,
		broadcaster: broadcaster,
		policy:      policy,
		slots:       make(map[QueryKey]*keySlot),
		pending:     make(map[*PendingMutation[V]]struct{}),
	}
}

func (c *Controller[V]) Policy() MutationPolicy {
	return c.policy
}

// Mutate optimistically writes optimistic under key and confirms it with
// remote. It returns the server value, or the classified error after the
// entry has been rolled back.
func (c *Controller[V]) Mutate(ctx context.Context, key QueryKey, optimistic V, remote RemoteFunc[V], opts ...MutateOption) (V, error) {
	var zero V
	o := buildMutateOptions(opts)
	if err := c.acquire(ctx, key); err != nil {
		return zero, err
	}
	defer c.release(key)

	snap := c.store.Apply(key, optimistic)
	pm := c.track(key, o, optimistic, snap, false)

	server, err := await(ctx, func(ctx context.Context) (V, error) {
		return remote(ctx, optimistic)
	})
	if err != nil {
		return zero, c.rollback(ctx, pm, err)
	}

	c.store.Commit(key, server)
	c.commit(ctx, pm)
	return server, nil
}

// Remove optimistically hides key and confirms the delete with remote.
func (c *Controller[V]) Remove(ctx context.Context, key QueryKey, remote RemoveFunc, opts ...MutateOption) error {
	var zero V
	o := buildMutateOptions(opts)
	if err := c.acquire(ctx, key); err != nil {
		return err
	}
	defer c.release(key)

	snap := c.store.Discard(key)
	pm := c.track(key, o, zero, snap, true)

	_, err := await(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, remote(ctx)
	})
	if err != nil {
		return c.rollback(ctx, pm, err)
	}

	c.store.CommitDiscard(key)
	c.commit(ctx, pm)
	return nil
}

// Pending returns copies of the in-flight mutations, oldest first.
func (c *Controller[V]) Pending() []PendingMutation[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingMutation[V], 0, len(c.pending))
	for pm := range c.pending {
		cp := *pm
		cp.RelatedKeys = slices.Clone(pm.RelatedKeys)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b PendingMutation[V]) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

func (c *Controller[V]) rollback(ctx context.Context, pm *PendingMutation[V], cause error) error {
	rerr := Classify(cause)
	c.store.Restore(pm.Previous)
	// The server may still have applied the write.
	if ctx.Err() != nil || rerr.Kind == KindTimeout || rerr.Kind == KindAborted {
		c.store.MarkStale(pm.Key)
	}
	c.settle(pm, StatusRolledBack)

	log(ctx).Warn("Mutation rolled back",
		slog.String("key", string(pm.Key)),
		slog.String("correlation_id", pm.CorrelationID),
		slog.String("kind", string(rerr.Kind)),
		slog.Any("error", cause),
	)
	return rerr
}

func (c *Controller[V]) commit(ctx context.Context, pm *PendingMutation[V]) {
	if len(pm.RelatedKeys) > 0 {
		c.store.MarkStale(pm.RelatedKeys...)
	}
	c.settle(pm, StatusCommitted)
	if c.broadcaster == nil {
		return
	}
	keys := append([]QueryKey{pm.Key}, pm.RelatedKeys...)
	// The write is durable; a departing caller must not stop the announcement.
	if err := c.broadcaster.Broadcast(context.WithoutCancel(ctx), keys, pm.CorrelationID); err != nil {
		log(ctx).Error("Failed to broadcast committed mutation",
			slog.String("key", string(pm.Key)),
			slog.String("correlation_id", pm.CorrelationID),
			slog.Any("error", err),
		)
	}
}

func (c *Controller[V]) track(key QueryKey, o mutateOptions, optimistic V, snap Snapshot[V], deleting bool) *PendingMutation[V] {
	pm := &PendingMutation[V]{
		Key:           key,
		RelatedKeys:   o.related,
		CorrelationID: newID(),
		TraceID:       o.traceID,
		Optimistic:    optimistic,
		Deleting:      deleting,
		Previous:      snap,
		Status:        StatusPending,
		StartedAt:     time.Now(),
	}
	c.mu.Lock()
	c.pending[pm] = struct{}{}
	c.mu.Unlock()
	return pm
}

func (c *Controller[V]) settle(pm *PendingMutation[V], status MutationStatus) {
	c.mu.Lock()
	pm.Status = status
	delete(c.pending, pm)
	c.mu.Unlock()
}

// acquire takes ownership of key, waiting behind earlier mutations under
// PolicyQueue.
func (c *Controller[V]) acquire(ctx context.Context, key QueryKey) error {
	c.mu.Lock()
	slot, held := c.slots[key]
	if !held {
		c.slots[key] = &keySlot{}
		c.mu.Unlock()
		return nil
	}
	if c.policy == PolicyReject {
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	ready := make(chan struct{})
	slot.waiters = append(slot.waiters, ready)
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if i := slices.Index(slot.waiters, ready); i >= 0 {
			slot.waiters = slices.Delete(slot.waiters, i, i+1)
			c.mu.Unlock()
			return Classify(ctx.Err())
		}
		c.mu.Unlock()
		// The slot was handed to us as we gave up; pass it on.
		c.release(key)
		return Classify(ctx.Err())
	}
}

func (c *Controller[V]) release(key QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.slots[key]
	if slot == nil {
		return
	}
	if len(slot.waiters) == 0 {
		delete(c.slots, key)
		return
	}
	next := slot.waiters[0]
	slot.waiters = slot.waiters[1:]
	close(next)
}

func buildMutateOptions(opts []MutateOption) mutateOptions {
	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// await runs fn in its own goroutine so the caller can stop waiting when
// ctx ends even if fn ignores ctx.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.v, r.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}

// IsInFlight reports whether err is a same-key rejection.
func IsInFlight(err error) bool {
	return errors.Is(err, ErrMutationInFlight)
}
