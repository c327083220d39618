package app

import (
	"sync"
	"sync/atomic"
	"time"
)

type cacheEntry[V any] struct {
	value     V
	present   bool // false for the tombstone left by an optimistic delete
	stale     bool
	pending   bool // an optimistic mutation owns this entry
	updatedAt time.Time
	usedAt    *atomic.Int64 // unix nanos of the last read or write
}

// Snapshot is a copy of one entry taken just before an optimistic write,
// used to put the entry back if the write fails.
type Snapshot[V any] struct {
	Key     QueryKey
	Value   V
	Present bool
	Stale   bool
}

// Store is the process-wide query cache. Entries change only through the
// transitions below: Apply/Discard (optimistic), Commit/CommitDiscard,
// Restore (rollback), Fill (fetch result) and MarkStale (invalidation).
//
// Every transition advances a logical clock. Fill takes the clock value
// observed before the fetch started and refuses to overwrite an entry that
// changed or was invalidated since, so a slow fetch never clobbers a newer
// committed or optimistic value.
//
// Entries older than the stale time read as stale, so a lost invalidation
// delays a refresh instead of preventing it. Sweep drops entries unused for
// the GC time and forgets clock history older than the previous sweep.
type Store[V any] struct {
	mu          sync.RWMutex
	items       map[QueryKey]cacheEntry[V]
	tick        uint64
	modified    map[QueryKey]uint64
	invalidated map[QueryKey]uint64
	// Fill rejects observations older than horizon; history at or below
	// it has been forgotten.
	horizon   uint64
	lastSweep uint64

	staleTime time.Duration
	gcTime    time.Duration
	now       func() time.Time
}

func NewStore[V any]() *Store[V] {
	return &Store[V]{
		items:       make(map[QueryKey]cacheEntry[V]),
		modified:    make(map[QueryKey]uint64),
		invalidated: make(map[QueryKey]uint64),
		now:         time.Now,
	}
}

// SetExpiry sets how long an entry stays fresh and how long an unused
// entry is kept. Zero disables either limit.
func (s *Store[V]) SetExpiry(staleTime, gcTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleTime = staleTime
	s.gcTime = gcTime
}

// Get returns the current value for key, stale or not.
func (s *Store[V]) Get(key QueryKey) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok || !e.present {
		var zero V
		return zero, false
	}
	s.touch(e)
	return e.value, true
}

// Peek returns the value for key with its stale and pending flags.
// present is false when the key was never cached or is being deleted.
func (s *Store[V]) Peek(key QueryKey) (value V, present, stale, pending bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok {
		return value, false, false, false
	}
	s.touch(e)
	return e.value, e.present, e.stale || s.expiredLocked(e), e.pending
}

// Observe returns the current clock for a later Fill.
func (s *Store[V]) Observe() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// Apply snapshots key and replaces its value with an optimistic one.
func (s *Store[V]) Apply(key QueryKey, optimistic V) Snapshot[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked(key)
	s.setLocked(key, cacheEntry[V]{value: optimistic, present: true, pending: true})
	return snap
}

// Discard snapshots key and hides it until the delete settles.
func (s *Store[V]) Discard(key QueryKey) Snapshot[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked(key)
	s.setLocked(key, cacheEntry[V]{pending: true})
	return snap
}

// Commit stores the authoritative server value for key.
func (s *Store[V]) Commit(key QueryKey, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, cacheEntry[V]{value: value, present: true})
}

// CommitDiscard removes key after a confirmed delete.
func (s *Store[V]) CommitDiscard(key QueryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	s.advanceLocked(key)
}

// Restore puts back the entry captured by snap. An invalidation that
// arrived while the mutation was in flight keeps the restored entry stale.
func (s *Store[V]) Restore(snap Snapshot[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.items[snap.Key]
	if !snap.Present {
		delete(s.items, snap.Key)
		s.advanceLocked(snap.Key)
		return
	}
	s.setLocked(snap.Key, cacheEntry[V]{
		value:   snap.Value,
		present: true,
		stale:   snap.Stale || current.stale,
	})
}

// Fill caches a fetched value unless the entry changed, was invalidated or
// was flushed after observed, or a mutation currently owns it.
func (s *Store[V]) Fill(key QueryKey, value V, observed uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if observed < s.horizon {
		return false
	}
	if e, ok := s.items[key]; ok && e.pending {
		return false
	}
	if s.modified[key] > observed {
		return false
	}
	for prefix, at := range s.invalidated {
		if at > observed && key.HasPrefix(prefix) {
			return false
		}
	}
	s.setLocked(key, cacheEntry[V]{value: value, present: true})
	return true
}

// MarkStale flags every entry matching one of the prefixes so the next
// read refetches it. It returns the keys that became stale.
func (s *Store[V]) MarkStale(prefixes ...QueryKey) []QueryKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	var marked []QueryKey
	for _, prefix := range prefixes {
		s.invalidated[prefix] = s.tick
		for key, e := range s.items {
			if e.stale || !key.HasPrefix(prefix) || (!e.present && !e.pending) {
				continue
			}
			e.stale = true
			s.items[key] = e
			marked = append(marked, key)
		}
	}
	return marked
}

// MarkAllStale flags every entry, for when invalidations may have been
// missed.
func (s *Store[V]) MarkAllStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	s.horizon = s.tick
	s.modified = make(map[QueryKey]uint64)
	s.invalidated = make(map[QueryKey]uint64)
	n := 0
	for key, e := range s.items {
		if e.stale || !e.present {
			continue
		}
		e.stale = true
		s.items[key] = e
		n++
	}
	return n
}

// Sweep drops entries nobody has read or written for the GC time and
// forgets clock history recorded before the previous sweep. Fetches
// observed before that point are no longer cached when they finish.
// It returns the number of entries dropped.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	if s.gcTime > 0 {
		cutoff := s.now().Add(-s.gcTime).UnixNano()
		for key, e := range s.items {
			if e.pending || e.usedAt.Load() > cutoff {
				continue
			}
			delete(s.items, key)
			dropped++
		}
	}
	for key, at := range s.modified {
		if at <= s.lastSweep {
			delete(s.modified, key)
		}
	}
	for prefix, at := range s.invalidated {
		if at <= s.lastSweep {
			delete(s.invalidated, prefix)
		}
	}
	s.horizon = max(s.horizon, s.lastSweep)
	s.lastSweep = s.tick
	return dropped
}

// History is the number of per-key and per-prefix clock records kept for
// Fill.
func (s *Store[V]) History() (modified, invalidated int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modified), len(s.invalidated)
}

// Len is the number of present entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.items {
		if e.present {
			n++
		}
	}
	return n
}

// Flush clears all entries from the cache.
func (s *Store[V]) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	s.horizon = s.tick
	s.items = make(map[QueryKey]cacheEntry[V])
	s.modified = make(map[QueryKey]uint64)
	s.invalidated = make(map[QueryKey]uint64)
}

func (s *Store[V]) snapshotLocked(key QueryKey) Snapshot[V] {
	e, ok := s.items[key]
	if !ok {
		return Snapshot[V]{Key: key}
	}
	return Snapshot[V]{Key: key, Value: e.value, Present: e.present, Stale: e.stale || s.expiredLocked(e)}
}

func (s *Store[V]) setLocked(key QueryKey, e cacheEntry[V]) {
	e.updatedAt = s.now()
	e.usedAt = new(atomic.Int64)
	e.usedAt.Store(e.updatedAt.UnixNano())
	s.items[key] = e
	s.advanceLocked(key)
}

// touch records a read. Readers hold only the read lock, hence the atomic.
func (s *Store[V]) touch(e cacheEntry[V]) {
	e.usedAt.Store(s.now().UnixNano())
}

func (s *Store[V]) expiredLocked(e cacheEntry[V]) bool {
	return s.staleTime > 0 && !e.pending && s.now().Sub(e.updatedAt) > s.staleTime
}

func (s *Store[V]) advanceLocked(key QueryKey) {
	s.tick++
	s.modified[key] = s.tick
}
