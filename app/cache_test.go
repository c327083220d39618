package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives a Store's notion of time.
type fakeClock struct{ at time.Time }

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newClockedStore(staleTime, gcTime time.Duration) (*Store[string], *fakeClock) {
	clock := &fakeClock{at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore[string]()
	s.now = clock.now
	s.SetExpiry(staleTime, gcTime)
	return s, clock
}

func TestStore_ApplyThenRestore(t *testing.T) {
	s := NewStore[string]()
	s.Commit("worker:w1", "Active")

	snap := s.Apply("worker:w1", "Inactive")
	v, present, stale, pending := s.Peek("worker:w1")
	assert.Equal(t, "Inactive", v)
	assert.True(t, present)
	assert.False(t, stale)
	assert.True(t, pending)

	s.Restore(snap)
	v, present, stale, pending = s.Peek("worker:w1")
	assert.Equal(t, "Active", v)
	assert.True(t, present)
	assert.False(t, stale)
	assert.False(t, pending)
}

func TestStore_RestoreOfMissingEntryRemovesIt(t *testing.T) {
	s := NewStore[string]()
	snap := s.Apply("worker:new", "draft")
	s.Restore(snap)

	_, ok := s.Get("worker:new")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStore_RestoreKeepsInvalidationThatArrivedInFlight(t *testing.T) {
	s := NewStore[string]()
	s.Commit("worker:w1", "Active")

	snap := s.Apply("worker:w1", "Inactive")
	s.MarkStale("worker")
	s.Restore(snap)

	v, _, stale, _ := s.Peek("worker:w1")
	assert.Equal(t, "Active", v)
	assert.True(t, stale)
}

func TestStore_DiscardHidesUntilSettled(t *testing.T) {
	s := NewStore[string]()
	s.Commit("worker:w1", "Active")

	snap := s.Discard("worker:w1")
	_, ok := s.Get("worker:w1")
	assert.False(t, ok)
	_, present, _, pending := s.Peek("worker:w1")
	assert.False(t, present)
	assert.True(t, pending)

	s.Restore(snap)
	v, ok := s.Get("worker:w1")
	assert.True(t, ok)
	assert.Equal(t, "Active", v)

	s.Discard("worker:w1")
	s.CommitDiscard("worker:w1")
	_, present, _, pending = s.Peek("worker:w1")
	assert.False(t, present)
	assert.False(t, pending)
}

func TestStore_FillIsGenerationGuarded(t *testing.T) {
	s := NewStore[string]()

	observed := s.Observe()
	s.Commit("worker:w1", "committed later")
	assert.False(t, s.Fill("worker:w1", "slow fetch", observed), "older fetch must not overwrite a commit")
	v, _ := s.Get("worker:w1")
	assert.Equal(t, "committed later", v)

	observed = s.Observe()
	assert.True(t, s.Fill("worker:w1", "fresh fetch", observed))
	v, _ = s.Get("worker:w1")
	assert.Equal(t, "fresh fetch", v)
}

func TestStore_FillRejectedWhilePendingOrInvalidated(t *testing.T) {
	s := NewStore[string]()

	s.Apply("worker:w1", "optimistic")
	assert.False(t, s.Fill("worker:w1", "server", s.Observe()))

	observed := s.Observe()
	s.MarkStale("worker-list")
	assert.False(t, s.Fill("worker-list:offset=0:limit=50", "page", observed))
	assert.True(t, s.Fill("worker-list:offset=0:limit=50", "page", s.Observe()))

	observed = s.Observe()
	s.Flush()
	assert.False(t, s.Fill("user:u1", "user", observed))
}

func TestStore_MarkStaleMatchesSegmentPrefixes(t *testing.T) {
	s := NewStore[string]()
	s.Commit("worker-list:offset=0:limit=50", "page 1")
	s.Commit("worker-list:offset=50:limit=50", "page 2")
	s.Commit("worker:w1", "w1")

	marked := s.MarkStale("worker-list")
	assert.ElementsMatch(t, []QueryKey{"worker-list:offset=0:limit=50", "worker-list:offset=50:limit=50"}, marked)

	_, _, stale, _ := s.Peek("worker:w1")
	assert.False(t, stale)

	assert.Empty(t, s.MarkStale("worker-list"), "already stale entries are not reported twice")
}

func TestStore_EntriesGoStaleWithAge(t *testing.T) {
	s, clock := newClockedStore(5*time.Minute, 0)
	s.Commit("worker:w1", "Active")

	clock.advance(4 * time.Minute)
	_, _, stale, _ := s.Peek("worker:w1")
	assert.False(t, stale)

	clock.advance(2 * time.Minute)
	_, present, stale, _ := s.Peek("worker:w1")
	assert.True(t, present)
	assert.True(t, stale, "an entry past the stale time is refetched even if its invalidation was lost")

	s.Apply("worker:w1", "Inactive")
	clock.advance(10 * time.Minute)
	_, _, stale, pending := s.Peek("worker:w1")
	assert.True(t, pending)
	assert.False(t, stale, "an optimistic entry does not expire under its mutation")
}

func TestStore_SweepDropsUnusedEntries(t *testing.T) {
	s, clock := newClockedStore(0, 10*time.Minute)
	s.Commit("worker:w1", "read often")
	s.Commit("worker:w2", "never read")
	s.Apply("worker:w3", "in flight")

	for i := 0; i < 3; i++ {
		clock.advance(4 * time.Minute)
		_, ok := s.Get("worker:w1")
		require.True(t, ok)
	}

	assert.Equal(t, 1, s.Sweep())
	_, ok := s.Get("worker:w2")
	assert.False(t, ok)
	_, ok = s.Get("worker:w1")
	assert.True(t, ok)
	_, _, _, pending := s.Peek("worker:w3")
	assert.True(t, pending, "entries owned by a mutation are never swept")
}

func TestStore_SweepBoundsHistory(t *testing.T) {
	s, _ := newClockedStore(0, time.Minute)
	for i := 0; i < 1000; i++ {
		key := QueryKey(fmt.Sprintf("worker:w%d", i))
		s.Discard(key)
		s.CommitDiscard(key)
		s.MarkStale(QueryKey(fmt.Sprintf("worker-list:offset=%d:limit=50", i)))
	}
	modified, invalidated := s.History()
	require.Equal(t, 1000, modified)
	require.Equal(t, 1000, invalidated)

	s.Sweep()
	s.Sweep()
	modified, invalidated = s.History()
	assert.Zero(t, modified)
	assert.Zero(t, invalidated)
	assert.Zero(t, s.Len())
}

func TestStore_SweepKeepsFillGuardSound(t *testing.T) {
	s, _ := newClockedStore(0, 0)

	slow := s.Observe()
	s.Commit("worker:w1", "committed")
	s.Sweep()
	assert.False(t, s.Fill("worker:w1", "slow fetch", slow), "history is kept until the next sweep")

	s.Sweep()
	assert.False(t, s.Fill("worker:w1", "slow fetch", slow), "observations older than forgotten history are refused")
	v, _ := s.Get("worker:w1")
	assert.Equal(t, "committed", v)

	assert.True(t, s.Fill("worker:w1", "fresh fetch", s.Observe()))
}

func TestStore_MarkAllStale(t *testing.T) {
	s := NewStore[string]()
	s.Commit("worker:w1", "w1")
	s.Commit("user:u1", "u1")

	observed := s.Observe()
	assert.Equal(t, 2, s.MarkAllStale())
	_, _, stale, _ := s.Peek("user:u1")
	assert.True(t, stale)
	assert.False(t, s.Fill("user:u1", "fetched before resync", observed))
}
