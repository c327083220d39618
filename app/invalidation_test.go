package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type handlerLog struct {
	mu   sync.Mutex
	msgs []Invalidation
}

func (h *handlerLog) handle(_ context.Context, msg Invalidation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *handlerLog) keyCount(key QueryKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.msgs {
		for _, k := range m.QueryKeys {
			if k == key {
				n++
			}
		}
	}
	return n
}

func TestInvalidator_DeliversEachKeyOncePerCorrelation(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus()
	defer bus.Close()
	sender := NewInvalidator(bus, 16)
	defer sender.Close()
	receiver := NewInvalidator(bus, 16)
	defer receiver.Close()

	var received handlerLog
	unsubscribe := receiver.OnInvalidation(received.handle)
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, sender.Broadcast(ctx, []QueryKey{"worker:w1", "worker-list"}, "corr-1"))
	// redelivery of the same message
	require.NoError(t, sender.Broadcast(ctx, []QueryKey{"worker:w1", "worker-list"}, "corr-1"))
	// a later mutation of the same key is a new event
	require.NoError(t, sender.Broadcast(ctx, []QueryKey{"worker:w1"}, "corr-2"))
	// barrier: once it arrives every earlier message has been handled
	require.NoError(t, sender.Broadcast(ctx, []QueryKey{"barrier"}, "corr-barrier"))

	require.Eventually(t, func() bool { return received.keyCount("barrier") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, received.keyCount("worker:w1"))
	assert.Equal(t, 1, received.keyCount("worker-list"))
}

func TestInvalidator_SkipsHandlersForOwnOrigin(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus()
	defer bus.Close()
	inv := NewInvalidator(bus, 16)
	defer inv.Close()

	var received handlerLog
	defer inv.OnInvalidation(received.handle)()

	stream, release := inv.Subscribe()
	defer release()

	require.NoError(t, inv.Broadcast(context.Background(), []QueryKey{"worker:w1"}, ""))

	select {
	case msg := <-stream:
		assert.Equal(t, []QueryKey{"worker:w1"}, msg.QueryKeys)
		assert.Equal(t, inv.Origin(), msg.Origin)
		assert.NotEmpty(t, msg.CorrelationID, "an empty correlation id is filled in")
	case <-time.After(time.Second):
		t.Fatal("own invalidation was not streamed")
	}
	assert.Equal(t, 0, received.keyCount("worker:w1"))
}

func TestInvalidator_CloseEndsStreams(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus()
	inv := NewInvalidator(bus, 16)
	stream, _ := inv.Subscribe()

	inv.Close()
	require.NoError(t, bus.Close())

	_, open := <-stream
	assert.False(t, open)
}

func TestEventBus_DropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe()

	for i := 0; i < subscriberBufferSize+10; i++ {
		require.NoError(t, bus.Publish(context.Background(), Invalidation{CorrelationID: "c"}))
	}
	assert.Len(t, ch, subscriberBufferSize)

	unsubscribe()
	unsubscribe()
	for range ch {
	}
}

// Two tabs show the same worker list. When one edits a worker, the other's
// cached list goes stale and is refetched on its next read.
func TestApplication_ListInvalidatedAcrossInstances(t *testing.T) {
	defer goleak.VerifyNone(t)

	remote := newMemRemote()
	remote.put("worker", "w1", `{"id":"w1","first_name":"Ada","status":"Active"}`)
	remote.put("worker", "w2", `{"id":"w2","first_name":"Grace","status":"Active"}`)

	bus := NewEventBus()
	tabA := NewApplication(newTestConfig(), remote, bus, nil)
	tabB := NewApplication(newTestConfig(), remote, bus, nil)
	defer func() {
		tabA.Close()
		tabB.Close()
	}()

	ctx := context.Background()
	page := Page{Offset: 0, Limit: 50}
	_, err := tabA.ListRecords(ctx, "worker", page)
	require.NoError(t, err)
	before, err := tabB.ListRecords(ctx, "worker", page)
	require.NoError(t, err)
	require.Len(t, before.Rows, 2)
	listsAfterWarmup := remote.listCalls()

	// served from cache
	_, err = tabB.ListRecords(ctx, "worker", page)
	require.NoError(t, err)
	assert.Equal(t, listsAfterWarmup, remote.listCalls())

	_, err = tabA.SaveRecord(ctx, "worker", "w1", json.RawMessage(`{"first_name":"Ada","status":"Inactive"}`))
	require.NoError(t, err)

	listKey := PageKey("worker", 0, 50)
	require.Eventually(t, func() bool {
		_, _, stale, _ := tabB.Store.Peek(listKey)
		return stale
	}, time.Second, time.Millisecond)

	after, err := tabB.ListRecords(ctx, "worker", page)
	require.NoError(t, err)
	assert.Equal(t, listsAfterWarmup+1, remote.listCalls())

	var w1 map[string]any
	require.NoError(t, json.Unmarshal(after.Rows[0], &w1))
	assert.Equal(t, "Inactive", w1["status"])
}

func TestApplication_SessionTraceIDDoesNotSuppressLaterCommits(t *testing.T) {
	remote := newMemRemote()
	remote.put("worker", "w1", `{"id":"w1","status":"Active"}`)

	bus := NewEventBus()
	tabA := NewApplication(newTestConfig(), remote, bus, nil)
	tabB := NewApplication(newTestConfig(), remote, bus, nil)
	defer func() {
		tabA.Close()
		tabB.Close()
	}()

	ctx := context.Background()
	key := RecordKey("worker", "w1")
	for _, status := range []string{"Inactive", "Suspended"} {
		_, err := tabB.GetRecord(ctx, "worker", "w1")
		require.NoError(t, err)

		_, err = tabA.SaveRecord(ctx, "worker", "w1", json.RawMessage(`{"status":"`+status+`"}`), WithTraceID("session-1"))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			_, _, stale, _ := tabB.Store.Peek(key)
			return stale
		}, time.Second, time.Millisecond, "commit to %s was not invalidated", status)

		doc, err := tabB.GetRecord(ctx, "worker", "w1")
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(doc, &got))
		assert.Equal(t, status, got["status"])
	}
}

func TestApplication_ResyncMarksWholeCacheStale(t *testing.T) {
	remote := newMemRemote()
	bus := NewEventBus()
	tab := NewApplication(newTestConfig(), remote, bus, nil)
	defer tab.Close()

	stream, release := tab.Invalidations.Subscribe()
	defer release()

	tab.Store.Commit(RecordKey("worker", "w1"), json.RawMessage(`{"id":"w1"}`))
	tab.Store.Commit(PageKey("user", 0, 50), json.RawMessage(`{}`))

	require.NoError(t, bus.Publish(context.Background(), resyncMessage()))
	require.Eventually(t, func() bool {
		_, _, w1Stale, _ := tab.Store.Peek(RecordKey("worker", "w1"))
		_, _, pageStale, _ := tab.Store.Peek(PageKey("user", 0, 50))
		return w1Stale && pageStale
	}, time.Second, time.Millisecond)

	select {
	case msg := <-stream:
		assert.True(t, msg.Resync)
	case <-time.After(time.Second):
		t.Fatal("resync was not streamed")
	}
}

func TestApplication_SweepsOnInterval(t *testing.T) {
	cfg := newTestConfig()
	cfg.GCTime = time.Millisecond
	cfg.CacheSweep = 5 * time.Millisecond
	tab := NewApplication(cfg, newMemRemote(), NewEventBus(), nil)
	defer tab.Close()

	tab.Store.Commit(RecordKey("worker", "w1"), json.RawMessage(`{"id":"w1"}`))
	require.Eventually(t, func() bool { return tab.Store.Len() == 0 }, time.Second, time.Millisecond)
}
