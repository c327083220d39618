package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/testutil"
)

// openStream connects to the invalidation stream and returns a channel of
// decoded frames. Cancel ctx to disconnect.
func openStream(t *testing.T, ctx context.Context, baseURL, query string) <-chan app.Invalidation {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/invalidations"+query, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan app.Invalidation, 8)
	go func() {
		defer resp.Body.Close()
		defer close(frames)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var msg app.Invalidation
			if json.Unmarshal([]byte(data), &msg) == nil {
				frames <- msg
			}
		}
	}()
	return frames
}

func nextFrame(t *testing.T, frames <-chan app.Invalidation) app.Invalidation {
	t.Helper()
	select {
	case msg, ok := <-frames:
		require.True(t, ok, "stream ended")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation received")
	}
	return app.Invalidation{}
}

func newTestServer(t *testing.T, optimist *app.Application) *httptest.Server {
	t.Helper()
	router := http.NewServeMux()
	AddApis(optimist, router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestInvalidationStream_DeliversBroadcasts(t *testing.T) {
	optimist := testutil.NewTestApp(new(testutil.MockRemote))
	defer optimist.Close()
	server := newTestServer(t, optimist)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := openStream(t, ctx, server.URL, "")

	// the handler subscribes before writing headers, so the stream is live
	require.NoError(t, optimist.Invalidations.Broadcast(ctx, []app.QueryKey{"worker:w1", "worker-list"}, "corr-1"))

	msg := nextFrame(t, frames)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, optimist.Invalidations.Origin(), msg.Origin)
	assert.Equal(t, []app.QueryKey{"worker:w1", "worker-list"}, msg.QueryKeys)
}

func TestInvalidationStream_Filters(t *testing.T) {
	optimist := testutil.NewTestApp(new(testutil.MockRemote))
	defer optimist.Close()
	server := newTestServer(t, optimist)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := openStream(t, ctx, server.URL, "?key=worker-list&match=user:*")

	require.NoError(t, optimist.Invalidations.Broadcast(ctx, []app.QueryKey{"worker:w1"}, "corr-skip"))
	require.NoError(t, optimist.Invalidations.Broadcast(ctx, []app.QueryKey{"worker:w2", "worker-list:offset=0:limit=50"}, "corr-page"))
	require.NoError(t, optimist.Invalidations.Broadcast(ctx, []app.QueryKey{"user:u1"}, "corr-user"))

	msg := nextFrame(t, frames)
	assert.Equal(t, "corr-page", msg.CorrelationID)
	assert.Equal(t, []app.QueryKey{"worker-list:offset=0:limit=50"}, msg.QueryKeys)

	msg = nextFrame(t, frames)
	assert.Equal(t, "corr-user", msg.CorrelationID)
}

func TestInvalidationStream_EndsOnShutdown(t *testing.T) {
	optimist := testutil.NewTestApp(new(testutil.MockRemote))
	server := newTestServer(t, optimist)

	frames := openStream(t, context.Background(), server.URL, "")
	optimist.Close()

	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream stayed open after shutdown")
	}
}

func TestBroadcastInvalidation(t *testing.T) {
	optimist := testutil.NewTestApp(new(testutil.MockRemote))
	defer optimist.Close()
	optimist.Store.Commit(app.RecordKey("worker", "w1"), testutil.WorkerJSON("w1", "Active"))
	optimist.Store.Commit(app.RecordKey("worker", "w2"), testutil.WorkerJSON("w2", "Active"))
	optimist.Store.Commit(app.RecordKey("user", "u1"), json.RawMessage(`{"id":"u1"}`))

	stream, release := optimist.Invalidations.Subscribe()
	defer release()

	rec := serve(t, optimist, testutil.NewJSONRequest(t, http.MethodPost, "/api/invalidations", BroadcastRequest{
		QueryKeys:     []string{"worker"},
		CorrelationID: "manual-1",
	}))
	var resp BroadcastResponse
	testutil.AssertJSONResponse(t, rec, http.StatusAccepted, &resp)
	assert.Equal(t, "manual-1", resp.CorrelationID)
	assert.Equal(t, 2, resp.StaleEntries)

	_, _, stale, _ := optimist.Store.Peek(app.RecordKey("worker", "w1"))
	assert.True(t, stale)
	_, _, stale, _ = optimist.Store.Peek(app.RecordKey("user", "u1"))
	assert.False(t, stale)

	select {
	case msg := <-stream:
		assert.Equal(t, "manual-1", msg.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("manual invalidation was not broadcast")
	}
}

func TestBroadcastInvalidation_Errors(t *testing.T) {
	optimist := testutil.NewTestApp(new(testutil.MockRemote), testutil.WithSecret("s3cret"))
	defer optimist.Close()

	rec := serve(t, optimist, testutil.NewJSONRequest(t, http.MethodPost, "/api/invalidations", BroadcastRequest{QueryKeys: []string{"worker"}}))
	testutil.AssertJSONError(t, rec, http.StatusForbidden, "authorization")

	rec = serve(t, optimist, testutil.WithSecretHeader(
		testutil.NewJSONRequest(t, http.MethodPost, "/api/invalidations", BroadcastRequest{}), "s3cret"))
	testutil.AssertJSONError(t, rec, http.StatusUnprocessableEntity, "validation")

	req := httptest.NewRequest(http.MethodPost, "/api/invalidations", strings.NewReader("{"))
	rec = serve(t, optimist, testutil.WithSecretHeader(req, "s3cret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidationFilter(t *testing.T) {
	filter := invalidationFilter{
		prefixes: []app.QueryKey{"worker-list"},
		patterns: []string{"user:?1"},
	}
	keys := []app.QueryKey{"worker:w1", "worker-list", "worker-list:offset=0:limit=50", "user:u1", "user:u12"}
	assert.Equal(t, []app.QueryKey{"worker-list", "worker-list:offset=0:limit=50", "user:u1"}, filter.apply(keys))

	assert.Equal(t, keys, invalidationFilter{}.apply(keys))
}
