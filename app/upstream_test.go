package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUpstream(t *testing.T, handler http.HandlerFunc) *HTTPRemote {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	remote, err := NewHTTPRemote(srv.URL+"/api", 2*time.Second, "upstream-secret")
	require.NoError(t, err)
	return remote
}

func TestHTTPRemote_Save(t *testing.T) {
	remote := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/worker/w1/", r.URL.Path)
		assert.Equal(t, "upstream-secret", r.Header.Get("X-Optimist-Secret"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"id":"w1","status":"Inactive"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"w1","status":"Inactive","version":2}`))
	})

	got, err := remote.Save(context.Background(), "worker", "w1", json.RawMessage(`{"id":"w1","status":"Inactive"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"w1","status":"Inactive","version":2}`, string(got))
}

func TestHTTPRemote_List(t *testing.T) {
	remote := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/worker/", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"results":[{"id":"w51"}],"count":51}`))
	})

	page, err := remote.List(context.Background(), "worker", Page{Offset: 50, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, 51, page.Total)
	assert.Len(t, page.Rows, 1)
	assert.Equal(t, 50, page.Offset)
}

func TestHTTPRemote_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		body   string
		kind   ErrorKind
	}{
		{"bad request", http.StatusBadRequest, nil, `{"detail":"bad"}`, KindValidation},
		{"unprocessable", http.StatusUnprocessableEntity, nil, `{}`, KindValidation},
		{"unauthorized", http.StatusUnauthorized, nil, ``, KindAuthorization},
		{"forbidden", http.StatusForbidden, nil, ``, KindAuthorization},
		{"not found", http.StatusNotFound, nil, ``, KindNotFound},
		{"gateway timeout", http.StatusGatewayTimeout, nil, ``, KindTimeout},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}, ``, KindRateLimit},
		{"bad gateway", http.StatusBadGateway, nil, ``, KindNetwork},
		{"server error", http.StatusInternalServerError, nil, ``, KindNetwork},
		{"conflict", http.StatusConflict, nil, ``, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := remote.Fetch(context.Background(), "worker", "w1")
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestHTTPRemote_ValidationFields(t *testing.T) {
	remote := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"validation","detail":"Invalid worker","invalidParams":[{"name":"status","reason":"Worker has open assignments"}]}`))
	})

	_, err := remote.Save(context.Background(), "worker", "w1", json.RawMessage(`{}`))
	rerr := Classify(err)
	assert.Equal(t, KindValidation, rerr.Kind)
	assert.Equal(t, "Invalid worker", rerr.Message)
	assert.Equal(t, []FieldError{{Field: "status", Reason: "Worker has open assignments"}}, rerr.Fields)
}

func TestHTTPRemote_RetryAfter(t *testing.T) {
	remote := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := remote.Remove(context.Background(), "worker", "w1")
	assert.Equal(t, 30*time.Second, Classify(err).RetryAfter)
}

func TestHTTPRemote_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	remote, err := NewHTTPRemote(srv.URL, 20*time.Millisecond, "")
	require.NoError(t, err)
	_, err = remote.Fetch(context.Background(), "worker", "w1")
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestNewHTTPRemote_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPRemote("ftp://example.com", time.Second, "")
	assert.Error(t, err)
}

func TestApplication_SaveWithEmptyUpstreamBody(t *testing.T) {
	var fetches atomic.Int32
	remote := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			fetches.Add(1)
			_, _ = w.Write([]byte(`{"id":"w1","status":"Inactive","version":2}`))
		}
	})
	optimist := NewApplication(newTestConfig(), remote, NewEventBus(), nil)
	defer optimist.Close()

	saved, err := optimist.SaveRecord(context.Background(), "worker", "w1", json.RawMessage(`{"status":"Inactive"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"w1","status":"Inactive"}`, string(saved))

	cached, present, stale, _ := optimist.Store.Peek(RecordKey("worker", "w1"))
	assert.True(t, present)
	assert.True(t, stale, "an unconfirmed write is refetched on the next read")
	assert.JSONEq(t, `{"id":"w1","status":"Inactive"}`, string(cached))

	doc, err := optimist.GetRecord(context.Background(), "worker", "w1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"w1","status":"Inactive","version":2}`, string(doc))
	assert.Equal(t, int32(1), fetches.Load())
}
