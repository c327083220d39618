package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweater-ventures/optimist/config"
	"github.com/sweater-ventures/optimist/testutil"
)

func TestContextLoggerMiddleware_RequestID(t *testing.T) {
	var sawLogger bool
	handler := ContextLoggerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = r.Context().Value(config.LoggerContextKey) != nil
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, sawLogger)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestCapturingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := ExtendResponseWriter(rec)

	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	w.Flush()

	assert.Equal(t, http.StatusOK, w.StatusCode)
	assert.Equal(t, 5, w.BytesWritten)
	assert.False(t, w.WriteBegin.IsZero())
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, w.Unwrap())
}

func TestRequireSecret(t *testing.T) {
	optimist := testutil.NewTestApp(new(testutil.MockRemote), testutil.WithSecret("s3cret"))
	defer optimist.Close()

	handler := RequireSecret(optimist, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	testutil.AssertJSONError(t, rec, http.StatusForbidden, "authorization")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(SecretHeader, "s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	open := testutil.NewTestApp(new(testutil.MockRemote))
	defer open.Close()
	rec = httptest.NewRecorder()
	RequireSecret(open, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
