package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"
)

// CapturingResponseWriter records what a handler wrote so the access log
// can report it. It passes Flush through for server-sent event streams.
type CapturingResponseWriter struct {
	responseWriter http.ResponseWriter
	StatusCode     int
	BytesWritten   int
	WriteBegin     time.Time
}

func ExtendResponseWriter(w http.ResponseWriter) *CapturingResponseWriter {
	return &CapturingResponseWriter{responseWriter: w}
}

func (w *CapturingResponseWriter) markWrite() {
	if w.WriteBegin.IsZero() {
		w.WriteBegin = time.Now()
	}
}

func (w *CapturingResponseWriter) Write(b []byte) (int, error) {
	w.markWrite()
	if w.StatusCode == 0 {
		w.StatusCode = http.StatusOK
	}
	n, err := w.responseWriter.Write(b)
	w.BytesWritten += n
	return n, err
}

func (w *CapturingResponseWriter) Header() http.Header {
	return w.responseWriter.Header()
}

func (w *CapturingResponseWriter) WriteHeader(statusCode int) {
	w.markWrite()
	w.StatusCode = statusCode
	w.responseWriter.WriteHeader(statusCode)
}

func (w *CapturingResponseWriter) Flush() {
	if flusher, ok := w.responseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *CapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.responseWriter
}

func (w *CapturingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.responseWriter.(http.Hijacker)
	if ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("the ResponseWriter doesn't support hijacking")
}
