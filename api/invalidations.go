package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/middleware"
)

func init() {
	registerRoute(func(optimist *app.Application, router *http.ServeMux) {
		router.Handle("GET /invalidations", routeHandler(optimist, streamInvalidationsHandler))
		router.Handle("POST /invalidations", middleware.RequireSecret(optimist, routeHandler(optimist, broadcastInvalidationHandler)))
	})
}

const defaultKeepAlive = 25 * time.Second

// invalidationFilter keeps the keys a stream asked for: those under one of
// the ?key= prefixes or matching one of the ?match= globs. No filter keeps
// everything.
type invalidationFilter struct {
	prefixes []app.QueryKey
	patterns []string
}

func parseInvalidationFilter(r *http.Request) invalidationFilter {
	q := r.URL.Query()
	return invalidationFilter{
		prefixes: app.ParseQueryKeys(q["key"]),
		patterns: q["match"],
	}
}

func (f invalidationFilter) apply(keys []app.QueryKey) []app.QueryKey {
	if len(f.prefixes) == 0 && len(f.patterns) == 0 {
		return keys
	}
	var kept []app.QueryKey
	for _, key := range keys {
		if f.matches(key) {
			kept = append(kept, key)
		}
	}
	return kept
}

func (f invalidationFilter) matches(key app.QueryKey) bool {
	for _, p := range f.prefixes {
		// a page key invalidation also concerns a watcher of the record list
		if key.HasPrefix(p) || p.HasPrefix(key) {
			return true
		}
	}
	for _, pattern := range f.patterns {
		if app.MatchKeyPattern(pattern, key) {
			return true
		}
	}
	return false
}

func streamInvalidationsHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJsonResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}
	filter := parseInvalidationFilter(r)

	stream, release := optimist.Invalidations.Subscribe()
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: 3000\n: connected %s\n\n", optimist.Invalidations.Origin())
	flusher.Flush()

	keepAlive := optimist.Config.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	log(r.Context()).Debug("Invalidation stream opened")
	for {
		select {
		case <-r.Context().Done():
			log(r.Context()).Debug("Invalidation stream closed by client")
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			// a resync concerns every watcher
			if !msg.Resync {
				msg.QueryKeys = filter.apply(msg.QueryKeys)
				if len(msg.QueryKeys) == 0 {
					continue
				}
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log(r.Context()).Error("Failed to encode invalidation", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: invalidation\ndata: %s\n\n", msg.CorrelationID, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

type BroadcastRequest struct {
	QueryKeys     []string `json:"query_keys"`
	CorrelationID string   `json:"correlation_id"`
}

type BroadcastResponse struct {
	CorrelationID string         `json:"correlation_id"`
	QueryKeys     []app.QueryKey `json:"query_keys"`
	StaleEntries  int            `json:"stale_entries"`
}

// broadcastInvalidationHandler marks keys stale here and tells every other
// instance and browser tab to do the same.
func broadcastInvalidationHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	keys := app.ParseQueryKeys(req.QueryKeys)
	if len(keys) == 0 {
		writeError(w, r, app.NewValidationError("query_keys is required", app.FieldError{Field: "query_keys", Reason: "at least one key is required"}))
		return
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	marked := optimist.Queries.Invalidate(keys...)
	if err := optimist.Invalidations.Broadcast(r.Context(), keys, correlationID); err != nil {
		writeError(w, r, &app.RemoteError{Kind: app.KindNetwork, Message: "broadcast failed", Err: err})
		return
	}
	log(r.Context()).Info("Manual invalidation broadcast", "correlation_id", correlationID, "query_keys", keys)
	writeJsonResponse(w, http.StatusAccepted, BroadcastResponse{
		CorrelationID: correlationID,
		QueryKeys:     keys,
		StaleEntries:  len(marked),
	})
}
