package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/config"
)

type routeRegistrationFunc func(optimist *app.Application, router *http.ServeMux)

var routes []routeRegistrationFunc

func registerRoute(r routeRegistrationFunc) {
	routes = append(routes, r)
}

func AddApis(optimist *app.Application, router *http.ServeMux) {
	slog.Debug("Registering all API Endpoints", "count", len(routes))
	apiRouter := http.NewServeMux()
	for _, r := range routes {
		r(optimist, apiRouter)
	}
	router.Handle("/api/", http.StripPrefix("/api", apiRouter))
}

func log(ctx context.Context) *slog.Logger {
	log := ctx.Value(config.LoggerContextKey)
	if log == nil {
		return slog.Default()
	} else {
		return log.(*slog.Logger)
	}
}

type appHandler func(optimist *app.Application, w http.ResponseWriter, r *http.Request)

func routeHandler(optimist *app.Application, handler appHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(optimist, w, r)
	})
}

func writeJsonResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// nginx's code for a client that went away before the response.
const statusClientClosedRequest = 499

type ErrorResponse struct {
	Error             string           `json:"error"`
	Kind              app.ErrorKind    `json:"kind,omitempty"`
	Message           string           `json:"message,omitempty"`
	Fields            []app.FieldError `json:"fields,omitempty"`
	RetryAfterSeconds int              `json:"retry_after_seconds,omitempty"`
}

// StatusForKind maps an error kind to the HTTP status reported for it.
func StatusForKind(kind app.ErrorKind) int {
	switch kind {
	case app.KindValidation:
		return http.StatusUnprocessableEntity
	case app.KindRateLimit:
		return http.StatusTooManyRequests
	case app.KindAuthorization:
		return http.StatusForbidden
	case app.KindNetwork:
		return http.StatusBadGateway
	case app.KindTimeout:
		return http.StatusGatewayTimeout
	case app.KindAborted:
		return statusClientClosedRequest
	case app.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as JSON with the status for its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, app.ErrMutationInFlight) {
		writeJsonResponse(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	rerr := app.Classify(err)
	status := StatusForKind(rerr.Kind)
	resp := ErrorResponse{
		Error:   rerr.Error(),
		Kind:    rerr.Kind,
		Message: rerr.UserMessage(),
		Fields:  rerr.Fields,
	}
	if rerr.RetryAfter > 0 {
		resp.RetryAfterSeconds = int(math.Ceil(rerr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	if status >= http.StatusInternalServerError {
		log(r.Context()).Error("Request failed", "kind", rerr.Kind, "error", err)
		// internal details stay in the log
		if rerr.Kind == app.KindInternal {
			resp.Error = "internal error"
		}
	}
	writeJsonResponse(w, status, resp)
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, app.NewValidationError("invalid query parameter", app.FieldError{Field: name, Reason: "must be a non-negative integer"})
	}
	return v, nil
}

// queryIntMax is queryInt with an upper bound.
func queryIntMax(r *http.Request, name string, def, limit int) (int, error) {
	v, err := queryInt(r, name, def)
	if err != nil {
		return 0, err
	}
	if v > limit {
		return 0, app.NewValidationError("invalid query parameter", app.FieldError{Field: name, Reason: "must be at most " + strconv.Itoa(limit)})
	}
	return v, nil
}

func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
