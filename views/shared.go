package views

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/config"
)

type routeRegistrationFunc func(optimist *app.Application, router *http.ServeMux)

var routes []routeRegistrationFunc

func registerRoute(r routeRegistrationFunc) {
	routes = append(routes, r)
}

func AddViews(optimist *app.Application, router *http.ServeMux) {
	slog.Debug("Registering all views", "count", len(routes))
	for _, r := range routes {
		r(optimist, router)
	}
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

func isPartial(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// intParam reads a non-negative integer query parameter, ignoring junk
// and clamping it to limit.
func intParam(r *http.Request, name string, def, limit int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	return min(v, limit)
}
