package views

import (
	"net/http"

	"github.com/sweater-ventures/optimist/app"
)

func init() {
	registerRoute(func(optimist *app.Application, router *http.ServeMux) {
		router.Handle("/", routeHandler(optimist, notFound))
	})
}

const defaultResource = "worker"

func notFound(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		// forward to the default result table
		w.Header().Set("Location", "/results/"+defaultResource)
		w.WriteHeader(http.StatusFound)
		return
	}
	renderNotFound(w, r, r.URL.Path)
}

func renderNotFound(w http.ResponseWriter, r *http.Request, what string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := NotFoundTemplate(what).Render(r.Context(), w); err != nil {
		log(r.Context()).Error("Error rendering not found view", "err", err)
	}
}
