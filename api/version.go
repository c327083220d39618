package api

import (
	"net/http"

	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/config"
)

func init() {
	registerRoute(func(app *app.Application, router *http.ServeMux) {
		router.Handle("GET /version", routeHandler(app, versionApiHandler))
	})
}

type VersionResponse struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Origin    string `json:"origin"`
	BusDriver string `json:"bus_driver"`
	Policy    string `json:"mutation_policy"`
}

func versionApiHandler(app *app.Application, w http.ResponseWriter, r *http.Request) {
	writeJsonResponse(w, http.StatusOK, VersionResponse{
		App:       "optimist",
		Version:   config.Version,
		Origin:    app.Invalidations.Origin(),
		BusDriver: app.Config.BusDriver,
		Policy:    string(app.Mutations.Policy()),
	})
}
