package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/window"
)

func init() {
	registerRoute(func(optimist *app.Application, router *http.ServeMux) {
		router.Handle("GET /window", routeHandler(optimist, windowPlanHandler))
	})
}

const maxMeasuredRows = 10000

// windowOptions reads the renderer options from the query string, falling
// back to the configured defaults.
func windowOptions(optimist *app.Application, r *http.Request) (window.Options, error) {
	opts := optimist.WindowOptions()
	var err error
	if opts.RowHeight, err = queryIntMax(r, "row_height", opts.RowHeight, window.MaxRowHeight); err != nil {
		return opts, err
	}
	if opts.RowHeight == 0 {
		return opts, app.NewValidationError("invalid query parameter", app.FieldError{Field: "row_height", Reason: "must be positive"})
	}
	if opts.Overscan, err = queryIntMax(r, "overscan", min(opts.Overscan, window.MaxOverscan), window.MaxOverscan); err != nil {
		return opts, err
	}
	if opts.Threshold, err = queryIntMax(r, "threshold", min(opts.Threshold, window.MaxThreshold), window.MaxThreshold); err != nil {
		return opts, err
	}
	return opts, nil
}

// parseSizes reads measured row heights from ?sizes=38,52,38.
func parseSizes(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	if len(parts) > maxMeasuredRows {
		return nil, app.NewValidationError("invalid query parameter", app.FieldError{Field: "sizes", Reason: "at most " + strconv.Itoa(maxMeasuredRows) + " rows can be measured"})
	}
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > window.MaxRowHeight {
			return nil, app.NewValidationError("invalid query parameter", app.FieldError{Field: "sizes", Reason: "must be a comma separated list of heights between 0 and " + strconv.Itoa(window.MaxRowHeight)})
		}
		sizes = append(sizes, v)
	}
	return sizes, nil
}

// windowPlanHandler plans one frame of a virtualized list. The row count
// comes from ?count=, from ?sizes= (measured heights) or from the total of
// ?resource='s list.
func windowPlanHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	opts, err := windowOptions(optimist, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scroll, err := queryInt(r, "scroll", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	viewport, err := queryIntMax(r, "viewport", 600, window.MaxViewport)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var renderer *window.Renderer
	q := r.URL.Query()
	switch {
	case q.Get("sizes") != "":
		sizes, err := parseSizes(q.Get("sizes"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		renderer = window.NewRenderer(window.NewMeasured(sizes), opts)
	case q.Get("resource") != "":
		resource := q.Get("resource")
		if !knownResource(optimist, w, r, resource) {
			return
		}
		page, err := optimist.ListRecords(r.Context(), resource, app.Page{Offset: 0, Limit: optimist.Config.PageLimit})
		if err != nil {
			writeError(w, r, err)
			return
		}
		renderer = window.NewUniformRenderer(page.Total, opts)
	default:
		count, err := queryIntMax(r, "count", 0, window.MaxCount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		renderer = window.NewUniformRenderer(count, opts)
	}

	writeJsonResponse(w, http.StatusOK, renderer.Plan(scroll, viewport))
}
