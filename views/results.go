package views

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"

	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/window"
)

func init() {
	registerRoute(func(optimist *app.Application, router *http.ServeMux) {
		router.Handle("GET /results/{resource}", routeHandler(optimist, resultsHandler))
	})
}

const defaultViewport = 600

// resultRow is one mounted row of the table, positioned by its window item.
type resultRow struct {
	Item   window.Item
	ID     string
	Fields map[string]any
}

type resultsView struct {
	Resource string
	Viewport int
	Plan     window.Plan
	Columns  []string
	Rows     []resultRow
}

// resultsHandler renders the windowed result table. Only the rows in the
// window plan are fetched; scrolling re-requests the partial with a new
// ?scroll=.
func resultsHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	if optimist.Validator != nil && !optimist.Validator.Known(resource) {
		renderNotFound(w, r, resource)
		return
	}
	scroll := intParam(r, "scroll", 0, math.MaxInt32)
	viewport := intParam(r, "viewport", defaultViewport, window.MaxViewport)

	head, err := optimist.ListRecords(r.Context(), resource, app.Page{Offset: 0, Limit: optimist.Config.PageLimit})
	if err != nil {
		log(r.Context()).Error("Failed to load results", "resource", resource, "err", err)
		http.Error(w, app.Classify(err).UserMessage(), http.StatusBadGateway)
		return
	}
	plan := window.NewUniformRenderer(head.Total, optimist.WindowOptions()).Plan(scroll, viewport)

	view := resultsView{Resource: resource, Viewport: viewport, Plan: plan}
	if plan.Range.Len() > 0 {
		page := head
		if plan.Range.Start != head.Offset || plan.Range.End > head.Offset+len(head.Rows) {
			page, err = optimist.ListRecords(r.Context(), resource, app.Page{Offset: plan.Range.Start, Limit: plan.Range.Len()})
			if err != nil {
				log(r.Context()).Error("Failed to load result window", "resource", resource, "err", err)
				http.Error(w, app.Classify(err).UserMessage(), http.StatusBadGateway)
				return
			}
		}
		view.Rows, view.Columns = buildRows(plan, page)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if isPartial(r) {
		err = ResultRowsPartial(view).Render(r.Context(), w)
	} else {
		err = ResultsTemplate(view).Render(r.Context(), w)
	}
	if err != nil {
		log(r.Context()).Error("Error rendering results view", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// buildRows pairs each planned item with its record from page. Items the
// page does not cover (the list shrank meanwhile) are dropped.
func buildRows(plan window.Plan, page app.RecordPage) ([]resultRow, []string) {
	seen := map[string]bool{}
	rows := make([]resultRow, 0, len(plan.Items))
	for _, item := range plan.Items {
		i := item.Index - page.Offset
		if i < 0 || i >= len(page.Rows) {
			continue
		}
		fields := map[string]any{}
		if err := json.Unmarshal(page.Rows[i], &fields); err != nil {
			continue
		}
		id, _ := fields["id"].(string)
		delete(fields, "id")
		delete(fields, "version")
		for name := range fields {
			seen[name] = true
		}
		rows = append(rows, resultRow{Item: item, ID: id, Fields: fields})
	}
	columns := make([]string, 0, len(seen))
	for name := range seen {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return rows, columns
}
