package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sweater-ventures/optimist/app"
	"github.com/sweater-ventures/optimist/middleware"
)

func init() {
	registerRoute(func(optimist *app.Application, router *http.ServeMux) {
		router.Handle("GET /records/{resource}", routeHandler(optimist, listRecordsHandler))
		router.Handle("GET /records/{resource}/{id}", routeHandler(optimist, getRecordHandler))
		router.Handle("POST /records/{resource}", middleware.RequireSecret(optimist, routeHandler(optimist, createRecordHandler)))
		router.Handle("PUT /records/{resource}/{id}", middleware.RequireSecret(optimist, routeHandler(optimist, updateRecordHandler)))
		router.Handle("DELETE /records/{resource}/{id}", middleware.RequireSecret(optimist, routeHandler(optimist, deleteRecordHandler)))
	})
}

const maxPageLimit = 500

const maxRecordBody = 1 << 20

// knownResource writes a 404 and returns false when resource has no schema.
func knownResource(optimist *app.Application, w http.ResponseWriter, r *http.Request, resource string) bool {
	if optimist.Validator == nil || optimist.Validator.Known(resource) {
		return true
	}
	writeError(w, r, app.NewNotFoundError(fmt.Sprintf("unknown resource %q", resource)))
	return false
}

func parsePage(optimist *app.Application, r *http.Request) (app.Page, error) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return app.Page{}, err
	}
	limit, err := queryInt(r, "limit", optimist.Config.PageLimit)
	if err != nil {
		return app.Page{}, err
	}
	if limit == 0 {
		limit = optimist.Config.PageLimit
	}
	page := app.Page{Offset: offset, Limit: min(limit, maxPageLimit)}
	if err := page.Validate(); err != nil {
		return app.Page{}, err
	}
	return page, nil
}

func readRecordBody(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBody))
	if err != nil {
		return nil, app.NewValidationError("unable to read request body")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil || probe == nil {
		return nil, app.NewValidationError("record must be a JSON object")
	}
	return body, nil
}

func mutateOptions(r *http.Request) []app.MutateOption {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return []app.MutateOption{app.WithTraceID(id)}
	}
	return nil
}

func listRecordsHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	if !knownResource(optimist, w, r, resource) {
		return
	}
	page, err := parsePage(optimist, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := optimist.ListRecords(r.Context(), resource, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJsonResponse(w, http.StatusOK, result)
}

func getRecordHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	if !knownResource(optimist, w, r, resource) {
		return
	}
	record, err := optimist.GetRecord(r.Context(), resource, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJsonResponse(w, http.StatusOK, record)
}

func createRecordHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	if !knownResource(optimist, w, r, resource) {
		return
	}
	body, err := readRecordBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	record, err := optimist.CreateRecord(r.Context(), resource, body, mutateOptions(r)...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log(r.Context()).Info("Record created", "resource", resource)
	writeJsonResponse(w, http.StatusCreated, record)
}

func updateRecordHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	if !knownResource(optimist, w, r, resource) {
		return
	}
	body, err := readRecordBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	record, err := optimist.SaveRecord(r.Context(), resource, id, body, mutateOptions(r)...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log(r.Context()).Info("Record updated", "resource", resource, "id", id)
	writeJsonResponse(w, http.StatusOK, record)
}

func deleteRecordHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	if !knownResource(optimist, w, r, resource) {
		return
	}
	id := r.PathValue("id")
	if err := optimist.DeleteRecord(r.Context(), resource, id, mutateOptions(r)...); err != nil {
		writeError(w, r, err)
		return
	}
	log(r.Context()).Info("Record deleted", "resource", resource, "id", id)
	w.WriteHeader(http.StatusNoContent)
}
