package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sweater-ventures/optimist/app"
)

func init() {
	registerRoute(func(optimist *app.Application, router *http.ServeMux) {
		router.Handle("GET /mutations", routeHandler(optimist, listMutationsHandler))
	})
}

type MutationResponse struct {
	Key           app.QueryKey       `json:"key"`
	RelatedKeys   []app.QueryKey     `json:"related_keys"`
	CorrelationID string             `json:"correlation_id"`
	TraceID       string             `json:"trace_id,omitempty"`
	Status        app.MutationStatus `json:"status"`
	Deleting      bool               `json:"deleting"`
	Optimistic    json.RawMessage    `json:"optimistic,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	AgeMillis     int64              `json:"age_ms"`
}

func listMutationsHandler(optimist *app.Application, w http.ResponseWriter, r *http.Request) {
	pending := optimist.Mutations.Pending()
	now := time.Now()
	resp := make([]MutationResponse, 0, len(pending))
	for _, pm := range pending {
		related := pm.RelatedKeys
		if related == nil {
			related = []app.QueryKey{}
		}
		resp = append(resp, MutationResponse{
			Key:           pm.Key,
			RelatedKeys:   related,
			CorrelationID: pm.CorrelationID,
			TraceID:       pm.TraceID,
			Status:        pm.Status,
			Deleting:      pm.Deleting,
			Optimistic:    pm.Optimistic,
			StartedAt:     pm.StartedAt,
			AgeMillis:     now.Sub(pm.StartedAt).Milliseconds(),
		})
	}
	writeJsonResponse(w, http.StatusOK, resp)
}
