package api

import (
	"encoding/json"
	"net/http"

	"github.com/arcline-io/timeline-engine/internal/apierr"
	"github.com/arcline-io/timeline-engine/internal/model"
)

type entityWriteResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func statusFor(inserted bool) string {
	if inserted {
		return "inserted"
	}
	return "updated"
}

// handlePutEntity implements POST /v1/entity: a direct upsert of a
// single entity, bypassing the ingestion engine entirely.
func (s *Server) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	var e model.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeErr(w, apierr.Validation("body must be a valid entity json"))
		return
	}
	res, err := s.Store.Upsert(r.Context(), &e)
	if err != nil {
		writeErr(w, wrapStoreErr(err, "upsert failed"))
		return
	}
	writeJSON(w, http.StatusOK, entityWriteResponse{ID: res.ID.String(), Status: statusFor(res.Inserted)})
}

type batchWriteResponse struct {
	Results []entityWriteResponse `json:"results"`
}

// handlePutEntitiesBatch implements POST /v1/entities/batch: all entities
// upsert in one transaction, or none do.
func (s *Server) handlePutEntitiesBatch(w http.ResponseWriter, r *http.Request) {
	var entities []*model.Entity
	if err := json.NewDecoder(r.Body).Decode(&entities); err != nil {
		writeErr(w, apierr.Validation("body must be a json array of entities"))
		return
	}
	if len(entities) == 0 {
		writeErr(w, apierr.Validation("batch must be non-empty"))
		return
	}

	results, err := s.Store.BulkUpsert(r.Context(), entities)
	if err != nil {
		writeErr(w, wrapStoreErr(err, "batch upsert failed"))
		return
	}
	out := make([]entityWriteResponse, len(results))
	for i, res := range results {
		out[i] = entityWriteResponse{ID: res.ID.String(), Status: statusFor(res.Inserted)}
	}
	writeJSON(w, http.StatusOK, batchWriteResponse{Results: out})
}
