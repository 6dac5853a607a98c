package api

import (
	"encoding/json"
	"net/http"

	"github.com/arcline-io/timeline-engine/internal/apierr"
	"github.com/arcline-io/timeline-engine/internal/planner"
	"github.com/arcline-io/timeline-engine/internal/store"
)

// handleQueryTime implements POST /v1/query/time: time-window or, when
// resample is present, uniform-time resample.
func (s *Server) handleQueryTime(w http.ResponseWriter, r *http.Request) {
	var req planner.TimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.Validation("body must be a valid time query"))
		return
	}

	tq, rq, resample, err := planner.PlanTime(req)
	if err != nil {
		writeErr(w, err)
		return
	}

	if resample {
		entities, err := s.Store.Resample(r.Context(), rq)
		if err != nil {
			writeErr(w, wrapStoreErr(err, "resample failed"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
		return
	}

	entities, next, err := s.Store.QueryTime(r.Context(), tq)
	if err != nil {
		writeErr(w, wrapStoreErr(err, "time query failed"))
		return
	}
	resp := map[string]any{"entities": entities}
	if next != nil {
		resp["next_cursor"] = store.EncodeCursor(*next)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQueryBBox implements POST /v1/query/bbox.
func (s *Server) handleQueryBBox(w http.ResponseWriter, r *http.Request) {
	var req planner.BBoxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.Validation("body must be a valid bbox query"))
		return
	}

	q, err := planner.PlanBBox(req)
	if err != nil {
		writeErr(w, err)
		return
	}

	entities, err := s.Store.QueryBBox(r.Context(), q)
	if err != nil {
		writeErr(w, wrapStoreErr(err, "bbox query failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}
