package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arcline-io/timeline-engine/internal/apierr"
)

type placeWithVisits struct {
	*placeDTO
	RecentVisits any `json:"recent_visits,omitempty"`
}

type placeDTO struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
}

// handleListPlaces implements GET /v1/places.
func (s *Server) handleListPlaces(w http.ResponseWriter, r *http.Request) {
	places, err := s.Store.ListPlaces(r.Context())
	if err != nil {
		writeErr(w, wrapStoreErr(err, "list places failed"))
		return
	}
	out := make([]placeDTO, len(places))
	for i, p := range places {
		out[i] = placeDTO{ID: p.ID.String(), Name: p.Name, Lat: p.Lat, Lon: p.Lon, RadiusM: p.RadiusM}
	}
	writeJSON(w, http.StatusOK, map[string]any{"places": out})
}

// handleGetPlace implements GET /v1/places/{id}: place detail plus its
// most recent visits.
func (s *Server) handleGetPlace(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apierr.Validation("invalid place id"))
		return
	}
	place, ok, err := s.Store.GetPlace(r.Context(), id)
	if err != nil {
		writeErr(w, wrapStoreErr(err, "get place failed"))
		return
	}
	if !ok {
		writeErr(w, apierr.NotFound("place not found"))
		return
	}
	visits, err := s.Store.VisitsForPlace(r.Context(), id, 50)
	if err != nil {
		writeErr(w, wrapStoreErr(err, "list visits failed"))
		return
	}
	dto := placeDTO{ID: place.ID.String(), Name: place.Name, Lat: place.Lat, Lon: place.Lon, RadiusM: place.RadiusM}
	writeJSON(w, http.StatusOK, placeWithVisits{placeDTO: &dto, RecentVisits: visits})
}

type renamePlaceRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

type renamePlaceResponse struct {
	UpdatedVisits int64 `json:"updated_visits"`
}

// handleRenamePlace implements PATCH /v1/places/{id}: renaming/
// recoloring propagates into every place.visit entity referencing it.
func (s *Server) handleRenamePlace(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apierr.Validation("invalid place id"))
		return
	}
	var req renamePlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.Validation("body must be valid json"))
		return
	}
	if req.Name == "" {
		writeErr(w, apierr.Validation("name is required"))
		return
	}
	updated, err := s.Store.RenamePlace(r.Context(), id, req.Name, req.Color)
	if err != nil {
		writeErr(w, wrapStoreErr(err, "rename place failed"))
		return
	}
	writeJSON(w, http.StatusOK, renamePlaceResponse{UpdatedVisits: updated})
}

type deleteVisitsResponse struct {
	Deleted int64 `json:"deleted"`
}

// handleDeleteVisits implements DELETE /v1/visits: bulk deletion of
// place.visit rows, gated on an explicit confirm=yes query parameter.
// An optional [start,end] window restricts the deletion.
func (s *Server) handleDeleteVisits(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "yes" {
		writeErr(w, apierr.Validation("bulk delete requires confirm=yes"))
		return
	}

	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr != "" && endStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			writeErr(w, apierr.Validation("start must be RFC3339"))
			return
		}
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			writeErr(w, apierr.Validation("end must be RFC3339"))
			return
		}
		deleted, err := s.Store.DeleteVisitsInWindow(r.Context(), start, end)
		if err != nil {
			writeErr(w, wrapStoreErr(err, "delete visits failed"))
			return
		}
		writeJSON(w, http.StatusOK, deleteVisitsResponse{Deleted: deleted})
		return
	}

	deleted, err := s.Store.DeleteVisits(r.Context())
	if err != nil {
		writeErr(w, wrapStoreErr(err, "delete visits failed"))
		return
	}
	writeJSON(w, http.StatusOK, deleteVisitsResponse{Deleted: deleted})
}
