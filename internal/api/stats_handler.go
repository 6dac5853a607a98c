package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/arcline-io/timeline-engine/internal/apierr"
)

type statsResponse struct {
	TotalEntities  int64           `json:"total_entities"`
	EntitiesByType []typeCountDTO  `json:"entities_by_type"`
	TimeCoverage   timeCoverageDTO `json:"time_coverage"`
	Database       databaseDTO     `json:"database"`
	UptimeSeconds  float64         `json:"uptime_seconds"`
}

type typeCountDTO struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type timeCoverageDTO struct {
	Oldest *time.Time `json:"oldest"`
	Newest *time.Time `json:"newest"`
}

type databaseDTO struct {
	SizeMB      float64 `json:"size_mb"`
	TableSizeMB float64 `json:"table_size_mb"`
	IndexSizeMB float64 `json:"index_size_mb"`
}

// handleStats implements GET /stats. Unauthenticated per the API
// surface table; cached for a short TTL when Redis is configured since
// it aggregates over the whole table.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if body, ok := s.Cache.Get(r.Context()); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	st, err := s.Store.Stats(r.Context())
	if err != nil {
		writeErr(w, apierr.Internal("stats query failed", err))
		return
	}

	byType := make([]typeCountDTO, len(st.ByType))
	for i, tc := range st.ByType {
		byType[i] = typeCountDTO{Type: tc.Type, Count: tc.Count}
	}

	resp := statsResponse{
		TotalEntities:  st.TotalEntities,
		EntitiesByType: byType,
		TimeCoverage:   timeCoverageDTO{Oldest: st.OldestTStart, Newest: st.NewestTStart},
		Database:       databaseDTO{SizeMB: st.SizeMB, TableSizeMB: st.TableSizeMB, IndexSizeMB: st.IndexSizeMB},
		UptimeSeconds:  time.Since(s.StartedAt).Seconds(),
	}

	body, err := json.Marshal(resp)
	if err != nil {
		writeErr(w, apierr.Internal("encode stats failed", err))
		return
	}
	s.Cache.Set(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
