package api

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/arcline-io/timeline-engine/internal/apierr"
	"github.com/arcline-io/timeline-engine/internal/model"
)

type exportHeader struct {
	Total int64 `json:"total"`
}

// handleExport implements GET /v1/query/export: an NDJSON stream of
// every entity (optionally filtered by types, ordered by t_start),
// preceded by a {"total": N} metadata line. Memory usage is constant in
// N: each row is marshaled and written as it is read from the cursor,
// never buffered.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var types []string
	if v := strings.TrimSpace(r.URL.Query().Get("types")); v != "" {
		types = strings.Split(v, ",")
		for i := range types {
			types[i] = strings.TrimSpace(types[i])
		}
	}
	newestFirst := true
	if v := strings.TrimSpace(r.URL.Query().Get("order")); v != "" {
		switch v {
		case "newest":
			newestFirst = true
		case "oldest":
			newestFirst = false
		default:
			writeErr(w, apierr.Validation(`order must be "newest" or "oldest"`))
			return
		}
	}

	total, err := s.Store.CountEntities(r.Context(), types)
	if err != nil {
		writeErr(w, apierr.Internal("count failed", err))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	var out io.Writer = w
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		out = gz
	}

	enc := json.NewEncoder(out)
	if err := enc.Encode(exportHeader{Total: total}); err != nil {
		return
	}
	if f, ok := out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	} else if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	_, _ = s.Store.StreamAll(r.Context(), types, newestFirst, func(e *model.Entity) error {
		if err := enc.Encode(e); err != nil {
			return err
		}
		if f, ok := out.(interface{ Flush() error }); ok {
			return f.Flush()
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		return nil
	})
}
