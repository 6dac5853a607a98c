package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arcline-io/timeline-engine/internal/apierr"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeErr is the single dispatcher translating an apierr.Kind (or any
// other error, treated as internal) into the {"detail": ...} response
// contract.
func writeErr(w http.ResponseWriter, err error) {
	kind, detail := apierr.As(err)
	switch kind {
	case apierr.KindValidation:
		writeDetail(w, http.StatusBadRequest, detail)
	case apierr.KindNotFound:
		writeDetail(w, http.StatusNotFound, detail)
	case apierr.KindConflict:
		writeDetail(w, http.StatusConflict, detail)
	case apierr.KindUnauthorized:
		writeDetail(w, http.StatusUnauthorized, detail)
	case apierr.KindTimeout:
		writeDetail(w, http.StatusInternalServerError, detail)
	default:
		writeDetail(w, http.StatusInternalServerError, detail)
	}
}

// wrapStoreErr passes an already-classified apierr through unchanged —
// the store layer returns apierr.Validation/apierr.NotFound for things
// it can actually tell apart from a genuine failure — translates a
// request-timeout deadline into apierr.Timeout, and only falls back to
// Internal, under detail, for errors it doesn't recognize.
func wrapStoreErr(err error, detail string) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.Timeout(detail)
	}
	return apierr.Internal(detail, err)
}
