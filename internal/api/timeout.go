package api

import (
	"context"
	"net/http"
	"time"
)

// requestTimeout wraps the request's context with a wall-clock deadline
// so a handler's Store calls (all context.Context-threaded) return
// promptly instead of running indefinitely against a stalled query.
// It does not itself abort the handler goroutine or interrupt CPU-bound
// work — it relies on the downstream store calls observing ctx.Done(),
// the same way gorm's WithContext(ctx) does for every query it issues.
// Streaming endpoints (the NDJSON export) opt out of this middleware
// entirely rather than get a short deadline, since a full export can
// legitimately run far longer than a typical request.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
