// Package api exposes timeline-engine's HTTP surface: entity ingest,
// spatiotemporal queries, NDJSON export and place/visit curation behind a
// single X-API-Key gate, plus unauthenticated operational endpoints
// (/health, /metrics, /stats).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/arcline-io/timeline-engine/internal/cache"
	"github.com/arcline-io/timeline-engine/internal/ingest"
	"github.com/arcline-io/timeline-engine/internal/model"
	"github.com/arcline-io/timeline-engine/internal/observability"
	"github.com/arcline-io/timeline-engine/internal/store"
)

// Store is the slice of internal/store.Repo the API surface needs,
// narrowed to an interface so handlers are testable against a fake
// instead of a real database.
type Store interface {
	Upsert(ctx context.Context, e *model.Entity) (store.UpsertResult, error)
	BulkUpsert(ctx context.Context, entities []*model.Entity) ([]store.UpsertResult, error)
	QueryTime(ctx context.Context, q store.TimeQuery) ([]*model.Entity, *store.Cursor, error)
	QueryBBox(ctx context.Context, q store.BBoxQuery) ([]*model.Entity, error)
	Resample(ctx context.Context, q store.ResampleQuery) ([]*model.Entity, error)
	CountEntities(ctx context.Context, types []string) (int64, error)
	StreamAll(ctx context.Context, types []string, newestFirst bool, emit func(*model.Entity) error) (int64, error)
	ListPlaces(ctx context.Context) ([]*model.Place, error)
	GetPlace(ctx context.Context, id uuid.UUID) (*model.Place, bool, error)
	VisitsForPlace(ctx context.Context, id uuid.UUID, limit int) ([]*model.Entity, error)
	RenamePlace(ctx context.Context, id uuid.UUID, name string, color *string) (int64, error)
	DeleteVisits(ctx context.Context) (int64, error)
	DeleteVisitsInWindow(ctx context.Context, start, end time.Time) (int64, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Server wires the store, ingestion engine and stats cache into a chi
// router. Store and Tracer are required. A nil Cache serves /stats
// uncached; no route uses Engine, so it may be nil.
type Server struct {
	Store   Store
	Engine  *ingest.Engine
	Cache   *cache.StatsCache
	Tracer  oteltrace.Tracer
	APIKeys []string

	// RequestTimeout bounds every /v1 route except the NDJSON export,
	// which streams and so is exempt. Zero disables the bound.
	RequestTimeout time.Duration

	StartedAt time.Time
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key"},
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", observability.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(s.APIKeys))
		r.Use(observability.Middleware(s.Tracer, "/v1"))

		// The export stream is exempt from RequestTimeout: it is the one
		// route expected to run far longer than a typical request.
		r.Get("/query/export", s.handleExport)

		r.Group(func(r chi.Router) {
			if s.RequestTimeout > 0 {
				r.Use(requestTimeout(s.RequestTimeout))
			}

			r.Post("/entity", s.handlePutEntity)
			r.Post("/entities/batch", s.handlePutEntitiesBatch)

			r.Post("/query/time", s.handleQueryTime)
			r.Post("/query/bbox", s.handleQueryBBox)

			r.Get("/places", s.handleListPlaces)
			r.Get("/places/{id}", s.handleGetPlace)
			r.Patch("/places/{id}", s.handleRenamePlace)
			r.Delete("/visits", s.handleDeleteVisits)
		})
	})

	r.Get("/stats", s.handleStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}
