package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcline-io/timeline-engine/internal/api"
	"github.com/arcline-io/timeline-engine/internal/cache"
	"github.com/arcline-io/timeline-engine/internal/config"
	"github.com/arcline-io/timeline-engine/internal/ingest"
	"github.com/arcline-io/timeline-engine/internal/ingest/sources/arc"
	"github.com/arcline-io/timeline-engine/internal/logging"
	"github.com/arcline-io/timeline-engine/internal/observability"
	"github.com/arcline-io/timeline-engine/internal/resolver"
	"github.com/arcline-io/timeline-engine/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)

	db, err := store.OpenPostgres(
		cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName,
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.SSLMode,
	)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	repo, err := store.New(db)
	if err != nil {
		slog.Error("schema init failed", "error", err)
		os.Exit(1)
	}

	var statsCache *cache.StatsCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			slog.Warn("redis unavailable, stats caching disabled", "error", err)
		} else {
			statsCache = cache.NewStatsCache(rdb, 15*time.Second)
		}
	}

	res := resolver.New(repo, os.Getenv("TIMELINE_LOCATION_SOURCE"))

	registry := ingest.NewRegistry()
	if dir := os.Getenv("TIMELINE_ARC_EXPORT_DIR"); dir != "" {
		if err := registry.Register(arc.New(dir)); err != nil {
			slog.Error("plugin registration failed", "error", err)
			os.Exit(1)
		}
	}

	tracer, shutdownTracer := observability.Tracer("timeline-engine")
	defer shutdownTracer()

	detector := &ingest.PlaceDetector{
		Store: repo,
		Params: ingest.ClusterParams{
			EpsMeters:          cfg.PlaceDetector.EpsMeters,
			MinSamples:         cfg.PlaceDetector.MinSamples,
			MinVisitCount:      cfg.PlaceDetector.MinVisitCount,
			MinTotalDwellHours: cfg.PlaceDetector.MinTotalDwellHours,
		},
		Visit: ingest.VisitParams{
			MaxGap:   time.Duration(cfg.PlaceDetector.MaxGapMinutes) * time.Minute,
			MinDwell: time.Duration(cfg.PlaceDetector.MinDwellMinutes) * time.Minute,
		},
	}

	engine := ingest.New(repo, res, registry, ingest.Options{
		PlaceDetector: detector,
		FixSource:     repo,
		OnRunComplete: func(source string, err error, count int) {
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			observability.RecordIngestionRun(source, outcome, count)
		},
	})
	if err := engine.StartScheduler(context.Background()); err != nil {
		slog.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}
	defer engine.StopScheduler()

	srv := &api.Server{
		Store:          repo,
		Engine:         engine,
		Cache:          statsCache,
		Tracer:         tracer,
		APIKeys:        cfg.APIKeys,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		StartedAt:      time.Now(),
	}

	// WriteTimeout is intentionally unset: it is a connection-level
	// deadline http.Server would apply to every response including the
	// NDJSON export stream, which can legitimately run far longer than
	// any single query. Per-route wall-clock budgets are enforced
	// instead via api.Server.RequestTimeout, which exempts the export
	// route entirely.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("timeline-engine started", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
