// Package store is the relational+spatial persistence layer: the
// entities row set and the source_watermarks watermark set, with
// transactional upsert and a constant-memory streaming cursor.
//
// Schema is created with explicit DDL rather than gorm AutoMigrate: a
// PostGIS geometry column and a partial unique index aren't expressible
// through struct tags.
package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
}

// New opens the store against db, creating the schema if it doesn't
// exist yet. Migrations are forward-only: this never drops or rewrites
// existing tables, only adds what's missing.
func New(db *gorm.DB) (*Repo, error) {
	r := &Repo{db: db}
	if err := r.ensureSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) ensureSchema() error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS entities (
			id uuid PRIMARY KEY,
			type text NOT NULL,
			source text,
			external_id text,
			t_start timestamptz NOT NULL,
			t_end timestamptz,
			t_range tstzrange NOT NULL,
			lat double precision,
			lon double precision,
			geom geometry(Point, 4326),
			name text,
			color text,
			render_offset double precision NOT NULL DEFAULT 0,
			loc_source text,
			payload jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_source_external_id
			ON entities (source, external_id) WHERE source IS NOT NULL AND external_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type_tstart ON entities (type, t_start DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_trange ON entities USING gist (t_range)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_geom ON entities USING gist (geom)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_payload ON entities USING gin (payload)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_tstart ON entities (t_start)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_tend ON entities (t_end)`,
		`CREATE TABLE IF NOT EXISTS source_watermarks (
			source text PRIMARY KEY,
			last_run timestamptz NOT NULL,
			last_count integer NOT NULL DEFAULT 0,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS places (
			id uuid PRIMARY KEY,
			name text NOT NULL,
			lat double precision NOT NULL,
			lon double precision NOT NULL,
			radius_m double precision NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if err := r.db.Exec(s).Error; err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
