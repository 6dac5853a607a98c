package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arcline-io/timeline-engine/internal/apierr"
	"github.com/arcline-io/timeline-engine/internal/model"
)

// UpsertPlace inserts or replaces a place row by id.
func (r *Repo) UpsertPlace(ctx context.Context, p *model.Place) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	const sql = `INSERT INTO places (id, name, lat, lon, radius_m, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5, now(), now())
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, lat=EXCLUDED.lat, lon=EXCLUDED.lon,
			radius_m=EXCLUDED.radius_m, updated_at=now()`
	return r.db.WithContext(ctx).Exec(sql, p.ID, p.Name, p.Lat, p.Lon, p.RadiusM).Error
}

// ListPlaces returns every place, ordered by name.
func (r *Repo) ListPlaces(ctx context.Context) ([]*model.Place, error) {
	const sql = `SELECT id, name, lat, lon, radius_m, created_at, updated_at FROM places ORDER BY name ASC`
	rows, err := r.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Place
	for rows.Next() {
		p := &model.Place{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Lat, &p.Lon, &p.RadiusM, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPlace returns a single place by id, or ok=false if it doesn't exist.
// A real scan/driver failure is returned as an error rather than folded
// into the not-found result, so callers can tell "no such place" apart
// from "the database is unavailable".
func (r *Repo) GetPlace(ctx context.Context, id uuid.UUID) (*model.Place, bool, error) {
	const q = `SELECT id, name, lat, lon, radius_m, created_at, updated_at FROM places WHERE id = $1`
	row := r.db.WithContext(ctx).Raw(q, id).Row()
	p := &model.Place{}
	if err := row.Scan(&p.ID, &p.Name, &p.Lat, &p.Lon, &p.RadiusM, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

// VisitsForPlace returns the most recent visits (type=place.visit) whose
// payload.place_id references id, newest first, bounded by limit.
func (r *Repo) VisitsForPlace(ctx context.Context, id uuid.UUID, limit int) ([]*model.Entity, error) {
	sql := fmt.Sprintf(`SELECT %s FROM entities
		WHERE type = 'place.visit' AND payload->>'place_id' = $1
		ORDER BY t_start DESC LIMIT $2`, entityColumns)
	rows, err := r.db.WithContext(ctx).Raw(sql, id.String(), limit).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

// RenamePlace updates a place's name and propagates it, with color, into
// every place.visit entity referencing it (the visit's name and color
// columns and its payload's place_name), in one transaction. The places
// table has no color column, so color is stored on the visits only.
// Returns the number of visit rows touched.
func (r *Repo) RenamePlace(ctx context.Context, id uuid.UUID, name string, color *string) (updatedVisits int64, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if res := tx.Exec(`UPDATE places SET name = $1, updated_at = now() WHERE id = $2`, name, id); res.Error != nil {
			return res.Error
		} else if res.RowsAffected == 0 {
			return apierr.NotFound(fmt.Sprintf("place not found: %s", id))
		}

		res := tx.Exec(`UPDATE entities
			SET payload = jsonb_set(payload, '{place_name}', to_jsonb($1::text)), name = $1, color = $2, updated_at = now()
			WHERE type = 'place.visit' AND payload->>'place_id' = $3`, name, color, id.String())
		if res.Error != nil {
			return res.Error
		}
		updatedVisits = res.RowsAffected
		return nil
	})
	return updatedVisits, err
}

// DeleteVisits deletes every place.visit entity. Requires explicit
// caller confirmation upstream (the API layer's confirm=yes gate); the
// store itself performs no confirmation, it only executes the delete.
func (r *Repo) DeleteVisits(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`DELETE FROM entities WHERE type = 'place.visit'`)
	return res.RowsAffected, res.Error
}

// DeleteVisitsInWindow deletes place.visit entities whose t_start falls
// in [start,end].
func (r *Repo) DeleteVisitsInWindow(ctx context.Context, start, end time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`DELETE FROM entities WHERE type = 'place.visit' AND t_start BETWEEN $1 AND $2`, start, end)
	return res.RowsAffected, res.Error
}

// Stats is the aggregate summary backing GET /stats.
type Stats struct {
	TotalEntities int64
	ByType        []TypeCount
	OldestTStart  *time.Time
	NewestTStart  *time.Time
	SizeMB        float64
	TableSizeMB   float64
	IndexSizeMB   float64
}

type TypeCount struct {
	Type  string
	Count int64
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := r.db.WithContext(ctx).Raw(`SELECT count(*) FROM entities`).Row().Scan(&s.TotalEntities); err != nil {
		return s, err
	}

	rows, err := r.db.WithContext(ctx).Raw(`SELECT type, count(*) FROM entities GROUP BY type ORDER BY type`).Rows()
	if err != nil {
		return s, err
	}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			rows.Close()
			return s, err
		}
		s.ByType = append(s.ByType, tc)
	}
	rows.Close()

	_ = r.db.WithContext(ctx).Raw(`SELECT min(t_start), max(t_start) FROM entities`).Row().Scan(&s.OldestTStart, &s.NewestTStart)

	var totalBytes, tableBytes, indexBytes int64
	_ = r.db.WithContext(ctx).Raw(`SELECT pg_total_relation_size('entities'), pg_relation_size('entities'), pg_indexes_size('entities')`).
		Row().Scan(&totalBytes, &tableBytes, &indexBytes)
	s.SizeMB = float64(totalBytes) / (1024 * 1024)
	s.TableSizeMB = float64(tableBytes) / (1024 * 1024)
	s.IndexSizeMB = float64(indexBytes) / (1024 * 1024)

	return s, nil
}
