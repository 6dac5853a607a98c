package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arcline-io/timeline-engine/internal/model"
)

// UpsertResult reports what happened to a single upserted row.
type UpsertResult struct {
	ID       uuid.UUID
	Inserted bool
}

// Upsert inserts e, or replaces the writable fields of the existing row
// sharing its (source, external_id), per I4. Derived columns (geom,
// t_range, created_at, updated_at) are always recomputed here; whatever
// the caller set on them is ignored.
func (r *Repo) Upsert(ctx context.Context, e *model.Entity) (UpsertResult, error) {
	if err := validateWritable(e.TStart, e.TEnd, e.Lat, e.Lon); err != nil {
		return UpsertResult{}, err
	}
	if err := validatePayloadShape(e.Type, e.Payload); err != nil {
		return UpsertResult{}, err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var geomArg any
	if ewkt := maintainGeomEWKT(e.Lat, e.Lon); ewkt != "" {
		geomArg = ewkt
	}
	trange := maintainTRangeLiteral(e.TStart, e.TEnd)
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	const sql = `
INSERT INTO entities (id, type, source, external_id, t_start, t_end, t_range, lat, lon, geom,
	name, color, render_offset, loc_source, payload, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::tstzrange,$8,$9, ST_GeomFromEWKT($10),
	$11,$12,$13,$14,$15::jsonb, now(), now())
ON CONFLICT (source, external_id) WHERE source IS NOT NULL AND external_id IS NOT NULL
DO UPDATE SET
	type = EXCLUDED.type,
	t_start = EXCLUDED.t_start,
	t_end = EXCLUDED.t_end,
	t_range = EXCLUDED.t_range,
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	geom = EXCLUDED.geom,
	name = EXCLUDED.name,
	color = EXCLUDED.color,
	render_offset = EXCLUDED.render_offset,
	loc_source = EXCLUDED.loc_source,
	payload = EXCLUDED.payload,
	updated_at = now()
RETURNING id, (xmax = 0) AS inserted`

	row := r.db.WithContext(ctx).Raw(sql,
		e.ID, e.Type, e.Source, e.ExternalID, e.TStart, e.TEnd, trange, e.Lat, e.Lon, geomArg,
		e.Name, e.Color, e.RenderOffset, e.LocSource, string(payload),
	).Row()

	var id uuid.UUID
	var inserted bool
	if err := row.Scan(&id, &inserted); err != nil {
		return UpsertResult{}, fmt.Errorf("upsert entity: %w", err)
	}
	return UpsertResult{ID: id, Inserted: inserted}, nil
}

// BulkUpsert upserts every entity in one transaction: all-or-nothing.
func (r *Repo) BulkUpsert(ctx context.Context, entities []*model.Entity) ([]UpsertResult, error) {
	results := make([]UpsertResult, 0, len(entities))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &Repo{db: tx}
		for _, e := range entities {
			res, err := txRepo.Upsert(ctx, e)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

type entityRow struct {
	ID           uuid.UUID
	Type         string
	Source       *string
	ExternalID   *string
	TStart       time.Time
	TEnd         *time.Time
	Lat          *float64
	Lon          *float64
	Name         *string
	Color        *string
	RenderOffset float64
	LocSource    *string
	Payload      []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (row entityRow) toEntity() *model.Entity {
	return &model.Entity{
		ID: row.ID, Type: row.Type, Source: row.Source, ExternalID: row.ExternalID,
		TStart: row.TStart, TEnd: row.TEnd, Lat: row.Lat, Lon: row.Lon,
		Name: row.Name, Color: row.Color, RenderOffset: row.RenderOffset,
		LocSource: row.LocSource, Payload: row.Payload,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}

const entityColumns = `id, type, source, external_id, t_start, t_end, lat, lon, name, color,
	render_offset, loc_source, payload, created_at, updated_at`

func scanEntityRows(rows rowsScanner) ([]*model.Entity, error) {
	var out []*model.Entity
	for rows.Next() {
		var row entityRow
		if err := rows.Scan(&row.ID, &row.Type, &row.Source, &row.ExternalID, &row.TStart, &row.TEnd,
			&row.Lat, &row.Lon, &row.Name, &row.Color, &row.RenderOffset, &row.LocSource, &row.Payload,
			&row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, row.toEntity())
	}
	return out, rows.Err()
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// TimeQuery is the normalized input to QueryTime, produced by the planner.
// After, when set, resumes a keyset scan from the row returned as
// next_cursor on a previous page instead of re-walking it from Start.
type TimeQuery struct {
	Types []string
	Start time.Time
	End   time.Time
	Limit int
	Desc  bool
	After *Cursor
}

// QueryTime returns entities whose t_range overlaps [Start,End] and whose
// type is in Types, ordered by (t_start, id). When the result has more
// rows than Limit, it returns exactly Limit entities plus a non-nil
// cursor identifying the next page; callers pass that back as After to
// continue the scan.
func (r *Repo) QueryTime(ctx context.Context, q TimeQuery) ([]*model.Entity, *Cursor, error) {
	op := ">"
	order := "ASC"
	if q.Desc {
		op = "<"
		order = "DESC"
	}

	where := `type = ANY($1) AND t_range && tstzrange($2, $3, '[]')`
	args := []any{q.Types, q.Start, q.End}
	if q.After != nil {
		where += fmt.Sprintf(` AND (t_start %s $4 OR (t_start = $4 AND id %s $5))`, op, op)
		args = append(args, q.After.TS, q.After.ID)
	}
	limitIdx := len(args) + 1
	args = append(args, q.Limit+1)

	sql := fmt.Sprintf(`SELECT %s FROM entities WHERE %s ORDER BY t_start %s, id %s LIMIT $%d`,
		entityColumns, where, order, order, limitIdx)

	rows, err := r.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	entities, err := scanEntityRows(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *Cursor
	if len(entities) > q.Limit {
		last := entities[q.Limit-1]
		next = &Cursor{TS: last.TStart, ID: last.ID}
		entities = entities[:q.Limit]
	}
	return entities, next, nil
}

// BBoxQuery is the normalized input to QueryBBox.
type BBoxQuery struct {
	Types                          []string
	LonMin, LatMin, LonMax, LatMax float64
	HasTimeWindow                  bool
	Start, End                     time.Time
	Limit                          int
	Order                          string // "t_start_asc" | "t_start_desc" | "random"
}

// QueryBBox returns entities whose geom falls inside the envelope and
// whose type is in Types, optionally intersecting a time window. Order
// "random" sorts every matching row by a fresh RANDOM() key before LIMIT,
// so each call returns a uniform random sample of the matching rows in an
// order that is not reproducible across calls.
func (r *Repo) QueryBBox(ctx context.Context, q BBoxQuery) ([]*model.Entity, error) {
	var orderClause string
	switch q.Order {
	case "t_start_asc":
		orderClause = "ORDER BY t_start ASC"
	case "random":
		orderClause = "ORDER BY RANDOM()"
	default:
		orderClause = "ORDER BY t_start DESC"
	}

	where := `type = ANY($1) AND geom && ST_MakeEnvelope($2,$3,$4,$5,4326) AND ST_Contains(ST_MakeEnvelope($2,$3,$4,$5,4326), geom)`
	args := []any{q.Types, q.LonMin, q.LatMin, q.LonMax, q.LatMax}
	if q.HasTimeWindow {
		where += " AND t_range && tstzrange($6, $7, '[]')"
		args = append(args, q.Start, q.End)
	}
	limitIdx := len(args) + 1
	args = append(args, q.Limit)

	sql := fmt.Sprintf(`SELECT %s FROM entities WHERE %s %s LIMIT $%d`, entityColumns, where, orderClause, limitIdx)

	rows, err := r.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

// ResampleQuery is the normalized input to Resample.
type ResampleQuery struct {
	Types []string
	Start time.Time
	End   time.Time
	N     int
}

// Resample partitions [Start,End] into N equal-width bins and, for each
// bin, selects the single row of the given types whose t_start falls in
// the bin and is nearest the bin center. This issues N independent
// bounded queries against the (type, t_start) index rather than one
// O(row count) scan, per the planning requirement.
func (r *Repo) Resample(ctx context.Context, q ResampleQuery) ([]*model.Entity, error) {
	if q.N < 1 {
		return nil, nil
	}

	const sql = `SELECT ` + entityColumns + ` FROM entities
		WHERE type = ANY($1) AND t_start >= $2 AND t_start < $3
		ORDER BY ABS(EXTRACT(EPOCH FROM (t_start - $4::timestamptz))), t_start ASC, id ASC
		LIMIT 1`

	out := make([]*model.Entity, 0, q.N)
	for i := 0; i < q.N; i++ {
		binStart, binEnd, center := binBounds(q.Start, q.End, q.N, i)

		rows, err := r.db.WithContext(ctx).Raw(sql, q.Types, binStart, binEnd, center).Rows()
		if err != nil {
			return nil, err
		}
		picked, err := scanEntityRows(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		if len(picked) == 1 {
			out = append(out, picked[0])
		}
	}
	return out, nil
}

// CountEntities returns how many rows match types (or the whole table
// when types is empty). Used by the export handler to emit the leading
// {"total": N} line before streaming begins.
func (r *Repo) CountEntities(ctx context.Context, types []string) (int64, error) {
	sql := `SELECT count(*) FROM entities`
	args := []any{}
	if len(types) > 0 {
		sql += ` WHERE type = ANY($1)`
		args = append(args, types)
	}
	var total int64
	err := r.db.WithContext(ctx).Raw(sql, args...).Row().Scan(&total)
	return total, err
}

// StreamAll yields every entity of the given types (or all types when
// empty) in t_start order, calling emit once per row with constant
// memory: it never materializes more than one row at a time. emit
// returning an error aborts the stream and closes the cursor.
func (r *Repo) StreamAll(ctx context.Context, types []string, newestFirst bool, emit func(*model.Entity) error) (int64, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}

	countSQL := `SELECT count(*) FROM entities`
	countArgs := []any{}
	where := ""
	if len(types) > 0 {
		where = " WHERE type = ANY($1)"
		countArgs = append(countArgs, types)
	}
	var total int64
	if err := r.db.WithContext(ctx).Raw(countSQL+where, countArgs...).Row().Scan(&total); err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`SELECT %s FROM entities%s ORDER BY t_start %s`, entityColumns, where, order)
	rows, err := r.db.WithContext(ctx).Raw(sql, countArgs...).Rows()
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var row entityRow
		if err := rows.Scan(&row.ID, &row.Type, &row.Source, &row.ExternalID, &row.TStart, &row.TEnd,
			&row.Lat, &row.Lon, &row.Name, &row.Color, &row.RenderOffset, &row.LocSource, &row.Payload,
			&row.CreatedAt, &row.UpdatedAt); err != nil {
			return total, err
		}
		if err := emit(row.toEntity()); err != nil {
			return total, err
		}
	}
	return total, rows.Err()
}

// LatestNativeFix returns the most recent type=location.gps row with the
// given source whose t_start is at or before instant. Used by the
// resolver; returns (nil, nil, false, nil) when nothing qualifies.
func (r *Repo) LatestNativeFix(ctx context.Context, source string, instant time.Time) (lat, lon *float64, ok bool, err error) {
	const q = `SELECT lat, lon FROM entities
		WHERE type = 'location.gps' AND source = $1 AND t_start <= $2
		ORDER BY t_start DESC LIMIT 1`
	row := r.db.WithContext(ctx).Raw(q, source, instant).Row()
	if err := row.Scan(&lat, &lon); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	return lat, lon, lat != nil && lon != nil, nil
}
