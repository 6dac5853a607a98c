package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/arcline-io/timeline-engine/internal/model"
)

// GetWatermark returns the watermark for source, or ok=false if the
// source has never completed a run.
func (r *Repo) GetWatermark(ctx context.Context, source string) (wm model.SourceWatermark, ok bool, err error) {
	const q = `SELECT source, last_run, last_count, updated_at FROM source_watermarks WHERE source = $1`
	row := r.db.WithContext(ctx).Raw(q, source).Row()
	if err := row.Scan(&wm.Source, &wm.LastRun, &wm.LastCount, &wm.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SourceWatermark{}, false, nil
		}
		return model.SourceWatermark{}, false, err
	}
	return wm, true, nil
}

// SetWatermark advances source's watermark to (instant, count). Called
// only after a full, successful ingestion run: a run that fails partway
// must never reach this.
func (r *Repo) SetWatermark(ctx context.Context, source string, instant time.Time, count int) error {
	const q = `INSERT INTO source_watermarks (source, last_run, last_count, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (source) DO UPDATE SET last_run = EXCLUDED.last_run, last_count = EXCLUDED.last_count, updated_at = now()`
	return r.db.WithContext(ctx).Exec(q, source, instant, count).Error
}
