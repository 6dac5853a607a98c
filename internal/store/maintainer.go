package store

import (
	"fmt"
	"time"

	"github.com/arcline-io/timeline-engine/internal/apierr"
	"github.com/arcline-io/timeline-engine/internal/model"
)

// maintainGeomEWKT computes the EWKT representation of the derived geom
// column from lat/lon, or "" when either coordinate is absent (I2).
// Note the point order: SRID 4326 point is (lon, lat), not (lat, lon).
func maintainGeomEWKT(lat, lon *float64) string {
	if lat == nil || lon == nil {
		return ""
	}
	return fmt.Sprintf("SRID=4326;POINT(%f %f)", *lon, *lat)
}

// maintainTRangeLiteral computes the closed tstzrange literal for t_start/t_end,
// upholding I3: [t_start, coalesce(t_end, t_start)].
func maintainTRangeLiteral(tStart time.Time, tEnd *time.Time) string {
	end := tStart
	if tEnd != nil {
		end = *tEnd
	}
	return fmt.Sprintf("[%s,%s]", tStart.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
}

// binBounds computes the [start,end) bounds and center instant of bin i
// out of n equal-width bins partitioning [rangeStart,rangeEnd], per the
// resample operator's definition: bin i's center is
// rangeStart + (rangeEnd-rangeStart)*(i+0.5)/n. Bounds are computed with
// the same float ratio as center, not an integer-truncated width, so
// adjacent bins share an exact boundary; the last bin's end is rangeEnd
// itself, even when the span isn't evenly divisible by n.
func binBounds(rangeStart, rangeEnd time.Time, n, i int) (start, end, center time.Time) {
	span := rangeEnd.Sub(rangeStart)
	at := func(frac float64) time.Time {
		return rangeStart.Add(time.Duration(float64(span) * frac))
	}
	start = at(float64(i) / float64(n))
	end = at(float64(i+1) / float64(n))
	if i == n-1 {
		end = rangeEnd
	}
	center = at((float64(i) + 0.5) / float64(n))
	return start, end, center
}

// validateWritable enforces I1, the coordinate-pairing rule, and WGS84
// range before a row ever reaches SQL, returning an apierr.Validation
// error so the API layer surfaces these as 400s instead of 500s.
// Derived columns (geom, t_range, created_at, updated_at) are never
// taken from the caller; Upsert always recomputes them from the scalar
// sources after this check passes.
func validateWritable(tStart time.Time, tEnd *time.Time, lat, lon *float64) error {
	if tEnd != nil && tEnd.Before(tStart) {
		return apierr.Validation(fmt.Sprintf("t_end (%s) is before t_start (%s)", tEnd, tStart))
	}
	if (lat == nil) != (lon == nil) {
		return apierr.Validation("lat and lon must both be present or both be absent")
	}
	if lat != nil && (*lat < -90 || *lat > 90) {
		return apierr.Validation(fmt.Sprintf("lat (%v) must be in [-90, 90]", *lat))
	}
	if lon != nil && (*lon < -180 || *lon > 180) {
		return apierr.Validation(fmt.Sprintf("lon (%v) must be in [-180, 180]", *lon))
	}
	return nil
}

// validatePayloadShape decodes payload against the typed variant its
// entityType's namespace names (music.*, photo.*, sleep.*,
// transaction.*, calendar.*, place.meta, place.visit) and rejects a
// mismatch before the row reaches SQL. Types with no known variant
// (PayloadOpaque) and an absent payload are never checked — payload is
// free-form JSON for anything outside the recognized namespaces.
func validatePayloadShape(entityType string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	kind := model.KindForType(entityType)
	if kind == model.PayloadOpaque {
		return nil
	}
	if _, err := model.DecodePayload(kind, payload); err != nil {
		return apierr.Validation(fmt.Sprintf("payload does not match %s schema: %v", kind, err))
	}
	return nil
}
