// Package ingest orchestrates source plugins: loading watermarks,
// pulling new raw items, normalizing them to entities, enriching
// missing locations, upserting into the store, and advancing
// watermarks.
package ingest

import (
	"context"
	"time"

	"github.com/arcline-io/timeline-engine/internal/model"
)

// RawItem is an opaque unit of source-specific data, as produced by a
// plugin's Discover and consumed by its own Extract. The engine never
// looks inside it.
type RawItem any

// SourcePlugin is the capability set a source must satisfy. Discovery
// via a process-wide registry replaces a filesystem plugin-directory
// scan: every plugin is registered explicitly at startup, so the set of
// active sources is fixed and auditable rather than scanned.
type SourcePlugin interface {
	// Name is the stable identifier persisted as Entity.Source.
	Name() string
	// Schedule is a cron-style cadence hint for the scheduler.
	Schedule() string
	// HasNativeLocation reports whether Extract populates coordinates
	// itself; if false, the engine runs the Resolver on each entity that
	// lacks coordinates.
	HasNativeLocation() bool
	// Discover produces a lazy, finite, non-restartable sequence of raw
	// items new since `since`. The returned channel is closed when
	// discovery completes; a value sent on the error channel (before the
	// items channel is closed) aborts the run without advancing the
	// watermark.
	Discover(ctx context.Context, since time.Time) (<-chan RawItem, <-chan error)
	// Extract deterministically maps one raw item into one or more
	// normalized entities. It must populate at least Type and TStart,
	// and ExternalID when derivable (a synthesizable dedup key
	// otherwise).
	Extract(raw RawItem) ([]*model.Entity, error)
}
