package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arcline-io/timeline-engine/internal/model"
	"github.com/arcline-io/timeline-engine/internal/store"
)

// EntityStore is the slice of the Store the engine needs: upsert plus
// watermark get/set. Narrowed to an interface so the engine is testable
// against a fake.
type EntityStore interface {
	Upsert(ctx context.Context, e *model.Entity) (store.UpsertResult, error)
	GetWatermark(ctx context.Context, source string) (model.SourceWatermark, bool, error)
	SetWatermark(ctx context.Context, source string, instant time.Time, count int) error
}

// GPSFixSource supplies the historical location.gps rows the place/visit
// detector clusters over. *store.Repo's StreamAll satisfies it directly.
type GPSFixSource interface {
	StreamAll(ctx context.Context, types []string, newestFirst bool, emit func(*model.Entity) error) (int64, error)
}

// LocationResolver is the slice of the Resolver the engine needs.
type LocationResolver interface {
	Resolve(ctx context.Context, instant time.Time) (lat, lon *float64, ok bool, err error)
}

// Engine runs source plugins per the run protocol: load watermark,
// discover, extract, resolve, upsert, advance watermark only on full
// success.
type Engine struct {
	store    EntityStore
	resolver LocationResolver
	registry *Registry
	epoch    time.Time

	fixes    GPSFixSource
	detector *PlaceDetector

	onRunComplete func(source string, err error, count int)

	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex

	cron        *cron.Cron
	cronEntries map[string]cron.EntryID
}

type Options struct {
	// Epoch is the lower bound used for a source's first run, when it
	// has never recorded a watermark.
	Epoch time.Time
	// OnRunComplete, if set, is called after every run attempt (success
	// or failure) — e.g. to record metrics.
	OnRunComplete func(source string, err error, count int)
	// PlaceDetector, if set, runs cluster discovery and visit detection
	// once a run ingests at least one location.gps row. FixSource must
	// also be set; it supplies the full GPS history the detector
	// clusters over, not just the rows from the triggering run.
	PlaceDetector *PlaceDetector
	FixSource     GPSFixSource
}

func New(store EntityStore, resolver LocationResolver, registry *Registry, opts Options) *Engine {
	epoch := opts.Epoch
	if epoch.IsZero() {
		epoch = time.Unix(0, 0).UTC()
	}
	return &Engine{
		store: store, resolver: resolver, registry: registry, epoch: epoch,
		fixes: opts.FixSource, detector: opts.PlaceDetector,
		onRunComplete: opts.OnRunComplete,
		sourceLocks:   map[string]*sync.Mutex{},
		cron:          cron.New(),
		cronEntries:   map[string]cron.EntryID{},
	}
}

func (e *Engine) lockFor(source string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sourceLocks[source]
	if !ok {
		l = &sync.Mutex{}
		e.sourceLocks[source] = l
	}
	return l
}

// StartScheduler registers a cron entry per plugin's Schedule() and
// starts firing runs on cadence. Runs of different sources overlap
// freely; runs of the same source serialize on that source's lock.
func (e *Engine) StartScheduler(ctx context.Context) error {
	for _, p := range e.registry.All() {
		plugin := p
		spec := plugin.Schedule()
		if spec == "" {
			continue
		}
		id, err := e.cron.AddFunc(spec, func() {
			if err := e.Run(ctx, plugin.Name()); err != nil {
				slog.Warn("scheduled ingestion run failed", "source", plugin.Name(), "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule for source %q: %w", plugin.Name(), err)
		}
		e.cronEntries[plugin.Name()] = id
	}
	e.cron.Start()
	return nil
}

func (e *Engine) StopScheduler() {
	e.cron.Stop()
}

// RunAll runs every registered source once, sequentially by source but
// each independently subject to its own failure semantics.
func (e *Engine) RunAll(ctx context.Context) {
	for _, p := range e.registry.All() {
		if err := e.Run(ctx, p.Name()); err != nil {
			slog.Warn("ingestion run failed", "source", p.Name(), "error", err)
		}
	}
}

// Run executes the seven-step run protocol for source once.
func (e *Engine) Run(ctx context.Context, source string) error {
	plugin, ok := e.registry.Get(source)
	if !ok {
		return fmt.Errorf("unknown source plugin: %q", source)
	}

	lock := e.lockFor(source)
	lock.Lock()
	defer lock.Unlock()

	count, sawGPS, err := e.runLocked(ctx, plugin)
	if e.onRunComplete != nil {
		e.onRunComplete(source, err, count)
	}
	if err == nil && sawGPS && e.detector != nil {
		if derr := e.runPlaceDetection(ctx); derr != nil {
			slog.Warn("place detection failed", "source", source, "error", derr)
		}
	}
	return err
}

func (e *Engine) runLocked(ctx context.Context, plugin SourcePlugin) (count int, sawGPS bool, err error) {
	since := e.epoch
	if wm, ok, err := e.store.GetWatermark(ctx, plugin.Name()); err != nil {
		return 0, false, fmt.Errorf("load watermark: %w", err)
	} else if ok {
		since = wm.LastRun
	}

	items, errs := plugin.Discover(ctx, since)

	for {
		select {
		case <-ctx.Done():
			return count, sawGPS, ctx.Err()
		case err := <-errs:
			if err != nil {
				return count, sawGPS, fmt.Errorf("discover %q: %w", plugin.Name(), err)
			}
		case raw, open := <-items:
			if !open {
				// A plugin sends its error before closing items, so an
				// error may still be buffered when the close is seen.
				select {
				case err := <-errs:
					if err != nil {
						return count, sawGPS, fmt.Errorf("discover %q: %w", plugin.Name(), err)
					}
				default:
				}
				runAt := time.Now().UTC()
				if err := e.store.SetWatermark(ctx, plugin.Name(), runAt, count); err != nil {
					return count, sawGPS, fmt.Errorf("advance watermark: %w", err)
				}
				return count, sawGPS, nil
			}
			entities, err := plugin.Extract(raw)
			if err != nil {
				return count, sawGPS, fmt.Errorf("extract %q: %w", plugin.Name(), err)
			}
			for _, ent := range entities {
				if ent.Type == "location.gps" {
					sawGPS = true
				}
				if err := e.resolveAndUpsert(ctx, plugin, ent); err != nil {
					return count, sawGPS, err
				}
				count++
			}
		}
	}
}

// runPlaceDetection loads the full location.gps history and runs the
// detector's discovery and visit-detection passes over it. Errors here
// never retract the ingestion run that triggered them: the run already
// committed and advanced its watermark before this is called.
func (e *Engine) runPlaceDetection(ctx context.Context) error {
	if e.fixes == nil {
		return nil
	}
	var fixes []GPSFix
	_, err := e.fixes.StreamAll(ctx, []string{"location.gps"}, false, func(ent *model.Entity) error {
		if ent.HasLocation() {
			fixes = append(fixes, GPSFix{TStart: ent.TStart, Lat: *ent.Lat, Lon: *ent.Lon})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load gps fixes: %w", err)
	}
	if len(fixes) == 0 {
		return nil
	}
	placesFound, visitsFound, err := e.detector.Run(ctx, fixes)
	if err != nil {
		return fmt.Errorf("run place detector: %w", err)
	}
	slog.Info("place detection completed", "places", placesFound, "visits", visitsFound)
	return nil
}

func (e *Engine) resolveAndUpsert(ctx context.Context, plugin SourcePlugin, ent *model.Entity) error {
	source := plugin.Name()
	ent.Source = &source

	if plugin.HasNativeLocation() {
		if ent.HasLocation() {
			native := "native"
			ent.LocSource = &native
		}
	} else if !ent.HasLocation() && e.resolver != nil {
		lat, lon, ok, err := e.resolver.Resolve(ctx, ent.TStart)
		if err != nil {
			return fmt.Errorf("resolve location: %w", err)
		}
		if ok {
			ent.Lat, ent.Lon = lat, lon
			inferred := "inferred"
			ent.LocSource = &inferred
		}
	}

	extID := DeriveExternalID(source, ent)
	ent.ExternalID = &extID

	if _, err := e.store.Upsert(ctx, ent); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}
