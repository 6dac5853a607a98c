package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/arcline-io/timeline-engine/internal/model"
	"github.com/arcline-io/timeline-engine/internal/store"
)

type fakeStore struct {
	upserted   []*model.Entity
	watermarks map[string]model.SourceWatermark
	upsertErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{watermarks: map[string]model.SourceWatermark{}}
}

func (f *fakeStore) Upsert(ctx context.Context, e *model.Entity) (store.UpsertResult, error) {
	if f.upsertErr != nil {
		return store.UpsertResult{}, f.upsertErr
	}
	f.upserted = append(f.upserted, e)
	return store.UpsertResult{Inserted: true}, nil
}

func (f *fakeStore) GetWatermark(ctx context.Context, source string) (model.SourceWatermark, bool, error) {
	wm, ok := f.watermarks[source]
	return wm, ok, nil
}

func (f *fakeStore) SetWatermark(ctx context.Context, source string, instant time.Time, count int) error {
	f.watermarks[source] = model.SourceWatermark{Source: source, LastRun: instant, LastCount: count}
	return nil
}

// StreamAll replays whatever was upserted of the requested type, newest
// first when asked — enough for runPlaceDetection to load a GPS history
// back out of the same fake store it was written into.
func (f *fakeStore) StreamAll(ctx context.Context, types []string, newestFirst bool, emit func(*model.Entity) error) (int64, error) {
	wanted := map[string]bool{}
	for _, t := range types {
		wanted[t] = true
	}
	matches := make([]*model.Entity, 0, len(f.upserted))
	for _, e := range f.upserted {
		if len(wanted) == 0 || wanted[e.Type] {
			matches = append(matches, e)
		}
	}
	if newestFirst {
		sort.Slice(matches, func(i, j int) bool { return matches[i].TStart.After(matches[j].TStart) })
	} else {
		sort.Slice(matches, func(i, j int) bool { return matches[i].TStart.Before(matches[j].TStart) })
	}
	for _, e := range matches {
		if err := emit(e); err != nil {
			return int64(len(matches)), err
		}
	}
	return int64(len(matches)), nil
}

type fakePlaceDetectorStore struct {
	placeMetas []*model.Entity
	visits     []*model.Entity
	places     []*model.Place
}

func (f *fakePlaceDetectorStore) Upsert(ctx context.Context, e *model.Entity) (store.UpsertResult, error) {
	switch e.Type {
	case "place.meta":
		f.placeMetas = append(f.placeMetas, e)
	case "place.visit":
		f.visits = append(f.visits, e)
	}
	return store.UpsertResult{Inserted: true}, nil
}

func (f *fakePlaceDetectorStore) UpsertPlace(ctx context.Context, p *model.Place) error {
	f.places = append(f.places, p)
	return nil
}

type fakePlugin struct {
	name      string
	items     []ingestItem
	extractFn func(raw RawItem) ([]*model.Entity, error)
	native    bool
}

type ingestItem struct{ v int }

func (p *fakePlugin) Name() string     { return p.name }
func (p *fakePlugin) Schedule() string { return "" }
func (p *fakePlugin) HasNativeLocation() bool { return p.native }

func (p *fakePlugin) Discover(ctx context.Context, since time.Time) (<-chan RawItem, <-chan error) {
	items := make(chan RawItem, len(p.items))
	errs := make(chan error, 1)
	for _, it := range p.items {
		items <- it
	}
	close(items)
	return items, errs
}

func (p *fakePlugin) Extract(raw RawItem) ([]*model.Entity, error) {
	return p.extractFn(raw)
}

func TestEngineRun_AdvancesWatermarkOnSuccess(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plugin := &fakePlugin{
		name:   "test-source",
		items:  []ingestItem{{v: 1}, {v: 2}},
		native: true,
		extractFn: func(raw RawItem) ([]*model.Entity, error) {
			it := raw.(ingestItem)
			return []*model.Entity{{Type: "music", TStart: base.Add(time.Duration(it.v) * time.Minute)}}, nil
		},
	}

	reg := NewRegistry()
	if err := reg.Register(plugin); err != nil {
		t.Fatal(err)
	}
	st := newFakeStore()
	eng := New(st, nil, reg, Options{Epoch: base})

	if err := eng.Run(context.Background(), "test-source"); err != nil {
		t.Fatal(err)
	}
	if len(st.upserted) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(st.upserted))
	}
	wm, ok := st.watermarks["test-source"]
	if !ok {
		t.Fatal("expected watermark to be set")
	}
	if wm.LastCount != 2 {
		t.Fatalf("expected watermark count 2, got %d", wm.LastCount)
	}
}

func TestEngineRun_DoesNotAdvanceWatermarkOnFailure(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plugin := &fakePlugin{
		name:  "flaky",
		items: []ingestItem{{v: 1}},
		extractFn: func(raw RawItem) ([]*model.Entity, error) {
			return nil, errors.New("boom")
		},
	}
	reg := NewRegistry()
	_ = reg.Register(plugin)
	st := newFakeStore()
	eng := New(st, nil, reg, Options{Epoch: base})

	if err := eng.Run(context.Background(), "flaky"); err == nil {
		t.Fatal("expected run to fail")
	}
	if _, ok := st.watermarks["flaky"]; ok {
		t.Fatal("watermark must not advance on failure")
	}
}

func TestEngineRun_TriggersPlaceDetectionAndThreadsPlaceID(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	plugin := &fakePlugin{
		name:   "gps-source",
		items:  []ingestItem{{v: 0}, {v: 1}, {v: 2}, {v: 3}, {v: 4}},
		native: true,
		extractFn: func(raw RawItem) ([]*model.Entity, error) {
			it := raw.(ingestItem)
			lat, lon := 34.10000+float64(it.v)*0.00001, -118.30000
			if it.v == 4 {
				// leaves the place's radius, closing the visit
				lat, lon = 40.7128, -74.0060
			}
			return []*model.Entity{{
				Type:   "location.gps",
				TStart: base.Add(time.Duration(it.v) * time.Minute),
				Lat:    &lat, Lon: &lon,
			}}, nil
		},
	}

	reg := NewRegistry()
	if err := reg.Register(plugin); err != nil {
		t.Fatal(err)
	}

	entityStore := newFakeStore()
	placeStore := &fakePlaceDetectorStore{}
	detector := &PlaceDetector{
		Store:  placeStore,
		Params: ClusterParams{EpsMeters: 50, MinSamples: 2, MinVisitCount: 1, MinTotalDwellHours: 0},
		Visit:  VisitParams{MaxGap: time.Hour, MinDwell: time.Minute},
	}
	eng := New(entityStore, nil, reg, Options{Epoch: base, PlaceDetector: detector, FixSource: entityStore})

	if err := eng.Run(context.Background(), "gps-source"); err != nil {
		t.Fatal(err)
	}

	if len(placeStore.places) != 1 {
		t.Fatalf("expected 1 place discovered, got %d", len(placeStore.places))
	}
	if len(placeStore.visits) != 1 {
		t.Fatalf("expected 1 visit detected, got %d", len(placeStore.visits))
	}

	var payload model.VisitMetaPayload
	if err := json.Unmarshal(placeStore.visits[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PlaceID != placeStore.places[0].ID.String() {
		t.Fatalf("visit references place id %q, want the discovered place's id %q",
			payload.PlaceID, placeStore.places[0].ID.String())
	}
}

func TestEngineRun_SkipsPlaceDetectionWithoutGPSRows(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plugin := &fakePlugin{
		name:   "music-source",
		items:  []ingestItem{{v: 1}},
		native: true,
		extractFn: func(raw RawItem) ([]*model.Entity, error) {
			return []*model.Entity{{Type: "music.play", TStart: base}}, nil
		},
	}
	reg := NewRegistry()
	if err := reg.Register(plugin); err != nil {
		t.Fatal(err)
	}

	entityStore := newFakeStore()
	placeStore := &fakePlaceDetectorStore{}
	detector := &PlaceDetector{Store: placeStore, Params: ClusterParams{EpsMeters: 50, MinSamples: 1}}
	eng := New(entityStore, nil, reg, Options{Epoch: base, PlaceDetector: detector, FixSource: entityStore})

	if err := eng.Run(context.Background(), "music-source"); err != nil {
		t.Fatal(err)
	}
	if len(placeStore.places) != 0 {
		t.Fatalf("expected no place detection to run for a non-GPS source, got %d places", len(placeStore.places))
	}
}

func TestEngineRun_RejectsDuplicatePluginName(t *testing.T) {
	reg := NewRegistry()
	p1 := &fakePlugin{name: "dup"}
	p2 := &fakePlugin{name: "dup"}
	if err := reg.Register(p1); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(p2); err == nil {
		t.Fatal("expected duplicate name registration to fail")
	}
}
