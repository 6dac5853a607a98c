package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arcline-io/timeline-engine/internal/model"
	"github.com/arcline-io/timeline-engine/internal/store"
)

type fakeStore struct {
	upserted       []*model.Entity
	timeResult     []*model.Entity
	bboxResult     []*model.Entity
	resampleResult []*model.Entity
	streamEntities []*model.Entity
	places         map[uuid.UUID]*model.Place
	visits         map[uuid.UUID][]*model.Entity
	stats          store.Stats
	renameErr      error
	renamedCount   int64
	getPlaceErr    error
	upsertErr      error

	lastStreamNewestFirst bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		places: map[uuid.UUID]*model.Place{},
		visits: map[uuid.UUID][]*model.Entity{},
	}
}

func (f *fakeStore) Upsert(ctx context.Context, e *model.Entity) (store.UpsertResult, error) {
	if f.upsertErr != nil {
		return store.UpsertResult{}, f.upsertErr
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.upserted = append(f.upserted, e)
	return store.UpsertResult{ID: e.ID, Inserted: true}, nil
}

func (f *fakeStore) BulkUpsert(ctx context.Context, entities []*model.Entity) ([]store.UpsertResult, error) {
	out := make([]store.UpsertResult, len(entities))
	for i, e := range entities {
		res, _ := f.Upsert(ctx, e)
		out[i] = res
	}
	return out, nil
}

func (f *fakeStore) QueryTime(ctx context.Context, q store.TimeQuery) ([]*model.Entity, *store.Cursor, error) {
	return f.timeResult, nil, nil
}

func (f *fakeStore) QueryBBox(ctx context.Context, q store.BBoxQuery) ([]*model.Entity, error) {
	return f.bboxResult, nil
}

func (f *fakeStore) Resample(ctx context.Context, q store.ResampleQuery) ([]*model.Entity, error) {
	return f.resampleResult, nil
}

func (f *fakeStore) CountEntities(ctx context.Context, types []string) (int64, error) {
	return int64(len(f.streamEntities)), nil
}

func (f *fakeStore) StreamAll(ctx context.Context, types []string, newestFirst bool, emit func(*model.Entity) error) (int64, error) {
	f.lastStreamNewestFirst = newestFirst
	for _, e := range f.streamEntities {
		if err := emit(e); err != nil {
			return int64(len(f.streamEntities)), err
		}
	}
	return int64(len(f.streamEntities)), nil
}

func (f *fakeStore) ListPlaces(ctx context.Context) ([]*model.Place, error) {
	out := make([]*model.Place, 0, len(f.places))
	for _, p := range f.places {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetPlace(ctx context.Context, id uuid.UUID) (*model.Place, bool, error) {
	if f.getPlaceErr != nil {
		return nil, false, f.getPlaceErr
	}
	p, ok := f.places[id]
	return p, ok, nil
}

func (f *fakeStore) VisitsForPlace(ctx context.Context, id uuid.UUID, limit int) ([]*model.Entity, error) {
	return f.visits[id], nil
}

func (f *fakeStore) RenamePlace(ctx context.Context, id uuid.UUID, name string, color *string) (int64, error) {
	if f.renameErr != nil {
		return 0, f.renameErr
	}
	if p, ok := f.places[id]; ok {
		p.Name = name
	}
	return f.renamedCount, nil
}

func (f *fakeStore) DeleteVisits(ctx context.Context) (int64, error) {
	return int64(len(f.streamEntities)), nil
}

func (f *fakeStore) DeleteVisitsInWindow(ctx context.Context, start, end time.Time) (int64, error) {
	return 1, nil
}

func (f *fakeStore) Stats(ctx context.Context) (store.Stats, error) {
	return f.stats, nil
}
