package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/xrayfleet/xrayfleet/internal/domain"
)

// In-memory gateway fakes implementing the same semantics as the pgx
// repositories: strict-older upsert, idempotent task store, claim queues.

type fakeEngines struct {
	rows    map[uuid.UUID]*domain.Engine
	getErr  error
	removed int64
}

func newFakeEngines() *fakeEngines {
	return &fakeEngines{rows: map[uuid.UUID]*domain.Engine{}}
}

func snapshot(e *domain.Engine) *domain.Engine {
	cp := *e
	cp.PullEvents()
	return &cp
}

func (f *fakeEngines) Get(_ context.Context, id uuid.UUID) (*domain.Engine, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return snapshot(row), nil
}

func (f *fakeEngines) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Engine, error) {
	return f.Get(ctx, id)
}

func (f *fakeEngines) Save(_ context.Context, engine *domain.Engine) (bool, error) {
	stored, ok := f.rows[engine.ID]
	if ok && !engine.Version.After(stored.Version) {
		return false, nil
	}
	f.rows[engine.ID] = snapshot(engine)
	return true, nil
}

func (f *fakeEngines) RemoveDead(context.Context) (int64, error) {
	var n int64
	for id, row := range f.rows {
		if row.Status == domain.StatusDead {
			delete(f.rows, id)
			n++
		}
	}
	f.removed = n
	return n, nil
}

type storedEvents struct {
	events   []domain.Event
	causedBy string
}

type fakeOutbox struct {
	stored     []storedEvents
	claimable  []OutboxRecord
	events     map[uuid.UUID]domain.Event
	fanned     []uuid.UUID
	failed     map[uuid.UUID]time.Time
	storeErr   error
	extractErr error
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{
		events: map[uuid.UUID]domain.Event{},
		failed: map[uuid.UUID]time.Time{},
	}
}

func (f *fakeOutbox) Store(_ context.Context, events []domain.Event, causedBy string) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, storedEvents{events: events, causedBy: causedBy})
	return nil
}

func (f *fakeOutbox) ClaimBatch(_ context.Context, limit, maxAttempts int) ([]OutboxRecord, error) {
	batch := f.claimable
	if len(batch) > limit {
		batch = batch[:limit]
	}
	f.claimable = f.claimable[len(batch):]
	return batch, nil
}

func (f *fakeOutbox) MarkFannedOut(_ context.Context, id uuid.UUID) error {
	f.fanned = append(f.fanned, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, next time.Time) error {
	f.failed[id] = next
	return nil
}

func (f *fakeOutbox) ExtractEvents(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Event, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	out := map[uuid.UUID]domain.Event{}
	for _, id := range ids {
		if ev, ok := f.events[id]; ok {
			out[id] = ev
		}
	}
	return out, nil
}

type taskKey struct {
	outbox uuid.UUID
	sub    uuid.UUID
}

type fakeTasks struct {
	stored    map[taskKey]struct{}
	claimable []DeliveryTask
	published []uuid.UUID
	failed    map[uuid.UUID]time.Time
	storeErr  error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{stored: map[taskKey]struct{}{}, failed: map[uuid.UUID]time.Time{}}
}

func (f *fakeTasks) Store(_ context.Context, tasks []CreateDeliveryTask) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	for _, t := range tasks {
		f.stored[taskKey{outbox: t.OutboxID, sub: t.SubscriptionID}] = struct{}{}
	}
	return nil
}

func (f *fakeTasks) ClaimBatch(_ context.Context, limit, maxAttempts int) ([]DeliveryTask, error) {
	batch := f.claimable
	if len(batch) > limit {
		batch = batch[:limit]
	}
	f.claimable = f.claimable[len(batch):]
	return batch, nil
}

func (f *fakeTasks) MarkPublished(_ context.Context, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeTasks) MarkFailed(_ context.Context, id uuid.UUID, next time.Time) error {
	f.failed[id] = next
	return nil
}

type fakeSubs struct {
	byRef    map[EventRef][]uuid.UUID
	telegram map[uuid.UUID]string
	forErr   error
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{byRef: map[EventRef][]uuid.UUID{}, telegram: map[uuid.UUID]string{}}
}

func (f *fakeSubs) ForEvents(_ context.Context, refs []EventRef) (map[EventRef][]uuid.UUID, error) {
	if f.forErr != nil {
		return nil, f.forErr
	}
	out := map[EventRef][]uuid.UUID{}
	for _, ref := range refs {
		if ids, ok := f.byRef[ref]; ok {
			out[ref] = ids
		}
	}
	return out, nil
}

func (f *fakeSubs) TelegramIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := map[uuid.UUID]string{}
	for _, id := range ids {
		if tg, ok := f.telegram[id]; ok {
			out[id] = tg
		}
	}
	return out, nil
}

type fakeUoW struct {
	g        Gateways
	beginErr error
	commits  int
}

func (u *fakeUoW) InTx(ctx context.Context, fn func(ctx context.Context, g Gateways) error) error {
	if u.beginErr != nil {
		return u.beginErr
	}
	if err := fn(ctx, u.g); err != nil {
		return err
	}
	u.commits++
	return nil
}

func (u *fakeUoW) Plain() Gateways {
	return u.g
}

type fixture struct {
	engines *fakeEngines
	outbox  *fakeOutbox
	tasks   *fakeTasks
	subs    *fakeSubs
	uow     *fakeUoW
}

func newFixture() *fixture {
	f := &fixture{
		engines: newFakeEngines(),
		outbox:  newFakeOutbox(),
		tasks:   newFakeTasks(),
		subs:    newFakeSubs(),
	}
	f.uow = &fakeUoW{g: Gateways{
		Engines:       f.engines,
		Outbox:        f.outbox,
		Tasks:         f.tasks,
		Subscriptions: f.subs,
	}}
	return f
}

type fakeRestartClient struct {
	calls []struct {
		key  uuid.UUID
		addr string
	}
	err error
}

func (f *fakeRestartClient) Restart(_ context.Context, key uuid.UUID, addr string) error {
	f.calls = append(f.calls, struct {
		key  uuid.UUID
		addr string
	}{key, addr})
	return f.err
}

type fakePublisher struct {
	results map[uuid.UUID]bool
	got     []PublishDeliveryTask
}

func (f *fakePublisher) PublishBatch(_ context.Context, items []PublishDeliveryTask) map[uuid.UUID]bool {
	f.got = append(f.got, items...)
	out := map[uuid.UUID]bool{}
	for _, item := range items {
		if ok, known := f.results[item.TaskID]; known {
			out[item.TaskID] = ok
		} else {
			out[item.TaskID] = true
		}
	}
	return out
}

var errBoom = errors.New("boom")
