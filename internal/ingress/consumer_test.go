package ingress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xrayfleet/xrayfleet/internal/domain"
	"github.com/xrayfleet/xrayfleet/internal/service"
)

type upsertCall struct {
	info     service.EngineInfo
	causedBy string
	version  domain.Version
}

type markDeadCall struct {
	id       uuid.UUID
	causedBy string
	version  domain.Version
}

type fakeSvc struct {
	upserts     []upsertCall
	markDeads   []markDeadCall
	upsertErr   error
	markDeadErr error
}

func (f *fakeSvc) Upsert(_ context.Context, info service.EngineInfo, causedBy string, version domain.Version) error {
	f.upserts = append(f.upserts, upsertCall{info: info, causedBy: causedBy, version: version})
	return f.upsertErr
}

func (f *fakeSvc) MarkDead(_ context.Context, id uuid.UUID, causedBy string, version domain.Version) error {
	f.markDeads = append(f.markDeads, markDeadCall{id: id, causedBy: causedBy, version: version})
	return f.markDeadErr
}

type fakeOps struct {
	added  []map[string]any
	acked  [][]string
	addErr error
	ackErr error

	claimBatches [][]redis.XMessage
	claimCursors []string
	pending      []redis.XPendingExt
}

func (f *fakeOps) GroupCreate(context.Context, string, string) error { return nil }

func (f *fakeOps) ReadGroup(context.Context, string, string, string, int64, time.Duration) ([]redis.XMessage, error) {
	return nil, redis.Nil
}

func (f *fakeOps) Ack(_ context.Context, _, _ string, ids ...string) error {
	f.acked = append(f.acked, ids)
	return f.ackErr
}

func (f *fakeOps) AutoClaim(context.Context, string, string, string, time.Duration, string, int64) ([]redis.XMessage, string, error) {
	if len(f.claimBatches) == 0 {
		return nil, "0-0", nil
	}
	batch, cursor := f.claimBatches[0], f.claimCursors[0]
	f.claimBatches, f.claimCursors = f.claimBatches[1:], f.claimCursors[1:]
	return batch, cursor, nil
}

func (f *fakeOps) Pending(_ context.Context, _, _, _, start, end string, _ int64) ([]redis.XPendingExt, error) {
	var out []redis.XPendingExt
	for _, p := range f.pending {
		if p.ID >= start && p.ID <= end {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeOps) Add(_ context.Context, _ string, values map[string]any) error {
	f.added = append(f.added, values)
	return f.addErr
}

const testEngineID = "7c0e1f2a-3b4c-4d5e-8f60-718293a4b5c6"

func hsetMessage(id string) redis.XMessage {
	return redis.XMessage{
		ID: id,
		Values: map[string]any{
			"event":   "hset",
			"key":     KeyPrefix + testEngineID,
			"payload": `{"created":"2025-06-01T12:00:00Z","running":"True","addr":"10.0.0.1:2080"}`,
		},
	}
}

func newTestConsumer() (*Consumer, *fakeSvc, *fakeOps) {
	svc := &fakeSvc{}
	ops := &fakeOps{}
	return NewConsumer(ops, svc, "test-1"), svc, ops
}

func TestHandleHset(t *testing.T) {
	c, svc, _ := newTestConsumer()

	if !c.Handle(context.Background(), hsetMessage("1748779200000-3")) {
		t.Fatal("handled hset must be acked")
	}
	if len(svc.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(svc.upserts))
	}

	call := svc.upserts[0]
	if got, want := call.info.ID.String(), testEngineID; got != want {
		t.Errorf("engine id = %s, want %s", got, want)
	}
	if !call.info.Running {
		t.Error("running = false, want true (string form)")
	}
	if call.info.Addr != "10.0.0.1:2080" {
		t.Errorf("addr = %s", call.info.Addr)
	}
	if want := (domain.Version{Ts: 1748779200000, Seq: 3}); call.version != want {
		t.Errorf("version = %+v, want %+v", call.version, want)
	}
	if want := Stream + ":1748779200000-3"; call.causedBy != want {
		t.Errorf("caused_by = %s, want %s", call.causedBy, want)
	}
}

func TestHandleExpired(t *testing.T) {
	c, svc, _ := newTestConsumer()
	msg := redis.XMessage{
		ID:     "200-0",
		Values: map[string]any{"event": "expired", "key": KeyPrefix + testEngineID},
	}

	if !c.Handle(context.Background(), msg) {
		t.Fatal("handled expired must be acked")
	}
	if len(svc.markDeads) != 1 {
		t.Fatalf("markDeads = %d, want 1", len(svc.markDeads))
	}
	if got := svc.markDeads[0].version; got != (domain.Version{Ts: 200}) {
		t.Errorf("version = %+v", got)
	}
}

func TestHandleExpiredUnknownEngineIsDropped(t *testing.T) {
	c, svc, _ := newTestConsumer()
	svc.markDeadErr = &service.EngineNotExistError{ID: uuid.MustParse(testEngineID)}
	msg := redis.XMessage{
		ID:     "200-0",
		Values: map[string]any{"event": "expired", "key": KeyPrefix + testEngineID},
	}

	if !c.Handle(context.Background(), msg) {
		t.Error("expired for unknown engine must be acked, not retried")
	}
}

func TestHandleMalformedIsAcked(t *testing.T) {
	c, svc, _ := newTestConsumer()

	cases := []struct {
		name string
		msg  redis.XMessage
	}{
		{"foreign key prefix", redis.XMessage{
			ID:     "100-0",
			Values: map[string]any{"event": "hset", "key": "otherPrefix:" + testEngineID},
		}},
		{"bad engine uuid", redis.XMessage{
			ID:     "100-0",
			Values: map[string]any{"event": "hset", "key": KeyPrefix + "not-a-uuid"},
		}},
		{"unknown event kind", redis.XMessage{
			ID:     "100-0",
			Values: map[string]any{"event": "rename", "key": KeyPrefix + testEngineID},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !c.Handle(context.Background(), tc.msg) {
				t.Error("malformed message must be acked and dropped")
			}
		})
	}
	if len(svc.upserts)+len(svc.markDeads) != 0 {
		t.Error("malformed messages must not reach the service")
	}
}

func TestHandleFailureLeavesPending(t *testing.T) {
	c, svc, _ := newTestConsumer()
	svc.upsertErr = errors.New("db down")

	if c.Handle(context.Background(), hsetMessage("100-0")) {
		t.Error("failed handler must not ack")
	}
}

func TestHandlePoisonPayloadLeavesPending(t *testing.T) {
	c, _, _ := newTestConsumer()
	msg := redis.XMessage{
		ID: "100-0",
		Values: map[string]any{
			"event":   "hset",
			"key":     KeyPrefix + testEngineID,
			"payload": "{not json",
		},
	}

	if c.Handle(context.Background(), msg) {
		t.Error("poison payload must stay pending for the DLQ path")
	}
}

func TestConsumerName(t *testing.T) {
	a, b := ConsumerName(), ConsumerName()
	if a == b {
		t.Errorf("consumer names must differ across restarts: %s", a)
	}
	if len(a) < 10 {
		t.Errorf("consumer name too short: %s", a)
	}
}
