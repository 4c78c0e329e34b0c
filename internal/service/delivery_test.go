package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xrayfleet/xrayfleet/internal/domain"
)

func deliveryFixture() (*fixture, DeliveryTask, DeliveryTask) {
	f := newFixture()
	engineID := uuid.MustParse("7c0e1f2a-3b4c-4d5e-8f60-718293a4b5c6")

	ev := domain.NewEngineUpdated(engineID, domain.Version{Ts: 10}, nil, domain.StatusReady)
	outboxID := domain.OutboxRecordID("xrayEngines:10-0", ev.ID)
	f.outbox.events[outboxID] = ev

	sub1 := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	sub2 := uuid.MustParse("00000000-0000-4000-8000-000000000002")
	f.subs.telegram[sub1] = "tg-100"
	f.subs.telegram[sub2] = "tg-200"

	t1 := DeliveryTask{ID: uuid.MustParse("00000000-0000-4000-8000-0000000000a1"), OutboxID: outboxID, SubscriptionID: sub1, Attempts: 1}
	t2 := DeliveryTask{ID: uuid.MustParse("00000000-0000-4000-8000-0000000000a2"), OutboxID: outboxID, SubscriptionID: sub2, Attempts: 3}
	return f, t1, t2
}

func TestDeliveryPublishesBatch(t *testing.T) {
	f, t1, t2 := deliveryFixture()
	f.tasks.claimable = []DeliveryTask{t1, t2}
	pub := &fakePublisher{}

	svc := NewDeliveryService(f.uow, pub, 200, 5)
	n, err := svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 2 {
		t.Errorf("claimed = %d, want 2", n)
	}

	if len(pub.got) != 2 {
		t.Fatalf("published items = %d, want 2", len(pub.got))
	}
	recipients := map[string]bool{}
	for _, item := range pub.got {
		recipients[item.TelegramID] = true
	}
	if !recipients["tg-100"] || !recipients["tg-200"] {
		t.Errorf("recipients = %v", recipients)
	}

	if len(f.tasks.published) != 2 {
		t.Errorf("published marks = %v, want both tasks", f.tasks.published)
	}
}

func TestDeliveryPairsResultsByTaskID(t *testing.T) {
	// One task is skipped for missing recipient data; results for the rest
	// must land on the right rows even though positions shifted.
	f, t1, t2 := deliveryFixture()
	delete(f.subs.telegram, t1.SubscriptionID) // t1 becomes unpublishable
	f.tasks.claimable = []DeliveryTask{t1, t2}

	pub := &fakePublisher{results: map[uuid.UUID]bool{t2.ID: false}}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewDeliveryService(f.uow, pub, 200, 5)
	svc.now = func() time.Time { return now }

	if _, err := svc.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	// t1 was skipped: neither published nor failed, retried next round.
	if len(f.tasks.published) != 0 {
		t.Errorf("published marks = %v, want none", f.tasks.published)
	}
	if _, failed := f.tasks.failed[t1.ID]; failed {
		t.Error("skipped task must stay unmarked")
	}

	// t2 failed to publish: backed off by attempts^2 seconds.
	next, ok := f.tasks.failed[t2.ID]
	if !ok {
		t.Fatal("t2 not marked failed")
	}
	if want := now.Add(9 * time.Second); !next.Equal(want) {
		t.Errorf("next_attempt_at = %v, want %v", next, want)
	}
}

func TestDeliveryMissingEventSkips(t *testing.T) {
	f, t1, _ := deliveryFixture()
	orphan := DeliveryTask{
		ID:             uuid.MustParse("00000000-0000-4000-8000-0000000000b1"),
		OutboxID:       uuid.MustParse("00000000-0000-4000-8000-0000000000b2"), // no such outbox row
		SubscriptionID: t1.SubscriptionID,
		Attempts:       0,
	}
	f.tasks.claimable = []DeliveryTask{orphan}
	pub := &fakePublisher{}

	svc := NewDeliveryService(f.uow, pub, 200, 5)
	if _, err := svc.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if len(pub.got) != 0 {
		t.Errorf("published items = %v, want none", pub.got)
	}
	if len(f.tasks.published) != 0 || len(f.tasks.failed) != 0 {
		t.Error("orphan task must stay unmarked")
	}
}

func TestDeliveryEmptyBatch(t *testing.T) {
	f, _, _ := deliveryFixture()
	pub := &fakePublisher{}

	svc := NewDeliveryService(f.uow, pub, 200, 5)
	n, err := svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 0 {
		t.Errorf("claimed = %d, want 0", n)
	}
}
