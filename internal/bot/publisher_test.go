package bot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xrayfleet/xrayfleet/internal/domain"
	"github.com/xrayfleet/xrayfleet/internal/service"
)

type fakeConfirm struct {
	acked bool
	err   error
}

func (f *fakeConfirm) WaitContext(context.Context) (bool, error) {
	return f.acked, f.err
}

type fakeChannel struct {
	published []amqp.Publishing
	// keyed by MessageId; missing entries default to an acked confirm
	confirms map[string]*fakeConfirm
	errOn    map[string]error
}

func (f *fakeChannel) publish(_ context.Context, _ string, msg amqp.Publishing) (confirmation, error) {
	if err := f.errOn[msg.MessageId]; err != nil {
		return nil, err
	}
	f.published = append(f.published, msg)
	if c, ok := f.confirms[msg.MessageId]; ok {
		return c, nil
	}
	return &fakeConfirm{acked: true}, nil
}

func testItems() (service.PublishDeliveryTask, service.PublishDeliveryTask) {
	engineID := uuid.MustParse("7c0e1f2a-3b4c-4d5e-8f60-718293a4b5c6")
	ev := domain.NewEngineUpdated(engineID, domain.Version{Ts: 10}, nil, domain.StatusReady)

	i1 := service.PublishDeliveryTask{
		TaskID:     uuid.MustParse("00000000-0000-4000-8000-0000000000a1"),
		Event:      ev,
		TelegramID: "tg-100",
	}
	i2 := service.PublishDeliveryTask{
		TaskID:     uuid.MustParse("00000000-0000-4000-8000-0000000000a2"),
		Event:      ev,
		TelegramID: "tg-200",
	}
	return i1, i2
}

func TestPublishBatchConfirmsEachItem(t *testing.T) {
	i1, i2 := testItems()
	ch := &fakeChannel{}
	p := &Publisher{ops: ch}

	results := p.PublishBatch(context.Background(), []service.PublishDeliveryTask{i1, i2})

	if !results[i1.TaskID] || !results[i2.TaskID] {
		t.Fatalf("results = %v, want both acked", results)
	}
	if len(ch.published) != 2 {
		t.Fatalf("published = %d, want 2", len(ch.published))
	}

	var msg outboundMessage
	if err := json.Unmarshal(ch.published[0].Body, &msg); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if msg.TelegramID != "tg-100" {
		t.Errorf("telegram_id = %s, want tg-100", msg.TelegramID)
	}
	if !strings.Contains(msg.Text, "EngineUpdated") {
		t.Errorf("text = %q, want event name", msg.Text)
	}
	var envelope map[string]any
	if err := json.Unmarshal(msg.Event, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope["event_type"] != "EngineUpdated" {
		t.Errorf("envelope event_type = %v", envelope["event_type"])
	}
}

func TestPublishBatchPartialFailure(t *testing.T) {
	i1, i2 := testItems()
	ch := &fakeChannel{
		errOn: map[string]error{i1.TaskID.String(): errors.New("channel closed")},
	}
	p := &Publisher{ops: ch}

	results := p.PublishBatch(context.Background(), []service.PublishDeliveryTask{i1, i2})

	if results[i1.TaskID] {
		t.Error("publish error must report failure")
	}
	if !results[i2.TaskID] {
		t.Error("sibling item must still go through")
	}
}

func TestPublishBatchBrokerNack(t *testing.T) {
	i1, _ := testItems()
	ch := &fakeChannel{
		confirms: map[string]*fakeConfirm{i1.TaskID.String(): {acked: false}},
	}
	p := &Publisher{ops: ch}

	results := p.PublishBatch(context.Background(), []service.PublishDeliveryTask{i1})
	if results[i1.TaskID] {
		t.Error("nacked publish must report failure")
	}
}

func TestRenderTextEscapesPayload(t *testing.T) {
	engineID := uuid.MustParse("7c0e1f2a-3b4c-4d5e-8f60-718293a4b5c6")
	ev := domain.NewEngineUpdated(engineID, domain.Version{Ts: 10}, nil, domain.StatusReady)
	ev.Payload["note"] = "<script>"

	text := renderText(ev)
	if strings.Contains(text, "<script>") {
		t.Error("payload must be HTML-escaped")
	}
	if !strings.Contains(text, "<b>EngineUpdated</b>") {
		t.Errorf("text = %q, want bold event name", text)
	}
}
