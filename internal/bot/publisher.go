// Package bot publishes prepared notifications onto the broker queue that
// the Telegram bot process consumes. Publisher confirms are mandatory:
// a message only counts as delivered once the broker acks it.
package bot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/service"
)

// Broker topology. Messages that expire or are rejected in the engine queue
// land in the dead letter queue for operators.
const (
	Queue           = "proxy_engine_queue"
	DeadLetterQueue = "dead_letters"
	DLXExchange     = "dlx"

	messageTTL  = 5 * time.Minute
	confirmWait = 5 * time.Second
)

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// channelOps is the broker surface the publisher needs; the production
// implementation wraps an amqp091 channel in confirm mode.
type channelOps interface {
	publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error)
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error) {
	return c.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
}

// Publisher owns one connection and one confirm-mode channel, shared by the
// whole process.
type Publisher struct {
	conn *amqp.Connection
	ops  channelOps
}

// NewPublisher connects, declares the queue topology, and enables publisher
// confirms.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := declareTopology(ch); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ops: &amqpChannel{ch: ch}}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterQueue, DLXExchange, false, nil); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DLXExchange,
		"x-dead-letter-routing-key": DeadLetterQueue,
		"x-message-ttl":             int32(messageTTL.Milliseconds()),
		"x-max-priority":            int32(9),
	})
	return err
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}

// outboundMessage is what the bot process reads off the queue.
type outboundMessage struct {
	TelegramID string          `json:"telegram_id"`
	Text       string          `json:"text"`
	Event      json.RawMessage `json:"event"`
}

// PublishBatch publishes every item and waits for its broker confirm.
// Results are keyed by task id; an item missing from the map was never
// attempted. One failed item never blocks the rest of the batch.
func (p *Publisher) PublishBatch(ctx context.Context, items []service.PublishDeliveryTask) map[uuid.UUID]bool {
	results := make(map[uuid.UUID]bool, len(items))
	confirms := make(map[uuid.UUID]confirmation, len(items))

	for _, item := range items {
		body, err := encodeMessage(item)
		if err != nil {
			log.Error().Err(err).Str("task_id", item.TaskID.String()).Msg("encode notification failed")
			results[item.TaskID] = false
			continue
		}

		confirm, err := p.ops.publish(ctx, Queue, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    item.TaskID.String(),
			Body:         body,
		})
		if err != nil {
			log.Error().Err(err).Str("task_id", item.TaskID.String()).Msg("publish failed")
			results[item.TaskID] = false
			continue
		}
		confirms[item.TaskID] = confirm
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmWait)
	defer cancel()
	for taskID, confirm := range confirms {
		acked, err := confirm.WaitContext(waitCtx)
		if err != nil {
			log.Error().Err(err).Str("task_id", taskID.String()).Msg("confirm wait failed")
			results[taskID] = false
			continue
		}
		if !acked {
			log.Warn().Str("task_id", taskID.String()).Msg("broker nacked publish")
		}
		results[taskID] = acked
	}
	return results
}

func encodeMessage(item service.PublishDeliveryTask) ([]byte, error) {
	envelope, err := json.Marshal(item.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(outboundMessage{
		TelegramID: item.TelegramID,
		Text:       renderText(item.Event),
		Event:      envelope,
	})
}
