package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DeliveryService drains delivery tasks: claims a batch, joins each task
// with its event body and recipient, publishes over the bot transport and
// marks each task by its own result. Pairing is by task id, never by
// position, so skipped tasks cannot misalign outcomes.
type DeliveryService struct {
	uow         UnitOfWork
	publisher   Publisher
	batch       int
	maxAttempts int
	now         func() time.Time
}

func NewDeliveryService(uow UnitOfWork, publisher Publisher, batch, maxAttempts int) *DeliveryService {
	return &DeliveryService{
		uow:         uow,
		publisher:   publisher,
		batch:       batch,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch runs one delivery iteration and reports the number of
// claimed tasks.
func (s *DeliveryService) ProcessBatch(ctx context.Context) (int, error) {
	var claimed int

	err := s.uow.InTx(ctx, func(ctx context.Context, g Gateways) error {
		tasks, err := g.Tasks.ClaimBatch(ctx, s.batch, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(tasks)
		if claimed == 0 {
			return nil
		}

		log.Info().Int("tasks", claimed).Msg("processing delivery tasks")

		outboxIDs := make([]uuid.UUID, 0, len(tasks))
		subIDs := make([]uuid.UUID, 0, len(tasks))
		for _, task := range tasks {
			outboxIDs = append(outboxIDs, task.OutboxID)
			subIDs = append(subIDs, task.SubscriptionID)
		}

		events, err := g.Outbox.ExtractEvents(ctx, outboxIDs)
		if err != nil {
			return err
		}
		recipients, err := g.Subscriptions.TelegramIDs(ctx, subIDs)
		if err != nil {
			return err
		}

		var forSending []PublishDeliveryTask
		for _, task := range tasks {
			event, haveEvent := events[task.OutboxID]
			telegramID, haveRecipient := recipients[task.SubscriptionID]
			if !haveEvent || !haveRecipient {
				// Left unmarked: the row retries until max_attempts parks it.
				log.Warn().
					Str("task_id", task.ID.String()).
					Bool("event", haveEvent).
					Bool("recipient", haveRecipient).
					Msg("missing data for delivery task")
				continue
			}
			forSending = append(forSending, PublishDeliveryTask{
				TaskID:     task.ID,
				Event:      event,
				TelegramID: telegramID,
			})
		}

		if len(forSending) == 0 {
			return nil
		}

		results := s.publisher.PublishBatch(ctx, forSending)

		success := 0
		for _, task := range tasks {
			ok, attempted := results[task.ID]
			if !attempted {
				continue
			}
			if ok {
				if err := g.Tasks.MarkPublished(ctx, task.ID); err != nil {
					return err
				}
				success++
				continue
			}
			next := s.now().Add(time.Duration(task.Attempts) * time.Duration(task.Attempts) * time.Second)
			if err := g.Tasks.MarkFailed(ctx, task.ID, next); err != nil {
				return err
			}
		}

		log.Info().Int("tasks", claimed).Int("published", success).Msg("processed delivery tasks")
		return nil
	})

	return claimed, err
}
