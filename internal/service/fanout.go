package service

import (
	"context"

	"github.com/rs/zerolog/log"
)

// FanoutPlanner materializes per-subscriber delivery tasks from claimed
// outbox records. It runs inside the relay's transaction so the tasks and
// the fanned_out mark become visible atomically.
type FanoutPlanner struct{}

// PlanEngineDeliveries creates one delivery task per (record, matching
// subscription). Records without any subscriber produce zero tasks and are
// still considered fanned out. The task store is idempotent under the
// unique (outbox_id, subscription_id) constraint, so replays are absorbed.
func (FanoutPlanner) PlanEngineDeliveries(ctx context.Context, g Gateways, records []OutboxRecord) error {
	refs := make([]EventRef, 0, len(records))
	for _, rec := range records {
		refs = append(refs, EventRef{EventType: rec.Event.Type, EngineID: rec.Event.AggregateID})
	}

	subs, err := g.Subscriptions.ForEvents(ctx, refs)
	if err != nil {
		return err
	}

	var tasks []CreateDeliveryTask
	for i, rec := range records {
		ids := subs[refs[i]]
		if len(ids) == 0 {
			log.Warn().
				Str("event_type", rec.Event.Type).
				Str("engine_id", rec.Event.AggregateID.String()).
				Msg("no subscriptions found for event")
			continue
		}
		for _, id := range ids {
			tasks = append(tasks, CreateDeliveryTask{OutboxID: rec.ID, SubscriptionID: id})
		}
	}

	log.Info().Int("records", len(records)).Int("tasks", len(tasks)).Msg("planned engine delivery tasks")

	if len(tasks) == 0 {
		return nil
	}
	return g.Tasks.Store(ctx, tasks)
}
