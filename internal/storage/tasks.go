package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xrayfleet/xrayfleet/internal/service"
)

// TaskRepo persists bot delivery tasks.
type TaskRepo struct {
	q querier
}

// Store inserts fan-out tasks. The (outbox_id, subscription_id) unique
// constraint makes a replayed fan-out a no-op per pair.
func (r *TaskRepo) Store(ctx context.Context, tasks []service.CreateDeliveryTask) error {
	for _, t := range tasks {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO delivery_tasks (id, outbox_id, subscription_id)
			VALUES ($1, $2, $3)
			ON CONFLICT ON CONSTRAINT uq_delivery_task DO NOTHING
		`, uuid.New(), t.OutboxID, t.SubscriptionID); err != nil {
			return err
		}
	}
	return nil
}

// ClaimBatch locks up to limit unpublished tasks that are due and under the
// attempt cap, skipping tasks other workers already hold.
func (r *TaskRepo) ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]service.DeliveryTask, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, outbox_id, subscription_id, attempts
		FROM delivery_tasks
		WHERE published = FALSE
		  AND attempts < $2
		  AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []service.DeliveryTask
	for rows.Next() {
		var t service.DeliveryTask
		if err := rows.Scan(&t.ID, &t.OutboxID, &t.SubscriptionID, &t.Attempts); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkPublished finalizes a task after broker confirmation.
func (r *TaskRepo) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE delivery_tasks
		SET published = TRUE, published_at = now(), attempts = attempts + 1
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed schedules the next publish attempt.
func (r *TaskRepo) MarkFailed(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE delivery_tasks
		SET attempts = attempts + 1, next_attempt_at = $2
		WHERE id = $1
	`, id, nextAttemptAt)
	return err
}
