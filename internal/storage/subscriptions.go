package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xrayfleet/xrayfleet/internal/service"
)

// SubscriptionRepo resolves who receives which engine events.
type SubscriptionRepo struct {
	q querier
}

// ForEvents resolves subscription ids per (event type, engine) pair in one
// round trip. Duplicate refs are collapsed before the query; pairs with no
// subscribers are simply absent from the result.
func (r *SubscriptionRepo) ForEvents(ctx context.Context, refs []service.EventRef) (map[service.EventRef][]uuid.UUID, error) {
	seen := make(map[service.EventRef]bool, len(refs))
	events := make([]string, 0, len(refs))
	engines := make([]string, 0, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		events = append(events, ref.EventType)
		engines = append(engines, ref.EngineID.String())
	}

	rows, err := r.q.Query(ctx, `
		SELECT s.event_type, s.engine_id, s.id
		FROM engine_subscriptions s
		JOIN unnest($1::text[], $2::uuid[]) AS q(event_type, engine_id)
		  ON s.event_type = q.event_type AND s.engine_id = q.engine_id
	`, events, engines)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[service.EventRef][]uuid.UUID)
	for rows.Next() {
		var (
			ref   service.EventRef
			subID uuid.UUID
		)
		if err := rows.Scan(&ref.EventType, &ref.EngineID, &subID); err != nil {
			return nil, err
		}
		out[ref] = append(out[ref], subID)
	}
	return out, rows.Err()
}

// TelegramIDs maps subscription ids to the chat id of the owning user.
func (r *SubscriptionRepo) TelegramIDs(ctx context.Context, subscriptionIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT s.id, u.telegram_id
		FROM engine_subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ANY($1::uuid[])
	`, uuidStrings(subscriptionIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]string, len(subscriptionIDs))
	for rows.Next() {
		var (
			id uuid.UUID
			tg string
		)
		if err := rows.Scan(&id, &tg); err != nil {
			return nil, err
		}
		out[id] = tg
	}
	return out, rows.Err()
}

// Subscription is the admin view of one subscription row.
type Subscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EngineID  uuid.UUID
	EventType string
	Created   time.Time
}

// List returns subscriptions for the admin surface, optionally filtered by
// user and engine.
func (r *SubscriptionRepo) List(ctx context.Context, userID, engineID uuid.NullUUID) ([]Subscription, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, engine_id, event_type, created
		FROM engine_subscriptions
		WHERE ($1::uuid IS NULL OR user_id = $1)
		  AND ($2::uuid IS NULL OR engine_id = $2)
		ORDER BY created DESC
	`, userID, engineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.EngineID, &s.EventType, &s.Created); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Create inserts a subscription. The unique constraint on
// (user_id, engine_id, event_type) makes a repeat a no-op; the stored row id
// is returned either way.
func (r *SubscriptionRepo) Create(ctx context.Context, userID, engineID uuid.UUID, eventType string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.q.QueryRow(ctx, `
		INSERT INTO engine_subscriptions (id, user_id, engine_id, event_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uq_subscription DO UPDATE SET event_type = EXCLUDED.event_type
		RETURNING id
	`, uuid.New(), userID, engineID, eventType).Scan(&id)
	return id, err
}

// Delete removes a subscription and reports whether it existed.
func (r *SubscriptionRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM engine_subscriptions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
