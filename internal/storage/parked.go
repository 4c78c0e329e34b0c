package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ParkedOutboxRow is an outbox row that exhausted its attempt cap and needs
// operator attention.
type ParkedOutboxRow struct {
	ID       uuid.UUID
	CausedBy string
	Body     []byte
	Attempts int
	Created  time.Time
}

// ParkedTaskRow is a delivery task that exhausted its attempt cap.
type ParkedTaskRow struct {
	ID             uuid.UUID
	OutboxID       uuid.UUID
	SubscriptionID uuid.UUID
	Attempts       int
	Created        time.Time
}

// ParkedOutbox lists unfanned outbox rows at or past the attempt cap.
func (s *Store) ParkedOutbox(ctx context.Context, maxAttempts int) ([]ParkedOutboxRow, error) {
	rows, err := s.pools.Plain.Query(ctx, `
		SELECT id, caused_by, body, attempts, created_at
		FROM outbox
		WHERE fanned_out = FALSE AND attempts >= $1
		ORDER BY created_at
	`, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parked []ParkedOutboxRow
	for rows.Next() {
		var p ParkedOutboxRow
		if err := rows.Scan(&p.ID, &p.CausedBy, &p.Body, &p.Attempts, &p.Created); err != nil {
			return nil, err
		}
		parked = append(parked, p)
	}
	return parked, rows.Err()
}

// ParkedTasks lists unpublished delivery tasks at or past the attempt cap.
func (s *Store) ParkedTasks(ctx context.Context, maxAttempts int) ([]ParkedTaskRow, error) {
	rows, err := s.pools.Plain.Query(ctx, `
		SELECT id, outbox_id, subscription_id, attempts, created_at
		FROM delivery_tasks
		WHERE published = FALSE AND attempts >= $1
		ORDER BY created_at
	`, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parked []ParkedTaskRow
	for rows.Next() {
		var p ParkedTaskRow
		if err := rows.Scan(&p.ID, &p.OutboxID, &p.SubscriptionID, &p.Attempts, &p.Created); err != nil {
			return nil, err
		}
		parked = append(parked, p)
	}
	return parked, rows.Err()
}
