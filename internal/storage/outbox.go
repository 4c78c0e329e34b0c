package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/domain"
	"github.com/xrayfleet/xrayfleet/internal/service"
)

// OutboxRepo persists the transactional outbox.
type OutboxRepo struct {
	q querier
}

// Store inserts one row per event inside the current transaction. Row ids
// are deterministic per (caused_by, event id), so replays of the same
// upstream message hit ON CONFLICT DO NOTHING.
func (r *OutboxRepo) Store(ctx context.Context, events []domain.Event, causedBy string) error {
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		id := domain.OutboxRecordID(causedBy, ev.ID)
		if _, err := r.q.Exec(ctx, `
			INSERT INTO outbox (id, caused_by, body)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, id, causedBy, body); err != nil {
			return err
		}
	}
	return nil
}

// ClaimBatch locks up to limit unfanned rows that are due and under the
// attempt cap, skipping rows other workers already hold.
func (r *OutboxRepo) ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]service.OutboxRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, caused_by, body, attempts
		FROM outbox
		WHERE fanned_out = FALSE
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

	var records []service.OutboxRecord
	for rows.Next() {
		var (
			id       uuid.UUID
			causedBy string
			body     []byte
			attempts int
		)
		if err := rows.Scan(&id, &causedBy, &body, &attempts); err != nil {
			return nil, err
		}
		rec := service.OutboxRecord{ID: id, CausedBy: causedBy, Attempts: attempts}
		rec.Event, rec.DecodeErr = domain.DecodeEvent(body)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkFannedOut finalizes a record after its delivery tasks exist.
func (r *OutboxRepo) MarkFannedOut(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE outbox
		SET fanned_out = TRUE, fanned_out_at = now(), attempts = attempts + 1
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed schedules the next fan-out attempt.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, next_attempt_at = $2
		WHERE id = $1
	`, id, nextAttemptAt)
	return err
}

// ExtractEvents decodes the bodies of the given rows, keyed by row id.
// Undecodable rows are logged and omitted; the delivery worker treats the
// miss as a skip and the task retries until its attempt cap parks it.
func (r *OutboxRepo) ExtractEvents(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Event, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, body FROM outbox WHERE id = ANY($1::uuid[])
	`, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make(map[uuid.UUID]domain.Event, len(ids))
	for rows.Next() {
		var (
			id   uuid.UUID
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		ev, err := domain.DecodeEvent(body)
		if err != nil {
			log.Error().Err(err).Str("outbox_id", id.String()).Msg("undecodable outbox body")
			continue
		}
		events[id] = ev
	}
	return events, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
