package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/domain"
)

// engineEventTypes are the outbox event types the relay knows how to fan
// out. Anything else terminates the iteration with an error so the gap is
// loud instead of silently skipped.
var engineEventTypes = map[string]struct{}{
	domain.EventTypeEngineUpdated:  {},
	domain.EventTypeEngineDead:     {},
	domain.EventTypeEngineRestored: {},
}

// RelayService drains the outbox: it claims unfanned records, runs the
// fan-out planner and marks each record fanned or retry-backed-off, all in
// one transaction.
type RelayService struct {
	uow         UnitOfWork
	planner     FanoutPlanner
	batch       int
	maxAttempts int
	now         func() time.Time
}

func NewRelayService(uow UnitOfWork, batch, maxAttempts int) *RelayService {
	return &RelayService{
		uow:         uow,
		batch:       batch,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch runs one relay iteration and reports the number of claimed
// records. An UnhandledEventTypeError is returned after the transaction
// commits, so marks for the handled partition are never lost.
func (s *RelayService) ProcessBatch(ctx context.Context) (int, error) {
	var (
		claimed   int
		unhandled []string
	)

	err := s.uow.InTx(ctx, func(ctx context.Context, g Gateways) error {
		records, err := g.Outbox.ClaimBatch(ctx, s.batch, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(records)
		if claimed == 0 {
			return nil
		}

		var engineRecs []OutboxRecord
		for _, rec := range records {
			if rec.DecodeErr != nil {
				log.Error().Err(rec.DecodeErr).Str("outbox_id", rec.ID.String()).Msg("undecodable outbox record")
				unhandled = append(unhandled, "undecodable:"+rec.ID.String())
				continue
			}
			if _, ok := engineEventTypes[rec.Event.Type]; !ok {
				unhandled = append(unhandled, rec.Event.Type)
				continue
			}
			engineRecs = append(engineRecs, rec)
		}

		if len(engineRecs) == 0 {
			return nil
		}

		if err := s.planner.PlanEngineDeliveries(ctx, g, engineRecs); err != nil {
			log.Error().Err(err).Int("records", len(engineRecs)).Msg("fan-out failed, backing off batch")
			for _, rec := range engineRecs {
				next := s.now().Add(time.Duration(rec.Attempts+1) * time.Duration(rec.Attempts+1) * time.Second)
				if markErr := g.Outbox.MarkFailed(ctx, rec.ID, next); markErr != nil {
					return markErr
				}
			}
			return nil
		}

		for _, rec := range engineRecs {
			if err := g.Outbox.MarkFannedOut(ctx, rec.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return claimed, err
	}

	if len(unhandled) > 0 {
		return claimed, &UnhandledEventTypeError{Types: unhandled}
	}
	return claimed, nil
}
