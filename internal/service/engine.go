package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/domain"
)

// EngineInfo is the upstream state report for one engine, parsed from the
// stream message payload. ID is substituted from the notification key.
type EngineInfo struct {
	ID      uuid.UUID
	Created time.Time
	Running bool
	UUID    *uuid.UUID
	Addr    string
}

// EngineService reconciles the engine aggregate from stream notifications
// and exposes the synchronous control actions. All mutations run inside one
// transaction together with their outbox append, so a commit means both the
// state change and its events are durable.
type EngineService struct {
	uow     UnitOfWork
	restart RestartClient
}

func NewEngineService(uow UnitOfWork, restart RestartClient) *EngineService {
	return &EngineService{uow: uow, restart: restart}
}

// Upsert reconciles a state report: first sighting inserts a READY
// aggregate, a DEAD aggregate is restored, anything else is a guarded
// update. Safe under retry: replays with the same version are no-ops and
// outbox ids are deterministic per (causedBy, event).
func (s *EngineService) Upsert(ctx context.Context, info EngineInfo, causedBy string, version domain.Version) error {
	return s.uow.InTx(ctx, func(ctx context.Context, g Gateways) error {
		engine, err := g.Engines.GetForUpdate(ctx, info.ID)
		if err != nil {
			return err
		}

		switch {
		case engine == nil:
			engine = domain.NewEngine(info.ID, info.UUID, info.Created, info.Addr, version)
		case engine.Status == domain.StatusDead:
			engine.Restore(info.Running, info.UUID, version)
		default:
			engine.Update(info.Running, info.UUID, version)
		}

		return s.save(ctx, g, engine, causedBy)
	})
}

// MarkDead transitions an engine to DEAD after its upstream key expired.
func (s *EngineService) MarkDead(ctx context.Context, id uuid.UUID, causedBy string, version domain.Version) error {
	return s.uow.InTx(ctx, func(ctx context.Context, g Gateways) error {
		engine, err := g.Engines.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if engine == nil {
			return &EngineNotExistError{ID: id}
		}

		engine.MarkDead(version)
		return s.save(ctx, g, engine, causedBy)
	})
}

func (s *EngineService) save(ctx context.Context, g Gateways, engine *domain.Engine, causedBy string) error {
	changed, err := g.Engines.Save(ctx, engine)
	if err != nil {
		return err
	}
	if !changed {
		// Stale duplicate: the row already carries the same or a newer
		// version. Drop the buffered events with it.
		engine.PullEvents()
		return nil
	}

	events := engine.PullEvents()
	if len(events) == 0 {
		return nil
	}
	return g.Outbox.Store(ctx, events, causedBy)
}

// Restart asks a live engine to restart itself with the given access key.
// The DB is consulted read-only for the address; business conflicts surface
// to the caller.
func (s *EngineService) Restart(ctx context.Context, id, key uuid.UUID) error {
	if s.restart == nil {
		return errors.New("restart client is not configured")
	}
	engine, err := s.uow.Plain().Engines.Get(ctx, id)
	if err != nil {
		return err
	}
	if engine == nil {
		return &EngineNotExistError{ID: id}
	}
	if engine.Status == domain.StatusDead {
		return &EngineDeadError{ID: id}
	}

	log.Info().Str("engine_id", id.String()).Str("addr", engine.Addr).Msg("restarting engine")
	return s.restart.Restart(ctx, key, engine.Addr)
}

// RemoveDead garbage-collects DEAD rows. Admin action.
func (s *EngineService) RemoveDead(ctx context.Context) (int64, error) {
	return s.uow.Plain().Engines.RemoveDead(ctx)
}
