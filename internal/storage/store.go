package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xrayfleet/xrayfleet/internal/db"
	"github.com/xrayfleet/xrayfleet/internal/service"
)

// querier is the subset of pgx shared by pools and transactions; every
// repository runs against it so the same code serves autocommit sessions
// and units of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements service.UnitOfWork on top of the two connection pools.
type Store struct {
	pools *db.Pools
}

func New(pools *db.Pools) *Store {
	return &Store{pools: pools}
}

func gateways(q querier) service.Gateways {
	return service.Gateways{
		Engines:       &EngineRepo{q: q},
		Outbox:        &OutboxRepo{q: q},
		Tasks:         &TaskRepo{q: q},
		Subscriptions: &SubscriptionRepo{q: q},
	}
}

// Plain returns gateways bound to the autocommit pool.
func (s *Store) Plain() service.Gateways {
	return gateways(s.pools.Plain)
}

// InTx runs fn inside one transaction on the tx pool. Commit and rollback
// run on a cancellation-shielded context: once finalization starts it
// completes even if the caller was cancelled mid-flight, so sessions are
// never left half-closed.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, g service.Gateways) error) error {
	tx, err := s.pools.Tx.Begin(ctx)
	if err != nil {
		return err
	}

	done := context.WithoutCancel(ctx)
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(done)
	}()

	if err := fn(ctx, gateways(tx)); err != nil {
		return err
	}
	return tx.Commit(done)
}
