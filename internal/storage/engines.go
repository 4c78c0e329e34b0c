package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xrayfleet/xrayfleet/internal/domain"
)

// EngineRepo persists the engine aggregate.
type EngineRepo struct {
	q querier
}

const engineColumns = `id, uuid, status, created, addr, version_ts, version_seq`

func scanEngine(row pgx.Row) (*domain.Engine, error) {
	var (
		id      uuid.UUID
		key     uuid.NullUUID
		status  string
		created time.Time
		addr    string
		ts      int64
		seq     int64
	)
	if err := row.Scan(&id, &key, &status, &created, &addr, &ts, &seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	engine := &domain.Engine{
		ID:      id,
		Status:  domain.Status(status),
		Created: created,
		Addr:    addr,
		Version: domain.Version{Ts: uint64(ts), Seq: uint32(seq)},
	}
	if key.Valid {
		k := key.UUID
		engine.UUID = &k
	}
	return engine, nil
}

// Get reads a snapshot without any lock. Returns nil when absent.
func (r *EngineRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Engine, error) {
	return scanEngine(r.q.QueryRow(ctx,
		`SELECT `+engineColumns+` FROM engines WHERE id = $1`, id))
}

// GetForUpdate reads a snapshot holding a row-level write lock for the
// remainder of the current transaction, serializing concurrent mutations
// of the same aggregate.
func (r *EngineRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Engine, error) {
	return scanEngine(r.q.QueryRow(ctx,
		`SELECT `+engineColumns+` FROM engines WHERE id = $1 FOR UPDATE`, id))
}

// Save is the idempotent upsert. A single statement so concurrent saves
// serialize at the row level: insert when absent, update only when the
// stored (version_ts, version_seq) is strictly older. addr and created are
// immutable after insert.
func (r *EngineRepo) Save(ctx context.Context, e *domain.Engine) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO engines (id, uuid, status, created, addr, version_ts, version_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			uuid        = EXCLUDED.uuid,
			status      = EXCLUDED.status,
			version_ts  = EXCLUDED.version_ts,
			version_seq = EXCLUDED.version_seq
		WHERE (engines.version_ts, engines.version_seq) < (EXCLUDED.version_ts, EXCLUDED.version_seq)
	`, e.ID, e.UUID, string(e.Status), e.Created, e.Addr, int64(e.Version.Ts), int64(e.Version.Seq))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveDead bulk-deletes DEAD rows. Admin garbage collection.
func (r *EngineRepo) RemoveDead(ctx context.Context) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM engines WHERE status = $1`, string(domain.StatusDead))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// List returns engines for the admin surface, optionally filtered by
// status, newest first.
func (r *EngineRepo) List(ctx context.Context, status string) ([]*domain.Engine, error) {
	sql := `SELECT ` + engineColumns + ` FROM engines`
	args := []any{}
	if status != "" {
		sql += ` WHERE status = $1`
		args = append(args, status)
	}
	sql += ` ORDER BY created DESC`

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var engines []*domain.Engine
	for rows.Next() {
		engine, err := scanEngine(rows)
		if err != nil {
			return nil, err
		}
		engines = append(engines, engine)
	}
	return engines, rows.Err()
}
