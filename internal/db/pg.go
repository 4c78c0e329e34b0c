package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Pools carries the two PostgreSQL connection pools every process owns:
// Plain serves autocommit reads and single-row marks, Tx serves
// unit-of-work transactions. Keeping them separate stops cheap autocommit
// reads from queueing behind long transactions.
type Pools struct {
	Plain *pgxpool.Pool
	Tx    *pgxpool.Pool
}

// Open creates both PostgreSQL connection pools and verifies connectivity.
func Open(ctx context.Context, url string) (*Pools, error) {
	plain, err := open(ctx, url, "plain")
	if err != nil {
		return nil, err
	}
	tx, err := open(ctx, url, "tx")
	if err != nil {
		plain.Close()
		return nil, err
	}
	return &Pools{Plain: plain, Tx: tx}, nil
}

// Close tears down both pools.
func (p *Pools) Close() {
	p.Tx.Close()
	p.Plain.Close()
}

func open(ctx context.Context, url, kind string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	// Connection pool configuration
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("pool", kind).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}
