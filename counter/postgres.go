package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps counters in a "counters" table, one row per key.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Backend = (*Postgres)(nil)

// DialPostgres opens a pool on dsn and creates the table when missing.
func DialPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS counters (
			key TEXT PRIMARY KEY,
			n BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("ensure counters table: %w", err)
	}
	return nil
}

func (p *Postgres) Incr(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO counters (key, n, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (key) DO UPDATE SET
			n = counters.n + 1,
			updated_at = NOW()
	`, key)
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `SELECT n FROM counters WHERE key = $1`, key).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
