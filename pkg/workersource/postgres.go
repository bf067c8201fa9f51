package workersource

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresWorkerSource reads the worker address list from a "workers" table
// via a small bounded connection pool, queried once at startup.
type PostgresWorkerSource struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL with a pool capped at 5 connections.
// This source is queried once at startup, never under sustained load.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresWorkerSource, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("workersource: invalid database url: %w", err)
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("workersource: failed to open pool: %w", err)
	}
	return &PostgresWorkerSource{pool: pool}, nil
}

// ListWorkers runs the single worker_address query and returns the result
// set in row order.
func (p *PostgresWorkerSource) ListWorkers(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, "SELECT worker_address FROM workers")
	if err != nil {
		return nil, fmt.Errorf("workersource: query failed: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("workersource: scan failed: %w", err)
		}
		addrs = append(addrs, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workersource: row iteration failed: %w", err)
	}
	return addrs, nil
}

// Close releases the underlying connection pool.
func (p *PostgresWorkerSource) Close() {
	p.pool.Close()
}
