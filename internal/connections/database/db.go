package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"station-system/internal/config"
)

const (
	maxRetries = 10
	retryDelay = 2 * time.Second
	pingTTL    = 5 * time.Second
)

// Connect opens a pgx pool and waits until the server answers a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	op := func() error {
		p, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, pingTTL)
		defer cancel()
		if err := p.Ping(pctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", maxRetries, err)
	}
	return pool, nil
}
