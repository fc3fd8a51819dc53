package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
)

// ConnectOptions tune Connect.
type ConnectOptions struct {
	MaxOpenConns int
	// MaxWait bounds how long Connect keeps retrying an unreachable server.
	MaxWait time.Duration
}

// Connect opens a pool and pings it, retrying with exponential backoff while
// the server is not reachable yet.
func Connect(ctx context.Context, dsn string, opts ConnectOptions, logger logr.Logger) (*sqlx.DB, error) {
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Minute
	}

	db, err := backoff.Retry(ctx, func() (*sqlx.DB, error) {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return nil, err
		}
		return db, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(opts.MaxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Info("database not reachable, retrying", "error", err.Error(), "in", next.String())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}
