package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Config controls the connection pool.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Connect opens a postgres pool and pings it to verify the connection.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}
