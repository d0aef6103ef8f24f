package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxArchiveConns     = 10
	minArchiveConns     = 1
	archiveConnIdleTime = 5 * time.Minute
)

// PostgresDB is the optional archive for completed research records and
// per-run logs.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB connects to the archive database and makes sure the tables it
// writes to exist.
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = maxArchiveConns
	poolConfig.MinConns = minArchiveConns
	poolConfig.MaxConnIdleTime = archiveConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &PostgresDB{Pool: pool}
	if err := db.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}
