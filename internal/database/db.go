// Package database persists products and scrape runs in Postgres.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
}

func (c Config) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}

func New(ctx context.Context, cfg Config) (*DB, error) {
	return connect(ctx, cfg.dsn(), cfg)
}

// NewFromDSN connects with a raw connection string, pool defaults apply.
func NewFromDSN(ctx context.Context, dsn string) (*DB, error) {
	return connect(ctx, dsn, Config{})
}

func connect(ctx context.Context, dsn string, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// WithTx runs fn inside a transaction, rolling back on error.
func (db *DB) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Init creates the schema if it does not exist yet.
func (db *DB) Init(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS products (
			id           BIGSERIAL PRIMARY KEY,
			name         TEXT NOT NULL,
			price        DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency     TEXT NOT NULL DEFAULT 'EUR',
			availability TEXT NOT NULL DEFAULT 'Unknown',
			image_url    TEXT,
			source_url   TEXT NOT NULL,
			scraped_at   TIMESTAMPTZ NOT NULL,
			category     TEXT,
			rating       DOUBLE PRECISION,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_products_name ON products (name);

		CREATE TABLE IF NOT EXISTS scrape_runs (
			id                 UUID PRIMARY KEY,
			mode               TEXT NOT NULL,
			base_url           TEXT NOT NULL,
			max_pages          INT NOT NULL,
			status             TEXT NOT NULL,
			raw_count          INT NOT NULL DEFAULT 0,
			clean_count        INT NOT NULL DEFAULT 0,
			duplicates_removed INT NOT NULL DEFAULT 0,
			error_message      TEXT,
			started_at         TIMESTAMPTZ NOT NULL,
			finished_at        TIMESTAMPTZ
		);`

	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	return nil
}
