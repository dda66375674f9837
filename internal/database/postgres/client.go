// Package postgres provides the PostgreSQL mint history store.
// Every submission outcome is appended here; the minter never reads it back.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// EnsureSchema creates the mints table if it does not exist
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

const schema = `
CREATE TABLE IF NOT EXISTS mints (
	id               BIGSERIAL PRIMARY KEY,
	miner            TEXT        NOT NULL,
	round            NUMERIC(20) NOT NULL,
	secret           NUMERIC(20) NOT NULL,
	digest           TEXT        NOT NULL,
	threshold        NUMERIC(78),
	prev_hash        TEXT,
	tx_hash          TEXT,
	block_number     BIGINT,
	gas_used         BIGINT,
	accepted         BOOLEAN     NOT NULL,
	rejection_reason TEXT,
	trials           NUMERIC(20),
	search_ms        BIGINT,
	last_minted_at   BIGINT,
	delta_t          BIGINT,
	new_balance      NUMERIC(78),
	submitted_at     TIMESTAMPTZ,
	confirmed_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS mints_miner_created_idx ON mints (miner, created_at DESC);
`
