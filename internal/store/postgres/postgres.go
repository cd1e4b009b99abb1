// Package postgres implements store.Store on PostgreSQL via lib/pq.
//
// Conditional status transitions are plain UPDATE ... WHERE statements
// checked through RowsAffected, so every claim is a single round trip
// and races resolve inside the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	db *sql.DB
}

// New wraps an existing connection pool. Tests pass a sqlmock DB here.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &Store{db: db}, nil
}

// DB exposes the underlying pool for advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id                   TEXT PRIMARY KEY,
			name                 TEXT NOT NULL DEFAULT '',
			subject              TEXT NOT NULL DEFAULT '',
			body                 TEXT NOT NULL DEFAULT '',
			recipients           TEXT[] NOT NULL DEFAULT '{}',
			sender_ids           TEXT[] NOT NULL DEFAULT '{}',
			status               TEXT NOT NULL DEFAULT 'scheduled',
			send_at              TIMESTAMPTZ NOT NULL,
			timezone             TEXT NOT NULL DEFAULT 'UTC',
			next_recipient_index INT NOT NULL DEFAULT 0,
			last_sent_at         TIMESTAMPTZ,
			sent_count           INT NOT NULL DEFAULT 0,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_due
			ON campaigns (send_at) WHERE status = 'scheduled'`,
		`CREATE TABLE IF NOT EXISTS sender_accounts (
			id          TEXT PRIMARY KEY,
			host        TEXT NOT NULL,
			port        INT NOT NULL DEFAULT 587,
			username    TEXT NOT NULL DEFAULT '',
			password    TEXT NOT NULL DEFAULT '',
			from_name   TEXT NOT NULL DEFAULT '',
			from_email  TEXT NOT NULL DEFAULT '',
			daily_limit INT NOT NULL DEFAULT 0,
			sent_today  INT NOT NULL DEFAULT 0,
			last_reset  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS recipient_profiles (
			email      TEXT PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			last_name  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS suppressions (
			email      TEXT PRIMARY KEY,
			reason     TEXT NOT NULL DEFAULT 'manual',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
