// Package store provides transactional persistence for applications, api
// keys and tasks on PostgreSQL. It owns the atomic claim that guarantees
// at-most-one performer per (task, retry_count) and the guarded updates
// used for terminal transitions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/model"
)

// ErrNotFound is returned when a lookup misses, or when a guarded update
// matched zero rows because another worker advanced the task first.
var ErrNotFound = errors.New("store: not found")

// Store mediates all database access. Task due dates and statuses are
// recomputed through the policy on every write, so the invariant that a
// task's due instant is always in the future holds on every update path.
type Store struct {
	db     *sqlx.DB
	policy *model.DuePolicy
	log    zerolog.Logger
}

// New wraps an open database handle.
func New(db *sqlx.DB, policy *model.DuePolicy) *Store {
	return &Store{db: db, policy: policy, log: logger.Component("store")}
}

// DB exposes the underlying handle, for migrations and tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Connect opens a postgres connection and pings it until it responds,
// backing off exponentially for up to 30 seconds. Bootstrapping services
// race their database in most deployments, so a cold start is expected.
func Connect(ctx context.Context, databaseURL string, policy *model.DuePolicy) (*Store, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	log := logger.Component("store")
	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(30*time.Second)), ctx)
	ping := func() error {
		if err := db.PingContext(ctx); err != nil {
			log.Warn().Err(err).Msg("Database not ready, retrying")
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, bo); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return New(db, policy), nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
