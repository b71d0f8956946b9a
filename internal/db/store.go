// Package db is the thin data-access facade over Postgres. It hides SQL
// from every other package: outside db and its tests, pgx is imported
// only for the pgx.Tx handle that WithTx passes to its callback.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool with typed operations for every
// table in spec.md §6's schema.
type Store struct {
	Pool *pgxpool.Pool
}

// New opens a connection pool against conn (a Postgres URL).
func New(ctx context.Context, conn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

// Close releases the pool. Safe to call once during graceful shutdown.
func (s *Store) Close() {
	s.Pool.Close()
}

// querier is the query method set shared by *pgxpool.Pool and pgx.Tx.
// The Store methods do not take a querier: each one either takes a
// pgx.Tx from WithTx or runs on Pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. The Enqueuer and Dispatcher both rely
// on this for their single-transaction admission and claim semantics.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, the signal the IdempotencyGuard and Enqueuer use to detect
// a lost race against a concurrent insert.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// ErrNotFound is returned by single-row lookups that find no row.
var ErrNotFound = errors.New("db: not found")

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
