// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"qms/internal/store"
)

// outboxLockKey serializes outbox writers so that seq order matches commit
// order; the relay reads strictly after its last seq.
const outboxLockKey = 0x716d730001

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool to dsn and checks it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewStore(pool), nil
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	s.pool.Close()
}

// View runs fn in a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(&conn{q: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit(ctx))
}

// Update runs fn in a read-committed transaction. Single-row reads of
// counters and tickets take row locks, so read-modify-write units on the
// same counter or ticket run one after another.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(&conn{q: tx, locking: true}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q       querier
	locking bool
}

var _ store.Tx = (*conn)(nil)

func (c *conn) forUpdate() string {
	if c.locking {
		return " FOR UPDATE"
	}
	return ""
}

func (c *conn) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// mapError turns driver errors into store sentinels where callers act on them.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23505":
		switch pgErr.ConstraintName {
		case "users_email_key":
			return store.ErrUserExists
		case "service_categories_queue_id_prefix_key":
			return store.ErrDuplicatePrefix
		}
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	case "23503", "23514", "22P02":
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.Message)
	}
	return err
}

// notFound maps an empty result to sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return mapError(err)
}

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func statusesArg(statuses []string) any {
	if len(statuses) == 0 {
		return nil
	}
	return statuses
}
