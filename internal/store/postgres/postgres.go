// Package postgres implements store.Store on PostgreSQL.
//
// Transactions run at READ COMMITTED and serialize with explicit row locks:
// LockJob selects the job FOR UPDATE and LockUser upserts and locks the user's
// balance row. Unique partial indexes back the one-entry-per-job-attempt and
// one-entry-per-payment rules, and a check constraint keeps balance_after
// non-negative even if application code is wrong.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/payment"
	"github.com/maauso/autocut-api/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for dsn and checks it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// InTx runs fn in a READ COMMITTED transaction and commits if it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}

// FindByID returns a committed job.
func (s *Store) FindByID(ctx context.Context, id string) (*job.Job, error) {
	return findJob(ctx, s.pool, id, false)
}

// ListByUser returns the user's jobs, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, selectJob+` WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Entries returns the user's ledger ordered by seq.
func (s *Store) Entries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, selectEntry+` WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Account returns the cached balance record.
func (s *Store) Account(ctx context.Context, userID string) (balance.Account, error) {
	return getAccount(ctx, s.pool, userID)
}

// Payment returns a payment by external id.
func (s *Store) Payment(ctx context.Context, externalID string) (*payment.Payment, error) {
	return findPayment(ctx, s.pool, externalID)
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateEntry, pgErr.ConstraintName)
		case codeCheckViolation:
			if pgErr.TableName == "ledger_entries" || pgErr.TableName == "user_balances" {
				return fmt.Errorf("%w: %s", ledger.ErrInsufficientFunds, pgErr.ConstraintName)
			}
		}
	}
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
