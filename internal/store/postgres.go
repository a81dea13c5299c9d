package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the account table backing PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Transactions take a transaction-scoped advisory lock per account key, so
// serialization holds across every engine instance sharing the database.
type PostgresStore struct {
	AccountStore
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		AccountStore: AccountStore{b: &pgBackend{pool: pool}},
		pool:         pool,
	}
}

// Migrate creates the account table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}
	return nil
}

type pgBackend struct {
	pool *pgxpool.Pool
}

func (b *pgBackend) begin(ctx context.Context, keys []string) (txn, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	for _, k := range sortedUnique(keys) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
	}
	return &pgTxn{tx: tx}, nil
}

func (b *pgBackend) get(ctx context.Context, key string) ([]byte, error) {
	return getAccount(ctx, b.pool, key)
}

func (b *pgBackend) scan(ctx context.Context, prefix string) ([][]byte, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT data::TEXT FROM accounts WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		values = append(values, []byte(data))
	}
	return values, rows.Err()
}

func (b *pgBackend) close() error {
	b.pool.Close()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAccount(ctx context.Context, q querier, key string) ([]byte, error) {
	var data string
	err := q.QueryRow(ctx, `SELECT data::TEXT FROM accounts WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

type pgTxn struct {
	tx pgx.Tx
}

func (t *pgTxn) get(ctx context.Context, key string) ([]byte, error) {
	return getAccount(ctx, t.tx, key)
}

func (t *pgTxn) commit(ctx context.Context, puts map[string][]byte, dels []string) error {
	keys := make([]string, 0, len(puts))
	for k := range puts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO accounts (key, data, updated_at) VALUES ($1, $2::JSONB, now())
			 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			k, string(puts[k])); err != nil {
			_ = t.tx.Rollback(ctx)
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	for _, k := range dels {
		if _, err := t.tx.Exec(ctx, `DELETE FROM accounts WHERE key = $1`, k); err != nil {
			_ = t.tx.Rollback(ctx)
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return t.tx.Commit(ctx)
}

func (t *pgTxn) rollback(ctx context.Context) {
	_ = t.tx.Rollback(ctx)
}
