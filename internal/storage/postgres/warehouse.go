// Package postgres implements storage.Warehouse on PostgreSQL using a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkify/internal/storage"
)

func init() {
	storage.Register("postgres", Open)
}

// Warehouse is a pgxpool-backed storage.Warehouse.
type Warehouse struct {
	pool *pgxpool.Pool
}

// Open connects to cfg.DSN and verifies the connection with a ping.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Warehouse{pool: pool}, nil
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// EnsureTables runs CREATE TABLE IF NOT EXISTS for every spec, in order.
func (w *Warehouse) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := w.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DropTables drops tables in reverse order so dependents go first.
func (w *Warehouse) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := w.pool.Exec(ctx, buildDropSQL(tables[i].Name)); err != nil {
			return fmt.Errorf("postgres: drop table %s: %w", tables[i].Name, err)
		}
	}
	return nil
}

// Begin starts a transaction on a pooled connection.
func (w *Warehouse) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// pgxTx is the subset of pgx.Tx used here.
type pgxTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Tx is a storage.Tx over a pgx transaction.
type Tx struct {
	tx   pgxTx
	done bool
}

// Upsert runs INSERT ... ON CONFLICT DO UPDATE for one row.
func (t *Tx) Upsert(ctx context.Context, spec storage.TableSpec, row []any) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := spec.CheckRow(row); err != nil {
		return err
	}
	sql := buildUpsertSQL(spec)
	if _, err := t.tx.Exec(ctx, sql, row...); err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", spec.Name, err)
	}
	return nil
}

// LookupSong runs the catalog join and returns the first match.
func (t *Tx) LookupSong(ctx context.Context, q storage.SongQuery) (storage.SongMatch, bool, error) {
	if t.done {
		return storage.SongMatch{}, false, storage.ErrTxDone
	}
	var m storage.SongMatch
	err := t.tx.QueryRow(ctx, buildLookupSQL(), q.Title, q.Artist, q.Duration).Scan(&m.SongID, &m.ArtistID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.SongMatch{}, false, nil
	}
	if err != nil {
		return storage.SongMatch{}, false, fmt.Errorf("postgres: lookup song: %w", err)
	}
	return m, true, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	return t.tx.Commit(ctx)
}

// Rollback is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback(ctx)
}
