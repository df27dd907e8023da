// Package sqlite implements storage.Warehouse on SQLite via modernc.org/sqlite.
//
// SQLite has no native timestamp type, so timestamps are written as
// RFC3339Nano UTC text. Foreign keys are enforced with PRAGMA foreign_keys.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sparkify/internal/storage"
)

func init() {
	storage.Register("sqlite", Open)
}

// Warehouse is a storage.Warehouse over a single SQLite connection.
type Warehouse struct {
	db *sql.DB
}

// Open opens cfg.DSN (a file path, "file:" URI or ":memory:").
//
// The pool is pinned to one connection: an in-memory database lives only as
// long as its connection, and SQLite allows a single writer anyway.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	return OpenWarehouse(ctx, cfg.DSN)
}

// OpenWarehouse is Open with a concrete return type.
func OpenWarehouse(ctx context.Context, dsn string) (*Warehouse, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Warehouse{db: db}, nil
}

// DB exposes the underlying handle for inspection. Do not use it while a Tx
// is open: the pool has a single connection.
func (w *Warehouse) DB() *sql.DB { return w.db }

func (w *Warehouse) Close() { _ = w.db.Close() }

func (w *Warehouse) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (w *Warehouse) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i].Name
		if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(name)); err != nil {
			return fmt.Errorf("sqlite: drop table %s: %w", name, err)
		}
	}
	return nil
}

func (w *Warehouse) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is a storage.Tx over a database/sql transaction.
type Tx struct {
	tx   *sql.Tx
	done bool
}

func (t *Tx) Upsert(ctx context.Context, spec storage.TableSpec, row []any) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := spec.CheckRow(row); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, buildUpsertSQL(spec), bindArgs(row)...); err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", spec.Name, err)
	}
	return nil
}

func (t *Tx) LookupSong(ctx context.Context, q storage.SongQuery) (storage.SongMatch, bool, error) {
	if t.done {
		return storage.SongMatch{}, false, storage.ErrTxDone
	}
	var m storage.SongMatch
	err := t.tx.QueryRowContext(ctx, buildLookupSQL(), q.Title, q.Artist, q.Duration).Scan(&m.SongID, &m.ArtistID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SongMatch{}, false, nil
	}
	if err != nil {
		return storage.SongMatch{}, false, fmt.Errorf("sqlite: lookup song: %w", err)
	}
	return m, true, nil
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// bindArgs converts time.Time values to their stored text form.
func bindArgs(row []any) []any {
	args := make([]any, len(row))
	for i, v := range row {
		if ts, ok := v.(time.Time); ok {
			args[i] = formatSQLiteTime(ts)
			continue
		}
		args[i] = v
	}
	return args
}
