// Package mssql implements storage.Warehouse on Microsoft SQL Server.
//
// Upserts are rendered as MERGE ... WITH (HOLDLOCK) so the existence check
// and the write happen under one key-range lock.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"sparkify/internal/storage"
)

func init() {
	storage.Register("mssql", Open)
}

// Warehouse is a storage.Warehouse over database/sql and the "sqlserver" driver.
type Warehouse struct {
	db dbConn
}

// Open validates cfg.DSN, connects and pings.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql: dsn: %w", err)
	}
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	// One writer; a second connection is only ever used for DDL.
	raw.SetMaxOpenConns(2)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Warehouse{db: &sqlDB{db: raw}}, nil
}

func (w *Warehouse) Close() {
	if w == nil || w.db == nil {
		return
	}
	_ = w.db.Close()
}

// EnsureTables creates missing tables in order.
//
// SQL Server rejects a foreign key whose cascade would reach a table that is
// already reachable through another cascading key of the same table, so such
// keys are created with NO ACTION instead.
func (w *Warehouse) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	reach := map[string]map[string]bool{}
	for _, t := range tables {
		fks, covered := resolveCascades(t, reach)
		reach[t.Name] = covered
		t.ForeignKeys = fks

		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (w *Warehouse) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := w.db.ExecContext(ctx, buildDropSQL(tables[i].Name)); err != nil {
			return fmt.Errorf("mssql: drop table %s: %w", tables[i].Name, err)
		}
	}
	return nil
}

func (w *Warehouse) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is a storage.Tx over a SQL Server transaction.
type Tx struct {
	tx   txConn
	done bool
}

func (t *Tx) Upsert(ctx context.Context, spec storage.TableSpec, row []any) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := spec.CheckRow(row); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, buildMergeSQL(spec), row...); err != nil {
		return fmt.Errorf("mssql: merge %s: %w", spec.Name, err)
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
		return storage.SongMatch{}, false, fmt.Errorf("mssql: lookup song: %w", err)
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

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error   { return s.tx.Commit() }
func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
