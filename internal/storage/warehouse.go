// Package storage defines the backend-agnostic warehouse contract used by the
// loader, plus a registry that maps a configured kind to a backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a warehouse.
//
// Edge cases:
//   - Kind must match a registered backend ("postgres", "sqlite", "mssql").
//   - DSN is passed through to the backend; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Warehouse is a connection to a star-schema database.
//
// A Warehouse is used by exactly one writer. Each source file is loaded
// inside its own Tx so that a failure leaves earlier files committed.
type Warehouse interface {
	// Close releases backend resources. Call it once, on every exit path.
	Close()

	// EnsureTables creates the given tables if they do not already exist.
	// Tables must be ordered so that referenced tables come first.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// DropTables drops the given tables if present, in reverse order.
	DropTables(ctx context.Context, tables []TableSpec) error

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one unit of durable work.
type Tx interface {
	// Upsert inserts row into spec's table, or replaces every non-key column
	// when a row with the same conflict key already exists. row is aligned to
	// spec.Columns; nil values are written as NULL.
	Upsert(ctx context.Context, spec TableSpec, row []any) error

	// LookupSong finds a catalog song by exact title, artist name and
	// duration. ok is false when nothing matches.
	LookupSong(ctx context.Context, q SongQuery) (m SongMatch, ok bool, err error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("storage: transaction already committed or rolled back")

// Factory opens a Warehouse for a backend.
type Factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is meant to be called
// from a backend package's init function.
//
// Panics:
//   - If kind is empty or f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Warehouse using the backend registered for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
