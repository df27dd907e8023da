package storage

import (
	"fmt"
	"strings"
)

// ColumnType is a dialect-neutral column type. Each backend maps it to a
// concrete SQL type.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInt       ColumnType = "int"
	TypeBigInt    ColumnType = "bigint"
	TypeNumeric   ColumnType = "numeric"
	TypeDouble    ColumnType = "double"
	TypeTimestamp ColumnType = "timestamp"
)

// Referential actions for foreign keys.
const (
	ActionCascade  = "CASCADE"
	ActionNoAction = "NO ACTION"
)

type TableSpec struct {
	Name        string
	Columns     []ColumnSpec
	PrimaryKey  []string
	ForeignKeys []ForeignKeySpec

	// Conflict is the upsert conflict target. Empty means PrimaryKey.
	Conflict []string
}

type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

type ForeignKeySpec struct {
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   string
	OnUpdate   string
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ConflictColumns returns the columns that identify a row for upserts.
func (t TableSpec) ConflictColumns() []string {
	if len(t.Conflict) > 0 {
		return t.Conflict
	}
	return t.PrimaryKey
}

// UpdateColumns returns the columns overwritten when an upsert hits an
// existing row: every column outside the conflict target.
func (t TableSpec) UpdateColumns() []string {
	key := make(map[string]bool, len(t.ConflictColumns()))
	for _, c := range t.ConflictColumns() {
		key[c] = true
	}
	var out []string
	for _, c := range t.Columns {
		if !key[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

// Validate checks that the spec is internally consistent.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%s: no columns", t.Name)
	}
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%s: column name is empty", t.Name)
		}
		if c.Type == "" {
			return fmt.Errorf("%s.%s: column type is empty", t.Name, c.Name)
		}
		if cols[c.Name] {
			return fmt.Errorf("%s.%s: duplicate column", t.Name, c.Name)
		}
		cols[c.Name] = true
	}
	for _, k := range t.ConflictColumns() {
		if !cols[k] {
			return fmt.Errorf("%s: key column %q not declared", t.Name, k)
		}
	}
	if len(t.ConflictColumns()) == 0 {
		return fmt.Errorf("%s: no primary key or conflict target", t.Name)
	}
	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) || fk.RefTable == "" {
			return fmt.Errorf("%s: malformed foreign key %v -> %s%v", t.Name, fk.Columns, fk.RefTable, fk.RefColumns)
		}
		for _, c := range fk.Columns {
			if !cols[c] {
				return fmt.Errorf("%s: foreign key column %q not declared", t.Name, c)
			}
		}
	}
	return nil
}

// CheckRow verifies that row lines up with spec's columns and that every
// NOT NULL column has a value.
func (t TableSpec) CheckRow(row []any) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("%s: row has %d values, want %d", t.Name, len(row), len(t.Columns))
	}
	for i, c := range t.Columns {
		if !c.Nullable && row[i] == nil {
			return fmt.Errorf("%s.%s: null value in NOT NULL column", t.Name, c.Name)
		}
	}
	return nil
}

// Catalog names joined by Tx.LookupSong.
const (
	SongsTable   = "songs"
	ArtistsTable = "artists"
)

// SongQuery is the exact-match key of a catalog lookup. No case folding or
// whitespace trimming is applied.
type SongQuery struct {
	Title    string
	Artist   string
	Duration float64
}

// SongMatch carries the identifiers found by a lookup.
type SongMatch struct {
	SongID   string
	ArtistID string
}
