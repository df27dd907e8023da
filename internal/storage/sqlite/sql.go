package sqlite

import (
	"fmt"
	"strings"

	"sparkify/internal/storage"
)

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	q := make([]string, len(columns))
	for i, c := range columns {
		q[i] = sqlIdent(c)
	}
	return strings.Join(q, ", ")
}

// sqliteType maps a column type onto SQLite type affinity. Timestamps are TEXT.
func sqliteType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeInt, storage.TypeBigInt:
		return "INTEGER", nil
	case storage.TypeNumeric:
		return "NUMERIC", nil
	case storage.TypeDouble:
		return "REAL", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", t)
	}
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	var parts []string
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		col := sqlIdent(c.Name) + " " + typ
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			joinIdentList(fk.Columns), sqlIdent(fk.RefTable), joinIdentList(fk.RefColumns))
		if fk.OnDelete != "" {
			def += " ON DELETE " + fk.OnDelete
		}
		if fk.OnUpdate != "" {
			def += " ON UPDATE " + fk.OnUpdate
		}
		parts = append(parts, def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// buildUpsertSQL renders INSERT ... ON CONFLICT (...) DO UPDATE SET c = excluded.c.
func buildUpsertSQL(t storage.TableSpec) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(t.Name))
	b.WriteString(" (")
	b.WriteString(joinIdentList(t.ColumnNames()))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", "))
	b.WriteString(") ON CONFLICT (")
	b.WriteString(joinIdentList(t.ConflictColumns()))
	b.WriteString(")")

	upd := t.UpdateColumns()
	if len(upd) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}
	b.WriteString(" DO UPDATE SET ")
	for i, c := range upd {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", sqlIdent(c), sqlIdent(c))
	}
	return b.String()
}

func buildLookupSQL() string {
	return fmt.Sprintf(
		`SELECT s."song_id", s."artist_id" FROM %s s JOIN %s a ON s."artist_id" = a."artist_id" `+
			`WHERE s."title" = ? AND a."name" = ? AND s."duration" = ? ORDER BY s."song_id" LIMIT 1`,
		sqlIdent(storage.SongsTable), sqlIdent(storage.ArtistsTable),
	)
}
