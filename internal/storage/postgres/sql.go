package postgres

import (
	"fmt"
	"strings"

	"sparkify/internal/storage"
)

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgTableIdent quotes a possibly schema-qualified name ("public.songs").
func pgTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = pgIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func pgIdentList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = pgIdent(c)
	}
	return strings.Join(q, ", ")
}

func pgType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeInt:
		return "INT", nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeNumeric:
		return "NUMERIC", nil
	case storage.TypeDouble:
		return "DOUBLE PRECISION", nil
	case storage.TypeTimestamp:
		return "TIMESTAMP", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", t)
	}
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS with the composite
// primary key and foreign keys declared in t.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	var parts []string
	for _, c := range t.Columns {
		typ, err := pgType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		def := pgIdent(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", pgIdentList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			pgIdentList(fk.Columns), pgTableIdent(fk.RefTable), pgIdentList(fk.RefColumns))
		if fk.OnDelete != "" {
			def += " ON DELETE " + fk.OnDelete
		}
		if fk.OnUpdate != "" {
			def += " ON UPDATE " + fk.OnUpdate
		}
		parts = append(parts, def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgTableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildDropSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", pgTableIdent(table))
}

// buildUpsertSQL renders a single-row upsert with $n placeholders:
//
//	INSERT INTO t (a, b, c) VALUES ($1, $2, $3)
//	ON CONFLICT (a) DO UPDATE SET b = EXCLUDED.b, c = EXCLUDED.c
func buildUpsertSQL(t storage.TableSpec) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(t.Name))
	b.WriteString(" (")
	b.WriteString(pgIdentList(t.ColumnNames()))
	b.WriteString(") VALUES (")
	for i := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") ON CONFLICT (")
	b.WriteString(pgIdentList(t.ConflictColumns()))
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
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	return b.String()
}

func buildLookupSQL() string {
	return fmt.Sprintf(
		`SELECT s."song_id", s."artist_id" FROM %s s JOIN %s a ON s."artist_id" = a."artist_id" `+
			`WHERE s."title" = $1 AND a."name" = $2 AND s."duration" = $3 ORDER BY s."song_id" LIMIT 1`,
		pgTableIdent(storage.SongsTable), pgTableIdent(storage.ArtistsTable),
	)
}
