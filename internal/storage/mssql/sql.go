package mssql

import (
	"fmt"
	"strings"

	"sparkify/internal/storage"
)

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes schema-qualified names: "dbo.songs" -> [dbo].[songs].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func mssqlIdentList(cols []string, prefix string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(q, ", ")
}

// mssqlType maps a column type. Text columns taking part in a key are
// bounded so they can be indexed.
func mssqlType(t storage.ColumnType, keyed bool) (string, error) {
	switch t {
	case storage.TypeText:
		if keyed {
			return "NVARCHAR(450)", nil
		}
		return "NVARCHAR(MAX)", nil
	case storage.TypeInt:
		return "INT", nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeNumeric, storage.TypeDouble:
		return "FLOAT", nil
	case storage.TypeTimestamp:
		return "DATETIME2(3)", nil
	default:
		return "", fmt.Errorf("mssql: unsupported column type %q", t)
	}
}

// keyedColumns returns every column used by the primary key, the conflict
// target or a foreign key.
func keyedColumns(t storage.TableSpec) map[string]bool {
	out := map[string]bool{}
	for _, c := range t.PrimaryKey {
		out[c] = true
	}
	for _, c := range t.ConflictColumns() {
		out[c] = true
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			out[c] = true
		}
	}
	return out
}

// resolveCascades downgrades cascading foreign keys that would open a second
// cascade path to a table. reach maps each created table to the tables its
// own cascades reach. It returns the adjusted keys and t's reach set.
func resolveCascades(t storage.TableSpec, reach map[string]map[string]bool) ([]storage.ForeignKeySpec, map[string]bool) {
	covered := map[string]bool{}
	out := make([]storage.ForeignKeySpec, len(t.ForeignKeys))
	copy(out, t.ForeignKeys)

	for i, fk := range out {
		if fk.OnDelete != storage.ActionCascade && fk.OnUpdate != storage.ActionCascade {
			continue
		}
		path := map[string]bool{fk.RefTable: true}
		for tbl := range reach[fk.RefTable] {
			path[tbl] = true
		}
		overlap := false
		for tbl := range path {
			if covered[tbl] {
				overlap = true
				break
			}
		}
		if overlap {
			if out[i].OnDelete == storage.ActionCascade {
				out[i].OnDelete = storage.ActionNoAction
			}
			if out[i].OnUpdate == storage.ActionCascade {
				out[i].OnUpdate = storage.ActionNoAction
			}
			continue
		}
		for tbl := range path {
			covered[tbl] = true
		}
	}
	return out, covered
}

// buildCreateSQL renders CREATE TABLE guarded by OBJECT_ID so it can run on
// every start.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	keyed := keyedColumns(t)

	var parts []string
	for _, c := range t.Columns {
		typ, err := mssqlType(c.Type, keyed[c.Name])
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		def := mssqlIdent(c.Name) + " " + typ
		if c.Nullable {
			def += " NULL"
		} else {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", mssqlIdentList(t.PrimaryKey, "")))
	}
	for _, fk := range t.ForeignKeys {
		def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			mssqlIdentList(fk.Columns, ""), mssqlTableIdent(fk.RefTable), mssqlIdentList(fk.RefColumns, ""))
		if fk.OnDelete != "" {
			def += " ON DELETE " + fk.OnDelete
		}
		if fk.OnUpdate != "" {
			def += " ON UPDATE " + fk.OnUpdate
		}
		parts = append(parts, def)
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(t.Name, "'", "''"), mssqlTableIdent(t.Name), strings.Join(parts, ", "),
	), nil
}

func buildDropSQL(table string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		strings.ReplaceAll(table, "'", "''"), mssqlTableIdent(table))
}

// buildMergeSQL renders a single-row MERGE with @pN placeholders:
//
//	MERGE INTO [t] WITH (HOLDLOCK) AS tgt
//	USING (VALUES (@p1, @p2)) AS src ([k], [v])
//	ON tgt.[k] = src.[k]
//	WHEN MATCHED THEN UPDATE SET tgt.[v] = src.[v]
//	WHEN NOT MATCHED THEN INSERT ([k], [v]) VALUES (src.[k], src.[v]);
func buildMergeSQL(t storage.TableSpec) string {
	cols := t.ColumnNames()

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(t.Name))
	b.WriteString(" WITH (HOLDLOCK) AS tgt USING (VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(")) AS src (")
	b.WriteString(mssqlIdentList(cols, ""))
	b.WriteString(") ON ")
	for i, k := range t.ConflictColumns() {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "tgt.%s = src.%s", mssqlIdent(k), mssqlIdent(k))
	}

	if upd := t.UpdateColumns(); len(upd) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range upd {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "tgt.%s = src.%s", mssqlIdent(c), mssqlIdent(c))
		}
	}

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(mssqlIdentList(cols, ""))
	b.WriteString(") VALUES (")
	b.WriteString(mssqlIdentList(cols, "src."))
	b.WriteString(");")
	return b.String()
}

func buildLookupSQL() string {
	return fmt.Sprintf(
		"SELECT TOP 1 s.[song_id], s.[artist_id] FROM %s s JOIN %s a ON s.[artist_id] = a.[artist_id] "+
			"WHERE s.[title] = @p1 AND a.[name] = @p2 AND s.[duration] = @p3 ORDER BY s.[song_id]",
		mssqlTableIdent(storage.SongsTable), mssqlTableIdent(storage.ArtistsTable),
	)
}
