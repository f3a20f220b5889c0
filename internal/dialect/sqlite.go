package dialect

import (
	"context"
	"fmt"
	"strings"
)

// SQLiteDialect targets mattn/go-sqlite3. Introspection uses the pragma table-valued
// functions, which need SQLite 3.16 or newer (bundled with the driver).
type SQLiteDialect struct{}

func (d *SQLiteDialect) GetTablesQuery(schema string) string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND ? <> ''`
}

func (d *SQLiteDialect) GetColumnsQuery(schema string) string {
	return `SELECT
    m.name,
    p.name,
    p.type,
    NULL,
    CASE WHEN p."notnull" = 0 AND p.pk = 0 THEN 'YES' ELSE 'NO' END,
    CASE WHEN p.pk > 0 THEN 'PRI' ELSE '' END,
    CASE WHEN p.pk = 1 AND lower(p.type) = 'integer' THEN 'auto_increment' ELSE '' END,
    NULL
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' AND ? <> ''
ORDER BY m.name, p.cid`
}

func (d *SQLiteDialect) GetPrimaryKeysQuery(schema string) string {
	return `SELECT m.name, p.name FROM sqlite_master m JOIN pragma_table_info(m.name) p WHERE m.type = 'table' AND p.pk > 0 AND ? <> '' ORDER BY m.name, p.pk`
}

func (d *SQLiteDialect) GetForeignKeysQuery(schema string) string {
	return `SELECT m.name, 'fk_' || m.name || '_' || f.id, f."from", f."table", f."to"
FROM sqlite_master m
JOIN pragma_foreign_key_list(m.name) f
WHERE m.type = 'table' AND ? <> ''`
}

// defer_foreign_keys resets itself when the transaction ends.
func (d *SQLiteDialect) BeforeCopy(ctx context.Context, q Queryer, tables []string) error {
	_, err := q.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON")
	return err
}

func (d *SQLiteDialect) AfterCopy(ctx context.Context, q Queryer, tables []string) error {
	return nil
}

func (d *SQLiteDialect) InsertQuery(table string, cols []string) string {
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	}
	vals := GeneratePlaceholders(len(cols), d.Placeholder)
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), vals)
}

func (d *SQLiteDialect) UpdateQuery(table string, cols []string, keyCols []string) string {
	return DefaultUpdateQuery(table, cols, keyCols, d.Placeholder)
}

func (d *SQLiteDialect) InsertReturningID(ctx context.Context, q Queryer, table, idColumn string, cols []string, values []any) (int64, error) {
	return execLastInsertID(ctx, q, d.InsertQuery(table, cols), values)
}

func (d *SQLiteDialect) Placeholder(index int) string {
	return "?"
}

func (d *SQLiteDialect) NormalizeType(sqlType string) string {
	return DefaultNormalizeType(sqlType)
}

func (d *SQLiteDialect) GetSchemaName(input string) string {
	if input == "" {
		return "main"
	}
	return input
}

func (d *SQLiteDialect) GetLimitRowQuery(query string, limit int) string {
	return fmt.Sprintf("%s LIMIT %d", query, limit)
}
