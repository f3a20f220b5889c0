package dialect

import (
	"context"
	"fmt"
	"strings"
)

// GeneratePlaceholders is a helper function to create a slice of placeholder strings.
// It takes the number of placeholders needed and a function that returns the placeholder for a given index.
// It returns a comma-separated string of the generated placeholders.
func GeneratePlaceholders(count int, placeholderFunc func(int) string) string {
	placeholders := make([]string, count)
	for i := 0; i < count; i++ {
		placeholders[i] = placeholderFunc(i)
	}
	return strings.Join(placeholders, ", ")
}

// DefaultUpdateQuery builds "UPDATE t SET a = p1, b = p2 WHERE k = p3".
// Placeholders are numbered across SET and WHERE so positional dialects line up with the argument list.
func DefaultUpdateQuery(table string, cols, keyCols []string, placeholderFunc func(int) string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", c, placeholderFunc(i))
	}
	conds := make([]string, len(keyCols))
	for i, k := range keyCols {
		conds[i] = fmt.Sprintf("%s = %s", k, placeholderFunc(len(cols)+i))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), strings.Join(conds, " AND "))
}

// execLastInsertID runs an insert and reads the generated key from the driver result.
// Used by drivers that implement sql.Result.LastInsertId (MySQL, SQLite).
func execLastInsertID(ctx context.Context, q Queryer, query string, values []any) (int64, error) {
	res, err := q.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read generated id: %w", err)
	}
	return id, nil
}

// DefaultNormalizeType is a default implementation for type normalization (lowercase).
func DefaultNormalizeType(sqlType string) string {
	return strings.ToLower(sqlType)
}

// DefaultGetSchemaName is a default implementation for Getting Schema Name (identity).
func DefaultGetSchemaName(input string) string {
	return input
}
