package exclusion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"db-clone/internal/dialect"
	"db-clone/internal/schema"
)

const maxNameDepth = 8

// NameResolver finds the display name of an excluded object, trying the table's
// name column, then its join table, then its definition.
type NameResolver struct {
	q      dialect.Queryer
	d      dialect.Dialect
	tables *schema.Registry
}

func NewNameResolver(q dialect.Queryer, d dialect.Dialect, tables *schema.Registry) *NameResolver {
	return &NameResolver{q: q, d: d, tables: tables}
}

func (r *NameResolver) Resolve(ctx context.Context, table *schema.Table, id int64) (string, error) {
	return r.resolve(ctx, table, id, 0)
}

func (r *NameResolver) resolve(ctx context.Context, table *schema.Table, id int64, depth int) (string, error) {
	if depth > maxNameDepth {
		return "", Error.New("could not resolve object name of %s %d: definition chain too deep", table.Name, id)
	}
	n := table.Naming

	if n.Column != "" {
		name, err := r.lookupString(ctx, table.Name, n.Column, table.IDColumn, id)
		if err != nil {
			return "", err
		}
		if name != "" {
			return name, nil
		}
	}

	if n.Join != nil {
		name, err := r.lookupString(ctx, n.Join.Table, n.Join.Column, n.Join.Key, id)
		if err != nil {
			return "", err
		}
		if name != "" {
			return name, nil
		}
	}

	if n.Definition != nil {
		def, ok := r.tables.Get(n.Definition.Table)
		if !ok {
			return "", Error.New("could not resolve object name of %s %d: unknown definition table %s", table.Name, id, n.Definition.Table)
		}
		var defID sql.NullInt64
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", n.Definition.Column, table.Name, table.IDColumn, r.d.Placeholder(0))
		err := r.q.QueryRowContext(ctx, query, id).Scan(&defID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", Error.New("failed to read definition of %s %d: %v", table.Name, id, err)
		}
		if defID.Valid && defID.Int64 != 0 {
			return r.resolve(ctx, def, defID.Int64, depth+1)
		}
	}

	return "", Error.New("could not resolve object name of %s %d", table.Name, id)
}

func (r *NameResolver) lookupString(ctx context.Context, table, column, key string, id int64) (string, error) {
	var name sql.NullString
	// Join tables may hold one name per language; the first one is used.
	query := r.d.GetLimitRowQuery(fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		column, table, key, r.d.Placeholder(0), column), 1)
	err := r.q.QueryRowContext(ctx, query, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", Error.New("failed to read name from %s: %v", table, err)
	}
	return name.String, nil
}
