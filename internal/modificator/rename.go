package modificator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"db-clone/internal/object"
	"db-clone/internal/schema"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultCopyFormat = "Copy %d of %s"
	maxCopyNumber     = 10000
)

// Rename gives a written row a name no sibling uses. Siblings are the rows
// sharing the value the scope column is written with. Rows whose scope object
// is copied too keep their name, since their new siblings are copies as well.
//
// Parameters: column, scope, format (default "Copy %d of %s").
type Rename struct {
	column string
	scope  string
	format string
	fold   cases.Caser
}

func (m *Rename) Init(table *schema.Table, params map[string]string) error {
	if err := required(params, "column", "scope"); err != nil {
		return err
	}
	m.column, m.scope = params["column"], params["scope"]
	m.format = params["format"]
	if m.format == "" {
		m.format = defaultCopyFormat
	}
	if strings.Count(m.format, "%") != 2 || !strings.Contains(m.format, "%d") || !strings.Contains(m.format, "%s") {
		return fmt.Errorf("format %q needs one %%d and one %%s", m.format)
	}
	m.fold = cases.Fold()
	return nil
}

func (m *Rename) Modify(ctx context.Context, run Run, obj *object.Object, action object.Action) error {
	scope, copied := m.scopeValue(run, obj)
	if copied {
		return nil
	}

	name := ""
	if v, ok := obj.Value(m.column); ok && v != nil {
		name = asString(v)
	}

	siblings, err := m.siblingNames(ctx, run, obj, scope)
	if err != nil {
		return err
	}
	candidate := name
	for n := 1; siblings[m.key(candidate)]; n++ {
		if n > maxCopyNumber {
			return fmt.Errorf("no free name for %q after %d attempts", name, maxCopyNumber)
		}
		candidate = fmt.Sprintf(m.format, n, name)
	}
	if candidate == name {
		return nil
	}
	return updateRow(ctx, run, obj, []string{m.column}, []any{candidate})
}

// scopeValue returns the scope value the link phase writes for obj, or true when
// the scope object is copied as well.
func (m *Rename) scopeValue(run Run, obj *object.Object) (any, bool) {
	for _, ref := range obj.References {
		if !strings.EqualFold(ref.Column, m.scope) {
			continue
		}
		switch ref.State {
		case object.RefLinked:
			if target, ok := run.Objects().Resolve(ref); ok && target.Copied() {
				return nil, true
			}
		case object.RefExternal:
			if run.Mode() != "export" {
				return ref.TargetID, false
			}
		}
		return obj.Table.NullValue(ref.Column), false
	}
	if v, ok := obj.Updates[m.scope]; ok {
		return v, false
	}
	v, _ := obj.Value(m.scope)
	return v, false
}

// siblingNames returns the folded names of the rows in scope, the written row excluded.
func (m *Rename) siblingNames(ctx context.Context, run Run, obj *object.Object, scope any) (map[string]bool, error) {
	d := run.Dialect()
	t := obj.Table
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s <> %s",
		m.column, t.Name, m.scope, d.Placeholder(0), t.IDColumn, d.Placeholder(1))
	args := []any{scope, obj.NewID}
	if scope == nil {
		query = fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NULL AND %s <> %s",
			m.column, t.Name, m.scope, t.IDColumn, d.Placeholder(0))
		args = []any{obj.NewID}
	}

	rows, err := run.Queryer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read sibling names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var n sql.NullString
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan sibling name: %w", err)
		}
		if n.Valid {
			names[m.key(n.String)] = true
		}
	}
	return names, rows.Err()
}

// key compares names the way users read them: composed and case-insensitive.
func (m *Rename) key(name string) string {
	return m.fold.String(norm.NFC.String(strings.TrimSpace(name)))
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
