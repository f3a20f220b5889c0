package reference

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"db-clone/internal/dialect"
	"db-clone/internal/object"
	"db-clone/internal/schema"
)

// TargetKind tells what a discriminator value stands for.
type TargetKind int

const (
	// TargetRow routes the reference to a row of Target.Table.
	TargetRow TargetKind = iota
	// TargetPlain marks the link column as plain data for this discriminator.
	TargetPlain
)

// Target is the route of one discriminator value.
type Target struct {
	Kind  TargetKind
	Table *schema.Table
	// Code is the discriminator as configured; text codes are matched case-insensitively.
	Code any
}

// plainTarget is written as the table name of a route that is not a reference.
const plainTarget = "-"

// router maps discriminator values of one column to targets. Routes are built per
// run in Init and never shared.
type router struct {
	base
	discColumn string
	routes     map[string]Target
	order      []string
}

func (r *router) addRoute(code any, tableName string, tables *schema.Registry) error {
	key := normalize(code)
	if tableName == plainTarget {
		r.setRoute(key, Target{Kind: TargetPlain, Code: code})
		return nil
	}
	t, ok := tables.Get(tableName)
	if !ok {
		return r.errorf("unknown target table %q for %v", tableName, code)
	}
	if t.CrossTable {
		return r.errorf("cross table %s cannot be a reference target", t.Name)
	}
	r.setRoute(key, Target{Kind: TargetRow, Table: t, Code: code})
	return nil
}

func (r *router) setRoute(key string, t Target) {
	if r.routes == nil {
		r.routes = make(map[string]Target)
	}
	if _, exists := r.routes[key]; !exists {
		r.order = append(r.order, key)
	}
	r.routes[key] = t
}

// parseRoutes reads "code=table,code=table".
func (r *router) parseRoutes(list string, tables *schema.Registry, code func(string) any) error {
	for _, pair := range splitList(list) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return r.errorf("malformed route %q, expected code=table", pair)
		}
		if err := r.addRoute(code(strings.TrimSpace(k)), strings.TrimSpace(v), tables); err != nil {
			return err
		}
	}
	return nil
}

// loadRoutes runs a query returning (code, table name) rows. Tables that are not
// part of the copy are skipped: references routed to them stay unresolved.
func (r *router) loadRoutes(ctx context.Context, q dialect.Queryer, query string, tables *schema.Registry) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return r.errorf("lookup query failed: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code any
		var name string
		if err := rows.Scan(&code, &name); err != nil {
			return r.errorf("failed to scan lookup row: %v", err)
		}
		if b, ok := code.([]byte); ok {
			code = string(b)
		}
		if _, ok := tables.Get(name); !ok && name != plainTarget {
			continue
		}
		if err := r.addRoute(code, name, tables); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return r.errorf("error iterating lookup rows: %v", err)
	}
	return nil
}

func (r *router) finish() error {
	if len(r.routes) == 0 {
		return r.errorf("no routes configured")
	}
	r.targets = nil
	seen := make(map[string]bool)
	for _, k := range r.order {
		t := r.routes[k]
		if t.Kind != TargetRow || seen[t.Table.Name] {
			continue
		}
		seen[t.Table.Name] = true
		r.targets = append(r.targets, t.Table)
	}
	return nil
}

func (r *router) route(row map[string]any) (Target, bool) {
	t, ok := r.routes[normalize(lookup(row, r.discColumn))]
	return t, ok
}

func (r *router) ReferenceColumns() []string {
	return []string{r.discColumn, r.column}
}

func (r *router) TargetTable(obj *object.Object) (*schema.Table, bool) {
	t, ok := r.route(obj.Values)
	if !ok {
		return nil, false
	}
	switch t.Kind {
	case TargetRow:
		return t.Table, true
	case TargetPlain:
		return nil, false
	}
	panic(fmt.Sprintf("unhandled target kind %d", t.Kind))
}

// IsReferenceValueNeeded is false for plain routes and for rows failing when_column.
// Unknown discriminators are references to an unknown table, so they stay needed.
func (r *router) IsReferenceValueNeeded(row map[string]any, column string) bool {
	if !r.base.IsReferenceValueNeeded(row, column) {
		return false
	}
	t, ok := r.route(row)
	if !ok {
		return true
	}
	switch t.Kind {
	case TargetRow:
		return true
	case TargetPlain:
		return false
	}
	panic(fmt.Sprintf("unhandled target kind %d", t.Kind))
}

// LinkingObjects selects the rows whose discriminator routes to obj's table.
func (r *router) LinkingObjects(ctx context.Context, c Copier, obj *object.Object) ([]*object.Object, error) {
	// Route keys are normalized, so text codes are matched on the lower-cased column.
	var numeric, text []any
	for _, k := range r.order {
		t := r.routes[k]
		if t.Kind != TargetRow || !strings.EqualFold(t.Table.Name, obj.Table.Name) {
			continue
		}
		if _, configured := t.Code.(string); !configured {
			if n, err := strconv.ParseInt(k, 10, 64); err == nil {
				numeric = append(numeric, n)
				continue
			}
		}
		text = append(text, k)
	}
	var match []string
	if len(numeric) > 0 {
		match = append(match, "t."+r.discColumn+" IN ("+marks(len(numeric))+")")
	}
	if len(text) > 0 {
		match = append(match, "LOWER(TRIM(t."+r.discColumn+")) IN ("+marks(len(text))+")")
	}
	switch len(match) {
	case 0:
		return nil, nil
	case 2:
		match = []string{"(" + strings.Join(match, " OR ") + ")"}
	}
	cond, params := r.linkingQuery(obj.ID)
	cond += " AND " + match[0]
	params = append(append(params, numeric...), text...)
	return c.FetchObjects(ctx, r.table, "", cond, params, r.name, obj)
}
