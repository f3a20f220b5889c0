// Package modificator holds the hooks run after an object is written by a copy.
package modificator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"db-clone/internal/dialect"
	"db-clone/internal/object"
	"db-clone/internal/schema"

	"github.com/zeebo/errs"
)

// Error is the class of modificator errors.
var Error = errs.Class("modificator")

// Versioner creates version records for written objects.
type Versioner interface {
	CreateVersion(ctx context.Context, table *schema.Table, id int64) error
}

// Run is the state of a copy as seen by a modificator.
type Run interface {
	// Queryer writes to the destination transaction.
	Queryer() dialect.Queryer
	Dialect() dialect.Dialect
	Objects() *object.Map
	// Mode is "duplicate" or "export".
	Mode() string
	// Versioner is nil when the copy runs without a host.
	Versioner() Versioner
}

// Modificator changes a row after it has been written.
type Modificator interface {
	Init(table *schema.Table, params map[string]string) error
	Modify(ctx context.Context, run Run, obj *object.Object, action object.Action) error
}

// Factory creates an uninitialised modificator.
type Factory func() Modificator

var factories = map[string]Factory{
	"uuid":    func() Modificator { return &UUID{} },
	"set":     func() Modificator { return &Set{} },
	"rename":  func() Modificator { return &Rename{} },
	"fake":    func() Modificator { return &Fake{} },
	"version": func() Modificator { return &Version{} },
}

// Register adds a modificator type. It panics on duplicates.
func Register(typ string, f Factory) {
	typ = strings.ToLower(typ)
	if _, dup := factories[typ]; dup {
		panic("modificator: Register called twice for type " + typ)
	}
	factories[typ] = f
}

func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Bound is a modificator attached to a table, restricted to some actions and modes.
type Bound struct {
	Type    string
	Table   *schema.Table
	m       Modificator
	actions map[object.Action]bool
	modes   map[string]bool
}

// New creates and initialises a modificator. Without actions it runs on created
// rows only; without modes it runs in every mode.
func New(typ string, table *schema.Table, params map[string]string, actions, modes []string) (*Bound, error) {
	f, ok := factories[strings.ToLower(typ)]
	if !ok {
		return nil, Error.New("unknown modificator type %q (known: %s)", typ, strings.Join(Types(), ", "))
	}
	m := f()
	if err := m.Init(table, params); err != nil {
		return nil, Error.New("%s on %s: %v", typ, table.Name, err)
	}
	b := &Bound{Type: typ, Table: table, m: m, actions: make(map[object.Action]bool), modes: make(map[string]bool)}
	if len(actions) == 0 {
		b.actions[object.Created] = true
	}
	for _, a := range actions {
		action, err := object.ParseAction(a)
		if err != nil {
			return nil, Error.New("%s on %s: %v", typ, table.Name, err)
		}
		b.actions[action] = true
	}
	for _, mode := range modes {
		b.modes[strings.ToLower(mode)] = true
	}
	return b, nil
}

// Applies reports whether the modificator runs for the action in the mode.
func (b *Bound) Applies(action object.Action, mode string) bool {
	if !b.actions[action] {
		return false
	}
	return len(b.modes) == 0 || b.modes[strings.ToLower(mode)]
}

// Modify runs the modificator if it applies.
func (b *Bound) Modify(ctx context.Context, run Run, obj *object.Object, action object.Action) error {
	if !b.Applies(action, run.Mode()) {
		return nil
	}
	if err := b.m.Modify(ctx, run, obj, action); err != nil {
		return Error.New("%s on %s: %v", b.Type, obj.Key, err)
	}
	return nil
}

// updateRow writes columns of the row created for obj.
func updateRow(ctx context.Context, run Run, obj *object.Object, cols []string, values []any) error {
	keyCols, keyVals, err := rowKey(obj)
	if err != nil {
		return err
	}
	query := run.Dialect().UpdateQuery(obj.Table.Name, cols, keyCols)
	args := append(append([]any{}, values...), keyVals...)
	if _, err := run.Queryer().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", obj.Key, err)
	}
	return nil
}

// rowKey returns the columns and values identifying the written row. Cross-table
// rows are identified by their key columns as written.
func rowKey(obj *object.Object) ([]string, []any, error) {
	if !obj.Table.CrossTable {
		if obj.NewID == 0 {
			return nil, nil, fmt.Errorf("%s has not been written", obj.Key)
		}
		return []string{obj.Table.IDColumn}, []any{obj.NewID}, nil
	}
	vals := make([]any, len(obj.Table.KeyColumns))
	for i, k := range obj.Table.KeyColumns {
		if v, ok := obj.Updates[k]; ok {
			vals[i] = v
			continue
		}
		vals[i], _ = obj.Value(k)
	}
	return obj.Table.KeyColumns, vals, nil
}

func required(params map[string]string, keys ...string) error {
	for _, k := range keys {
		if params[k] == "" {
			return fmt.Errorf("missing parameter %s", k)
		}
	}
	return nil
}
