package schema

import (
	"fmt"
	"strings"
)

// Registry holds the tables known to a copy run.
// Lookups are case-insensitive (Oracle reports upper-case names).
type Registry struct {
	tables map[string]*Table
	order  []*Table
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*Table)}
}

// Add registers a table. The id column defaults to "id" for regular tables.
func (r *Registry) Add(t *Table) error {
	if t.Name == "" {
		return fmt.Errorf("table without name")
	}
	key := strings.ToUpper(t.Name)
	if _, exists := r.tables[key]; exists {
		return fmt.Errorf("table %s registered twice", t.Name)
	}
	if t.IDColumn == "" && !t.CrossTable {
		t.IDColumn = "id"
	}
	r.tables[key] = t
	r.order = append(r.order, t)
	return nil
}

func (r *Registry) Get(name string) (*Table, bool) {
	t, ok := r.tables[strings.ToUpper(name)]
	return t, ok
}

// Tables returns the tables in registration order.
func (r *Registry) Tables() []*Table {
	return append([]*Table(nil), r.order...)
}

// Validate checks the table setup a copy needs.
func (r *Registry) Validate() error {
	for _, t := range r.order {
		if t.CrossTable {
			if len(t.KeyColumns) == 0 {
				return fmt.Errorf("cross table %s has no key columns", t.Name)
			}
			continue
		}
		if len(t.Columns) > 0 {
			if _, ok := t.Column(t.IDColumn); !ok {
				return fmt.Errorf("table %s does not select its id column %s", t.Name, t.IDColumn)
			}
		}
	}
	return nil
}
