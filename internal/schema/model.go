package schema

import "strings"

// Table describes one table taking part in a structure copy.
// Tables are built once from configuration (optionally completed by Introspect)
// and are read-only while a copy runs.
type Table struct {
	Name     string
	IDColumn string
	// Restrict is a SQL condition applied to every fetch from this table.
	// It may contain ${property} tokens, see Bind.
	Restrict string

	CrossTable bool
	KeyColumns []string // composite key of a cross table

	Columns      []*Column
	ForeignKeys  []*ForeignKey
	Dependencies []string // tables this one references, used for write ordering

	Naming Naming
}

type Column struct {
	Name       string
	DataType   string
	Length     int
	IsNullable bool
	IsPK       bool
	IsAutoInc  bool
	Comment    string
	Meaning    string // e.g. "phone", "email"; inferred by AnalyzeMeaning
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Naming tells how to find a display name for an object of the table.
// The lookups are tried in order: Column, Join, Definition.
type Naming struct {
	Column     string
	Join       *NameJoin
	Definition *NameDefinition
}

// NameJoin reads the name from another table: SELECT Column FROM Table WHERE Key = <id>.
type NameJoin struct {
	Table  string
	Column string
	Key    string
}

// NameDefinition resolves the name through the object's definition:
// Column holds the id of a row in Table, whose own name is looked up recursively.
type NameDefinition struct {
	Column string
	Table  string
}

// ColumnNames returns the selected column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by name, case-insensitively.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// NullValue is the value written into a reference column that points nowhere.
// Nullable columns get NULL, everything else gets 0.
func (t *Table) NullValue(column string) any {
	if c, ok := t.Column(column); ok && c.IsNullable {
		return nil
	}
	return 0
}

// AddDependency records that this table references another one. Self references are ignored.
func (t *Table) AddDependency(name string) {
	if strings.EqualFold(name, t.Name) {
		return
	}
	for _, d := range t.Dependencies {
		if strings.EqualFold(d, name) {
			return
		}
	}
	t.Dependencies = append(t.Dependencies, name)
}
