// Package object holds the in-memory snapshot of the rows discovered by a copy run.
//
// Objects never point at each other directly: a reference stores the Key of its
// target and is resolved through the run's Map. This keeps cyclic structures
// cheap to build and lets the id of every object exist before any edge is rewritten.
package object

import (
	"fmt"
	"strconv"
	"strings"

	"db-clone/internal/schema"
)

// Key identifies a discovered row. Regular tables use ID; cross tables have no
// id of their own and use the joined values of their key columns instead.
type Key struct {
	Table     string
	ID        int64
	Composite string
}

func (k Key) String() string {
	if k.Composite != "" {
		return fmt.Sprintf("%s[%s]", k.Table, k.Composite)
	}
	return fmt.Sprintf("%s[%d]", k.Table, k.ID)
}

// IDKey builds the key of a regular row.
func IDKey(table *schema.Table, id int64) Key {
	return Key{Table: strings.ToLower(table.Name), ID: id}
}

// CompositeKey builds the key of a cross-table row from its key column values.
func CompositeKey(table *schema.Table, values []any) Key {
	parts := make([]string, len(values))
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		// quoted, so separators inside values cannot collide
		parts[i] = strconv.Quote(fmt.Sprint(v))
	}
	return Key{Table: strings.ToLower(table.Name), Composite: strings.Join(parts, ",")}
}

// Decision is the outcome of the exclusion policy for one object.
type Decision int

const (
	NotExcluded Decision = iota
	// ExcludedNull drops the object; references to it become empty.
	ExcludedNull
	// ExcludedNoted replaces the object by a placeholder that keeps a display name.
	ExcludedNoted
)

func (d Decision) String() string {
	switch d {
	case NotExcluded:
		return "not_excluded"
	case ExcludedNull:
		return "excluded_null"
	case ExcludedNoted:
		return "excluded_noted"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Action is what a write phase did with an object.
type Action int

const (
	Created Action = iota
	Updated
	Ignored
)

func (a Action) String() string {
	switch a {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Ignored:
		return "ignored"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction parses the names returned by Action.String.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "created":
		return Created, nil
	case "updated":
		return Updated, nil
	case "ignored":
		return Ignored, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Kind tells a real row apart from the placeholders standing in for rows that are not copied.
type Kind int

const (
	KindRow Kind = iota
	KindExcluded
	KindDeleted
)

// Object is one fetched row.
type Object struct {
	Table *schema.Table
	Key   Key
	Kind  Kind

	// ID is the original primary key; 0 for cross-table rows.
	ID int64
	// NewID is assigned by the create phase.
	NewID int64

	Values     map[string]any
	References map[string]*Ref
	// Updates collects the column values a reference descriptor wants written.
	Updates map[string]any

	Decision    Decision
	DisplayName string

	// deferred holds the columns whose value is written by the link phase.
	deferred map[string]bool
}

// New creates a row object for a fetched row.
func New(table *schema.Table, key Key, id int64, values map[string]any) *Object {
	return &Object{
		Table:      table,
		Key:        key,
		Kind:       KindRow,
		ID:         id,
		Values:     values,
		References: make(map[string]*Ref),
		Updates:    make(map[string]any),
		deferred:   make(map[string]bool),
	}
}

// NewExcluded creates the placeholder for an object excluded with a note.
// It keeps the display name only.
func NewExcluded(table *schema.Table, id int64, name string) *Object {
	o := New(table, IDKey(table, id), id, nil)
	o.Kind = KindExcluded
	o.Decision = ExcludedNoted
	o.DisplayName = name
	return o
}

// NewDeleted creates the placeholder for an object that is dropped from the copy
// (excluded without note, or referenced but gone).
func NewDeleted(table *schema.Table, id int64) *Object {
	o := New(table, IDKey(table, id), id, nil)
	o.Kind = KindDeleted
	o.Decision = ExcludedNull
	return o
}

// Copied reports whether the object is written by the copy.
func (o *Object) Copied() bool {
	return o.Kind == KindRow && o.Decision == NotExcluded
}

// Defer marks a column as written in the link phase instead of the create phase.
func (o *Object) Defer(column string) {
	o.deferred[strings.ToLower(column)] = true
}

func (o *Object) IsDeferred(column string) bool {
	return o.deferred[strings.ToLower(column)]
}

// Value returns the value of a column, case-insensitively.
func (o *Object) Value(column string) (any, bool) {
	if v, ok := o.Values[column]; ok {
		return v, true
	}
	for k, v := range o.Values {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// SetRef records a reference of this object.
func (o *Object) SetRef(ref *Ref) {
	o.References[ref.Name] = ref
}

func (o *Object) String() string {
	return o.Key.String()
}
