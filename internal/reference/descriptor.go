// Package reference resolves the edges between copied rows.
//
// A Descriptor describes one named reference of a table: the column holding the
// foreign value, the tables the value can point to, and how to find the rows
// referencing a given object. Descriptors are built per run from configuration
// through a registry of constructors keyed by type name.
package reference

import (
	"context"

	"db-clone/internal/dialect"
	"db-clone/internal/object"
	"db-clone/internal/schema"

	"github.com/zeebo/errs"
)

// Error is the class of reference configuration and resolution errors.
var Error = errs.Class("reference")

// Copier is the part of the structure copy a descriptor calls back into.
type Copier interface {
	// FetchObjects loads the rows of table matching restriction (with ? params)
	// and expands them into the run's object map.
	FetchObjects(ctx context.Context, table *schema.Table, from, restriction string, params []any,
		referenceName string, referencing *object.Object) ([]*object.Object, error)
	// FetchObjectByID loads a single row; nil when it does not exist.
	FetchObjectByID(ctx context.Context, table *schema.Table, id int64,
		referenceName string, referencing *object.Object, checkExclusion bool) (*object.Object, error)
	// ObjectExists asks the host whether a row still exists in the live store.
	ObjectExists(ctx context.Context, table *schema.Table, id int64) (bool, error)
}

// Descriptor resolves one reference from rows of Table to rows of other tables.
type Descriptor interface {
	Name() string
	Table() *schema.Table

	// Init is called once per run before any fetch. q may be used to load lookup data.
	Init(ctx context.Context, q dialect.Queryer, tables *schema.Registry, params map[string]string) error

	// LinkColumn holds the id of the referenced row.
	LinkColumn() string
	// ReferenceColumns are all columns read or written for the reference, link column included.
	ReferenceColumns() []string
	// PossibleTargets lists every table the reference may point to.
	PossibleTargets() []*schema.Table
	// TargetTable resolves the target table from the row's values.
	// ok is false when the values do not map to any known table.
	TargetTable(obj *object.Object) (*schema.Table, bool)

	// Linked descriptors pull the referencing rows into the copy when a target is discovered.
	Linked() bool
	// Traverse tells whether the target is fetched when the reference is followed.
	// Non-traversed targets are linked only if something else brings them into the copy.
	Traverse() bool

	// LinkingObjects fetches the rows of Table that reference obj.
	LinkingObjects(ctx context.Context, c Copier, obj *object.Object) ([]*object.Object, error)

	// UpdateReference records the new value of the reference in obj.Updates.
	// target is nil when the reference is written as its null value.
	UpdateReference(obj *object.Object, target *schema.Table, discriminator any, newID any)
}

// ValueFilter is implemented by descriptors whose link column only holds a
// reference for some rows. When IsReferenceValueNeeded is false the column is
// copied as plain data for that row.
type ValueFilter interface {
	IsReferenceValueNeeded(row map[string]any, column string) bool
}

// Resolution is what happens to a reference whose target row does not exist.
type Resolution int

const (
	// ResolveFail aborts the run.
	ResolveFail Resolution = iota
	// ResolveNull writes the null value of the link column.
	ResolveNull
	// ResolveKeep keeps the original id.
	ResolveKeep
)

func (r Resolution) String() string {
	switch r {
	case ResolveFail:
		return "fail"
	case ResolveNull:
		return "null"
	case ResolveKeep:
		return "keep"
	}
	return "unknown"
}

// UnsatisfiedHandler is implemented by descriptors that tolerate broken references.
// Descriptors without it fail the run.
type UnsatisfiedHandler interface {
	HandleUnsatisfiedReference(ctx context.Context, c Copier, obj *object.Object, table *schema.Table, id int64) (Resolution, error)
}
