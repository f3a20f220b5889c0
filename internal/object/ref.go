package object

import (
	"fmt"

	"db-clone/internal/schema"
)

// RefState tells how a reference is resolved when the copy is written.
type RefState int

const (
	// RefLinked points at an object in the Map.
	RefLinked RefState = iota
	// RefNulled is written as the null value of its link column.
	RefNulled
	// RefExternal points at a row outside the copied structure; the original id is kept.
	RefExternal
	// RefUnresolved could not be mapped to a table; treated like RefNulled.
	RefUnresolved
)

func (s RefState) String() string {
	switch s {
	case RefLinked:
		return "linked"
	case RefNulled:
		return "nulled"
	case RefExternal:
		return "external"
	case RefUnresolved:
		return "unresolved"
	}
	return fmt.Sprintf("refstate(%d)", int(s))
}

// Ref is a named edge from an object to its target. The target is a Key into
// the run's Map, never a pointer.
type Ref struct {
	Name   string
	Column string

	TargetTable *schema.Table
	Target      Key
	// TargetID is the original id read from the link column.
	TargetID int64
	// Discriminator is the polymorphic type value read alongside the id, if any.
	Discriminator any

	State RefState
}

func (r *Ref) String() string {
	if r.TargetTable == nil {
		return fmt.Sprintf("%s -> ? (%s)", r.Name, r.State)
	}
	return fmt.Sprintf("%s -> %s[%d] (%s)", r.Name, r.TargetTable.Name, r.TargetID, r.State)
}
