package reference

import (
	"context"

	"db-clone/internal/dialect"
	"db-clone/internal/object"
	"db-clone/internal/schema"
)

// Column is a plain foreign key: one column pointing at rows of one table.
//
// Parameters: column, target, and the common ones (linked, traverse,
// unsatisfied, when_column, when_values).
type Column struct {
	base
}

var _ Descriptor = (*Column)(nil)
var _ ValueFilter = (*Column)(nil)
var _ UnsatisfiedHandler = (*Column)(nil)

func NewColumn(name string, table *schema.Table) *Column {
	return &Column{base: base{name: name, table: table}}
}

func (c *Column) Init(ctx context.Context, q dialect.Queryer, tables *schema.Registry, params map[string]string) error {
	if err := c.init(params); err != nil {
		return err
	}
	target, ok := tables.Get(params["target"])
	if !ok {
		return c.errorf("unknown target table %q", params["target"])
	}
	if target.CrossTable {
		return c.errorf("cross table %s cannot be a reference target", target.Name)
	}
	c.targets = []*schema.Table{target}
	return nil
}

func (c *Column) ReferenceColumns() []string {
	return []string{c.column}
}

func (c *Column) TargetTable(obj *object.Object) (*schema.Table, bool) {
	return c.targets[0], true
}
