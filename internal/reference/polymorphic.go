package reference

import (
	"context"
	"strconv"

	"db-clone/internal/dialect"
	"db-clone/internal/object"
	"db-clone/internal/schema"
)

// Polymorphic is a (type, id) pair: type_column selects the target table, column holds the id.
//
// Parameters:
//
//	column        id column
//	type_column   discriminator column
//	targets       "10=page,11=file,0=-" (- marks the id as plain data)
//	lookup_query  SQL returning (code, table name) rows, read once per run
//
// Routes from targets override routes from lookup_query.
type Polymorphic struct {
	router
}

var _ Descriptor = (*Polymorphic)(nil)
var _ ValueFilter = (*Polymorphic)(nil)
var _ UnsatisfiedHandler = (*Polymorphic)(nil)

func NewPolymorphic(name string, table *schema.Table) *Polymorphic {
	return &Polymorphic{router: router{base: base{name: name, table: table}}}
}

func (p *Polymorphic) Init(ctx context.Context, q dialect.Queryer, tables *schema.Registry, params map[string]string) error {
	if err := p.init(params); err != nil {
		return err
	}
	p.discColumn = params["type_column"]
	if p.discColumn == "" {
		return p.errorf("missing parameter type_column")
	}
	if query := params["lookup_query"]; query != "" {
		if q == nil {
			return p.errorf("lookup_query needs a connection")
		}
		if err := p.loadRoutes(ctx, q, query, tables); err != nil {
			return err
		}
	}
	if err := p.parseRoutes(params["targets"], tables, typeCode); err != nil {
		return err
	}
	return p.finish()
}

// UpdateReference writes the id and the discriminator of the resolved target.
func (p *Polymorphic) UpdateReference(obj *object.Object, target *schema.Table, discriminator any, newID any) {
	obj.Updates[p.column] = newID
	if discriminator != nil {
		obj.Updates[p.discColumn] = discriminator
	}
}

// typeCode keeps numeric codes numeric so they bind as integers.
func typeCode(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}
