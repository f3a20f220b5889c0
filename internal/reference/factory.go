package reference

import (
	"sort"
	"strings"

	"db-clone/internal/schema"
)

// Factory creates an uninitialised descriptor for a table.
type Factory func(name string, table *schema.Table) Descriptor

var factories = map[string]Factory{
	"column":      func(name string, table *schema.Table) Descriptor { return NewColumn(name, table) },
	"polymorphic": func(name string, table *schema.Table) Descriptor { return NewPolymorphic(name, table) },
	"keyword":     func(name string, table *schema.Table) Descriptor { return NewKeyword(name, table) },
}

// Register adds a descriptor type. It panics on duplicates, like database/sql.Register.
func Register(typ string, f Factory) {
	typ = strings.ToLower(typ)
	if _, dup := factories[typ]; dup {
		panic("reference: Register called twice for type " + typ)
	}
	factories[typ] = f
}

// New creates a descriptor of the given type. Init must be called before use.
func New(typ, name string, table *schema.Table) (Descriptor, error) {
	f, ok := factories[strings.ToLower(typ)]
	if !ok {
		return nil, Error.New("unknown reference type %q (known: %s)", typ, strings.Join(Types(), ", "))
	}
	return f(name, table), nil
}

// Types lists the registered descriptor types.
func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
