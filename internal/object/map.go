package object

import (
	"fmt"
	"strconv"
	"strings"
)

// Map owns every object discovered by one run. Iteration follows insertion order.
type Map struct {
	objects map[Key]*Object
	order   []Key
}

func NewMap() *Map {
	return &Map{objects: make(map[Key]*Object)}
}

func (m *Map) Get(k Key) (*Object, bool) {
	o, ok := m.objects[k]
	return o, ok
}

// Put inserts an object. A key can be inserted once; a second Put for the same key is an error.
func (m *Map) Put(o *Object) error {
	if _, exists := m.objects[o.Key]; exists {
		return fmt.Errorf("object %s already in map", o.Key)
	}
	m.objects[o.Key] = o
	m.order = append(m.order, o.Key)
	return nil
}

// All returns the objects in insertion order.
func (m *Map) All() []*Object {
	all := make([]*Object, 0, len(m.order))
	for _, k := range m.order {
		all = append(all, m.objects[k])
	}
	return all
}

// ByTable returns the objects of one table in insertion order.
func (m *Map) ByTable(table string) []*Object {
	var res []*Object
	for _, k := range m.order {
		if strings.EqualFold(k.Table, table) {
			res = append(res, m.objects[k])
		}
	}
	return res
}

func (m *Map) Len() int {
	return len(m.order)
}

// Resolve returns the object a reference points at, if it is in the map.
func (m *Map) Resolve(r *Ref) (*Object, bool) {
	if r == nil || r.State != RefLinked {
		return nil, false
	}
	return m.Get(r.Target)
}

// ToInt64 converts the id values returned by the SQL drivers.
// nil converts to 0; unparseable values are an error.
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case []byte:
		return parseID(string(n))
	case string:
		return parseID(n)
	}
	return 0, fmt.Errorf("cannot use %T as id", v)
}

func parseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Oracle NUMBER columns come back as decimal strings.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("cannot parse id %q: %w", s, err)
		}
		return int64(f), nil
	}
	return id, nil
}
