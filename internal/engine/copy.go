package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"db-clone/internal/dialect"
	"db-clone/internal/exclusion"
	"db-clone/internal/object"
	"db-clone/internal/reference"
	"db-clone/internal/schema"

	"go.uber.org/zap"
)

// Options configure a StructureCopy.
type Options struct {
	Dialect dialect.Dialect
	Tables  *schema.Registry
	// Descriptors must be initialised.
	Descriptors []reference.Descriptor
	Policy      exclusion.Policy
	// Names resolves the display names of objects excluded with a note.
	Names      *exclusion.NameResolver
	Properties map[string]any
	Host       Host
	Log        *zap.Logger
}

// Root selects the rows a copy starts from.
type Root struct {
	Table string
	Where string
	// Params bind the ? markers of Where.
	Params []any
}

// StructureCopy discovers the objects of a structure. Every row reachable from the
// root through the configured references is fetched once into an object Map.
type StructureCopy struct {
	src    dialect.Queryer
	d      dialect.Dialect
	tables *schema.Registry
	// forward holds the descriptors by source table, inverse the linked ones by target table.
	forward map[string][]reference.Descriptor
	inverse map[string][]reference.Descriptor
	policy  *exclusion.Memo
	names   *exclusion.NameResolver
	props   map[string]any
	host    Host
	log     *zap.Logger

	objects *object.Map
}

var _ reference.Copier = (*StructureCopy)(nil)

func NewStructureCopy(src dialect.Queryer, opts Options) *StructureCopy {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &StructureCopy{
		src:     src,
		d:       opts.Dialect,
		tables:  opts.Tables,
		forward: make(map[string][]reference.Descriptor),
		inverse: make(map[string][]reference.Descriptor),
		policy:  exclusion.Memoize(opts.Policy),
		names:   opts.Names,
		props:   opts.Properties,
		host:    opts.Host,
		log:     log,
		objects: object.NewMap(),
	}
	for _, d := range opts.Descriptors {
		src := strings.ToUpper(d.Table().Name)
		s.forward[src] = append(s.forward[src], d)
		if !d.Linked() {
			continue
		}
		for _, t := range d.PossibleTargets() {
			dst := strings.ToUpper(t.Name)
			s.inverse[dst] = append(s.inverse[dst], d)
		}
	}
	return s
}

// Objects returns the object map built so far.
func (s *StructureCopy) Objects() *object.Map {
	return s.objects
}

// Fetch discovers the structure below root and returns the complete object map.
func (s *StructureCopy) Fetch(ctx context.Context, root Root) (*object.Map, error) {
	table, ok := s.tables.Get(root.Table)
	if !ok {
		return nil, Error.New("unknown root table %s", root.Table)
	}
	if table.CrossTable {
		return nil, Error.New("root table %s is a cross table", root.Table)
	}
	roots, err := s.FetchObjects(ctx, table, "", root.Where, root.Params, "", nil)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, Error.New("no %s rows match %q", table.Name, root.Where)
	}
	s.settle()
	s.log.Info("structure fetched", zap.String("root", table.Name), zap.Int("roots", len(roots)), zap.Int("objects", s.objects.Len()))
	return s.objects, nil
}

// FetchObjects loads the rows of table matching restriction and expands each of
// them into the object map. Rows already in the map are returned as they are.
func (s *StructureCopy) FetchObjects(ctx context.Context, table *schema.Table, from, restriction string, params []any,
	referenceName string, referencing *object.Object) ([]*object.Object, error) {
	rows, err := s.query(ctx, table, from, restriction, params)
	if err != nil {
		return nil, err
	}
	if referencing != nil {
		s.log.Debug("fetched linking rows", zap.String("table", table.Name), zap.String("reference", referenceName),
			zap.Stringer("target", referencing), zap.Int("rows", len(rows)))
	}

	result := make([]*object.Object, 0, len(rows))
	for _, row := range rows {
		obj, err := s.materialize(ctx, table, row, true)
		if err != nil {
			return nil, err
		}
		result = append(result, obj)
	}
	return result, nil
}

// FetchObjectByID loads one row of table. It returns nil when the row does not
// exist or does not pass the table's restrict clause.
func (s *StructureCopy) FetchObjectByID(ctx context.Context, table *schema.Table, id int64,
	referenceName string, referencing *object.Object, checkExclusion bool) (*object.Object, error) {
	if obj, ok := s.objects.Get(object.IDKey(table, id)); ok {
		return obj, nil
	}
	rows, err := s.query(ctx, table, "", "t."+table.IDColumn+" = ?", []any{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return s.materialize(ctx, table, rows[0], checkExclusion)
}

// ObjectExists asks the host whether the row still exists. Without a host nothing exists.
func (s *StructureCopy) ObjectExists(ctx context.Context, table *schema.Table, id int64) (bool, error) {
	if s.host == nil {
		return false, nil
	}
	return s.host.ObjectExists(ctx, table, id)
}

// NotedExclusions returns the placeholders of objects excluded with a note.
func (s *StructureCopy) NotedExclusions() []*object.Object {
	var noted []*object.Object
	for _, o := range s.objects.All() {
		if o.Kind == object.KindExcluded {
			noted = append(noted, o)
		}
	}
	return noted
}

// materialize turns a fetched row into an object, decides its exclusion and
// follows its references. The object is in the map before any edge is followed,
// so cycles end at the second visit.
func (s *StructureCopy) materialize(ctx context.Context, table *schema.Table, row map[string]any, checkExclusion bool) (*object.Object, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	key, id, err := rowKey(table, row)
	if err != nil {
		return nil, objectError("fetch", table.Name, nil, err)
	}
	if obj, ok := s.objects.Get(key); ok {
		return obj, nil
	}

	decision := object.NotExcluded
	if checkExclusion && !table.CrossTable {
		if decision, err = s.policy.Decide(ctx, table, id); err != nil {
			return nil, objectError("decide exclusion of", table.Name, id, err)
		}
	}

	var obj *object.Object
	switch decision {
	case object.NotExcluded:
		obj = object.New(table, key, id, row)
	case object.ExcludedNull:
		obj = object.NewDeleted(table, id)
	case object.ExcludedNoted:
		name, err := s.displayName(ctx, table, id)
		if err != nil {
			return nil, objectError("exclude", table.Name, id, err)
		}
		obj = object.NewExcluded(table, id, name)
	}
	if err := s.objects.Put(obj); err != nil {
		return nil, Error.Wrap(err)
	}
	if !obj.Copied() {
		s.log.Debug("object excluded", zap.Stringer("object", obj), zap.Stringer("decision", decision))
		return obj, nil
	}

	if err := s.followReferences(ctx, obj); err != nil {
		return nil, err
	}
	for _, d := range s.inverse[strings.ToUpper(table.Name)] {
		if _, err := d.LinkingObjects(ctx, s, obj); err != nil {
			if ErrCancelled.Has(err) || Error.Has(err) {
				return nil, err
			}
			return nil, objectError("fetch objects linking to", table.Name, id, err)
		}
	}
	return obj, nil
}

// followReferences records the references of obj and fetches their targets.
func (s *StructureCopy) followReferences(ctx context.Context, obj *object.Object) error {
	for _, d := range s.forward[strings.ToUpper(obj.Table.Name)] {
		if vf, ok := d.(reference.ValueFilter); ok && !vf.IsReferenceValueNeeded(obj.Values, d.LinkColumn()) {
			continue
		}
		raw, _ := obj.Value(d.LinkColumn())
		id, err := object.ToInt64(raw)
		if err != nil {
			return objectError("read reference "+d.Name()+" of", obj.Table.Name, obj.Key, err)
		}
		// Empty references are plain data.
		if id == 0 {
			continue
		}

		ref := &object.Ref{Name: d.Name(), Column: d.LinkColumn(), TargetID: id, Discriminator: discriminator(d, obj)}
		obj.SetRef(ref)
		if !obj.Table.CrossTable {
			obj.Defer(d.LinkColumn())
		}

		target, ok := d.TargetTable(obj)
		if !ok {
			ref.State = object.RefUnresolved
			s.log.Warn("reference target table unknown, reference is cleared",
				zap.Stringer("object", obj), zap.String("reference", d.Name()), zap.Any("discriminator", ref.Discriminator))
			continue
		}
		ref.TargetTable = target
		ref.Target = object.IDKey(target, id)

		if !d.Traverse() {
			ref.State = object.RefExternal
			continue
		}

		t, err := s.FetchObjectByID(ctx, target, id, d.Name(), obj, true)
		if err != nil {
			return err
		}
		switch {
		case t == nil:
			if err := s.unsatisfied(ctx, d, obj, ref); err != nil {
				return err
			}
		case t.Copied():
			ref.State = object.RefLinked
		default:
			ref.State = object.RefNulled
		}
	}
	return nil
}

func (s *StructureCopy) unsatisfied(ctx context.Context, d reference.Descriptor, obj *object.Object, ref *object.Ref) error {
	res := reference.ResolveFail
	if h, ok := d.(reference.UnsatisfiedHandler); ok {
		var err error
		if res, err = h.HandleUnsatisfiedReference(ctx, s, obj, ref.TargetTable, ref.TargetID); err != nil {
			return objectError("handle unsatisfied reference "+d.Name()+" of", obj.Table.Name, obj.Key, err)
		}
	}
	switch res {
	case reference.ResolveNull:
		ref.State = object.RefNulled
		s.log.Warn("reference target not found, reference is cleared",
			zap.Stringer("object", obj), zap.Stringer("reference", ref))
		return nil
	case reference.ResolveKeep:
		ref.State = object.RefExternal
		return nil
	case reference.ResolveFail:
	}
	return objectError("resolve reference "+d.Name()+" of", obj.Table.Name, obj.Key,
		fmt.Errorf("%w: %s %d not found", ErrUnsatisfied, ref.TargetTable.Name, ref.TargetID))
}

// settle links the references to non-traversed targets that were discovered anyway.
func (s *StructureCopy) settle() {
	for _, obj := range s.objects.All() {
		for _, ref := range obj.References {
			if ref.State != object.RefExternal {
				continue
			}
			if t, ok := s.objects.Get(ref.Target); ok {
				if t.Copied() {
					ref.State = object.RefLinked
				} else {
					ref.State = object.RefNulled
				}
			}
		}
	}
}

func (s *StructureCopy) displayName(ctx context.Context, table *schema.Table, id int64) (string, error) {
	if s.names == nil {
		return "", fmt.Errorf("could not resolve object name of %s %d: no name resolver", table.Name, id)
	}
	return s.names.Resolve(ctx, table, id)
}

// query selects the rows of table and reads them completely before returning,
// so the connection is free again when the rows are expanded.
func (s *StructureCopy) query(ctx context.Context, table *schema.Table, from, restriction string, params []any) ([]map[string]any, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	query, args, err := s.selectQuery(table, from, restriction, params)
	if err != nil {
		return nil, objectError("fetch", table.Name, nil, err)
	}

	rows, err := s.src.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failure(ctx, objectError("fetch", table.Name, nil, err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, objectError("fetch", table.Name, nil, err)
	}
	var result []map[string]any
	for rows.Next() {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, objectError("scan", table.Name, nil, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(ctx, objectError("fetch", table.Name, nil, err))
	}
	return result, nil
}

func (s *StructureCopy) selectQuery(table *schema.Table, from, restriction string, params []any) (string, []any, error) {
	args := schema.NewArgs(s.d.Placeholder)

	cols := "t.*"
	if len(table.Columns) > 0 {
		names := table.ColumnNames()
		for i, n := range names {
			names[i] = "t." + n
		}
		cols = strings.Join(names, ", ")
	}

	var conds []string
	if table.Restrict != "" {
		c, err := args.Bind(table.Restrict, nil, s.props)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, "("+c+")")
	}
	if restriction != "" {
		c, err := args.Bind(restriction, params, s.props)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, "("+c+")")
	}

	query := fmt.Sprintf("SELECT %s FROM %s t", cols, table.Name)
	if from != "" {
		query += " " + from
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	order := []string{table.IDColumn}
	if table.CrossTable {
		order = table.KeyColumns
	}
	for i, o := range order {
		if i == 0 {
			query += " ORDER BY "
		} else {
			query += ", "
		}
		query += "t." + o
	}
	return query, args.Values(), nil
}

// rowKey computes the key of a fetched row.
func rowKey(table *schema.Table, row map[string]any) (object.Key, int64, error) {
	if table.CrossTable {
		vals := make([]any, len(table.KeyColumns))
		for i, k := range table.KeyColumns {
			v, ok := lookup(row, k)
			if !ok {
				return object.Key{}, 0, fmt.Errorf("key column %s not selected", k)
			}
			if b, isBytes := v.([]byte); isBytes {
				v = string(b)
			}
			vals[i] = v
		}
		return object.CompositeKey(table, vals), 0, nil
	}
	v, ok := lookup(row, table.IDColumn)
	if !ok {
		return object.Key{}, 0, fmt.Errorf("id column %s not selected", table.IDColumn)
	}
	id, err := object.ToInt64(v)
	if err != nil {
		return object.Key{}, 0, err
	}
	return object.IDKey(table, id), id, nil
}

// discriminator returns the value of the first reference column besides the link column.
func discriminator(d reference.Descriptor, obj *object.Object) any {
	for _, c := range d.ReferenceColumns() {
		if strings.EqualFold(c, d.LinkColumn()) {
			continue
		}
		v, _ := obj.Value(c)
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		return v
	}
	return nil
}

func lookup(row map[string]any, column string) (any, bool) {
	if v, ok := row[column]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// checkCancelled returns the fatal cancellation error once ctx is done.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled.Wrap(err)
	}
	return nil
}

// failure turns errors caused by a cancelled context into the cancellation error.
func failure(ctx context.Context, err error) error {
	if cerr := checkCancelled(ctx); cerr != nil {
		return cerr
	}
	return err
}
