package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"db-clone/internal/dialect"
	"db-clone/internal/modificator"
	"db-clone/internal/object"
	"db-clone/internal/reference"
	"db-clone/internal/schema"

	"go.uber.org/zap"
)

// Mode selects how references leaving the copied structure are written.
type Mode string

const (
	// ModeDuplicate copies within the same store: external references keep their ids.
	ModeDuplicate Mode = "duplicate"
	// ModeExport copies into another store: external references are cleared.
	ModeExport Mode = "export"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeDuplicate, "":
		return ModeDuplicate, nil
	case ModeExport:
		return ModeExport, nil
	}
	return "", Error.New("unknown mode %q (duplicate or export)", s)
}

// Phase is one of the write phases of a run.
type Phase int

const (
	PhaseCreate Phase = iota + 1
	PhaseLink
	PhaseCross
)

func (p Phase) String() string {
	switch p {
	case PhaseCreate:
		return "create"
	case PhaseLink:
		return "link"
	case PhaseCross:
		return "cross"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ControllerOptions configure a Controller.
type ControllerOptions struct {
	Dialect      dialect.Dialect
	Mode         Mode
	Descriptors  []reference.Descriptor
	Modificators []*modificator.Bound
	Host         Host
	Log          *zap.Logger
	// OnProgress is called after every object of every phase.
	OnProgress func(phase Phase, done, total int)
}

// Controller writes a fetched structure in three phases:
//
//  1. create every regular row with its reference columns cleared
//  2. write the reference columns of the created rows
//  3. insert the cross-table rows
//
// Every object therefore has its new id before any reference to it is written.
type Controller struct {
	dst          dialect.Queryer
	d            dialect.Dialect
	mode         Mode
	descriptors  map[string]map[string]reference.Descriptor
	tables       []*schema.Table
	modificators map[string][]*modificator.Bound
	host         Host
	log          *zap.Logger
	onProgress   func(phase Phase, done, total int)

	objects *object.Map
}

var _ modificator.Run = (*Controller)(nil)

func NewController(dst dialect.Queryer, opts ControllerOptions) *Controller {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeDuplicate
	}
	c := &Controller{
		dst:          dst,
		d:            opts.Dialect,
		mode:         mode,
		descriptors:  make(map[string]map[string]reference.Descriptor),
		modificators: make(map[string][]*modificator.Bound),
		host:         opts.Host,
		log:          log,
		onProgress:   opts.OnProgress,
	}
	for _, d := range opts.Descriptors {
		key := strings.ToUpper(d.Table().Name)
		if c.descriptors[key] == nil {
			c.descriptors[key] = make(map[string]reference.Descriptor)
		}
		c.descriptors[key][d.Name()] = d
	}
	AddDependencies(opts.Descriptors)
	for _, m := range opts.Modificators {
		key := strings.ToUpper(m.Table.Name)
		c.modificators[key] = append(c.modificators[key], m)
	}
	return c
}

func (c *Controller) Queryer() dialect.Queryer { return c.dst }
func (c *Controller) Dialect() dialect.Dialect { return c.d }
func (c *Controller) Objects() *object.Map     { return c.objects }
func (c *Controller) Mode() string             { return string(c.mode) }

func (c *Controller) Versioner() modificator.Versioner {
	if c.host == nil {
		return nil
	}
	return c.host
}

// Run writes the objects. The caller owns the transaction behind the destination
// and rolls it back when Run fails.
func (c *Controller) Run(ctx context.Context, objects *object.Map) (*Result, error) {
	c.objects = objects
	regular, cross := c.order(objects)

	names := make([]string, 0, len(regular)+len(cross))
	for _, t := range append(append([]*schema.Table{}, regular...), cross...) {
		names = append(names, t.Name)
	}
	if err := c.d.BeforeCopy(ctx, c.dst, names); err != nil {
		return nil, failure(ctx, Error.New("failed to prepare copy: %v", err))
	}

	res := newResult(c.mode)

	// Phase 1
	start := time.Now()
	var created []*object.Object
	var pending []*object.Object
	for _, t := range regular {
		pending = append(pending, objects.ByTable(t.Name)...)
	}
	for i, obj := range pending {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		action := object.Ignored
		if obj.Copied() {
			if err := c.create(ctx, obj); err != nil {
				return nil, err
			}
			action = object.Created
			created = append(created, obj)
		}
		if err := c.finish(ctx, res, obj, action); err != nil {
			return nil, err
		}
		c.progress(PhaseCreate, i+1, len(pending))
	}
	res.timePhase(PhaseCreate, time.Since(start))

	// Phase 2
	start = time.Now()
	for i, obj := range created {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		if len(obj.References) > 0 {
			if err := c.link(ctx, obj); err != nil {
				return nil, err
			}
			if err := c.finish(ctx, res, obj, object.Updated); err != nil {
				return nil, err
			}
		}
		c.progress(PhaseLink, i+1, len(created))
	}
	res.timePhase(PhaseLink, time.Since(start))

	// Phase 3
	start = time.Now()
	pending = pending[:0]
	for _, t := range cross {
		pending = append(pending, objects.ByTable(t.Name)...)
	}
	for i, obj := range pending {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		action, err := c.insertCross(ctx, obj)
		if err != nil {
			return nil, err
		}
		if err := c.finish(ctx, res, obj, action); err != nil {
			return nil, err
		}
		c.progress(PhaseCross, i+1, len(pending))
	}
	res.timePhase(PhaseCross, time.Since(start))

	if err := c.d.AfterCopy(ctx, c.dst, names); err != nil {
		return nil, failure(ctx, Error.New("failed to finish copy: %v", err))
	}

	for _, obj := range objects.All() {
		if obj.Kind == object.KindExcluded {
			res.Excluded = append(res.Excluded, Exclusion{Table: obj.Table.Name, ID: obj.ID, Name: obj.DisplayName})
		}
	}
	res.sortExcluded()
	c.log.Info("structure written", zap.String("mode", string(c.mode)), zap.Int("created", res.Total()),
		zap.Int("excluded", len(res.Excluded)))
	return res, nil
}

// AddDependencies records on every descriptor's table the tables it can reference.
func AddDependencies(descs []reference.Descriptor) {
	for _, d := range descs {
		for _, t := range d.PossibleTargets() {
			d.Table().AddDependency(t.Name)
		}
	}
}

// order returns the tables of the objects: regular tables in dependency order, then cross tables.
func (c *Controller) order(objects *object.Map) (regular, cross []*schema.Table) {
	seen := make(map[string]bool)
	for _, obj := range objects.All() {
		key := strings.ToUpper(obj.Table.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if obj.Table.CrossTable {
			cross = append(cross, obj.Table)
		} else {
			regular = append(regular, obj.Table)
		}
	}
	return schema.SortTables(regular, c.log), cross
}

// create inserts obj without its id column and with its reference columns at their null value.
func (c *Controller) create(ctx context.Context, obj *object.Object) error {
	t := obj.Table
	var cols []string
	var vals []any
	for _, col := range columns(obj) {
		if strings.EqualFold(col, t.IDColumn) {
			continue
		}
		cols = append(cols, col)
		if obj.IsDeferred(col) {
			vals = append(vals, t.NullValue(col))
			continue
		}
		v, _ := obj.Value(col)
		vals = append(vals, v)
	}
	id, err := c.d.InsertReturningID(ctx, c.dst, t.Name, t.IDColumn, cols, vals)
	if err != nil {
		return failure(ctx, objectError("create copy of", t.Name, obj.ID, err))
	}
	if id == 0 {
		return objectError("create copy of", t.Name, obj.ID, fmt.Errorf("database returned no id"))
	}
	obj.NewID = id
	c.log.Debug("object created", zap.Stringer("object", obj), zap.Int64("new_id", id))
	return nil
}

// link writes the reference columns of a created object.
func (c *Controller) link(ctx context.Context, obj *object.Object) error {
	if err := c.resolveReferences(obj); err != nil {
		return err
	}
	if len(obj.Updates) == 0 {
		return nil
	}
	t := obj.Table
	cols := sortedKeys(obj.Updates)
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		args = append(args, obj.Updates[col])
	}
	args = append(args, obj.NewID)
	query := c.d.UpdateQuery(t.Name, cols, []string{t.IDColumn})
	if _, err := c.dst.ExecContext(ctx, query, args...); err != nil {
		return failure(ctx, objectError("link copy of", t.Name, obj.ID, err))
	}
	return nil
}

// insertCross inserts a cross-table row once all its endpoints are written.
// Rows with an endpoint outside the copy are ignored.
func (c *Controller) insertCross(ctx context.Context, obj *object.Object) (object.Action, error) {
	if err := c.resolveReferences(obj); err != nil {
		return object.Ignored, err
	}
	t := obj.Table
	for _, k := range t.KeyColumns {
		for _, ref := range obj.References {
			if strings.EqualFold(ref.Column, k) && c.isNull(ref) {
				c.log.Debug("cross row ignored", zap.Stringer("object", obj), zap.String("endpoint", ref.Name))
				return object.Ignored, nil
			}
		}
	}

	cols := columns(obj)
	vals := make([]any, len(cols))
	for i, col := range cols {
		vals[i] = valueOf(obj, col)
	}
	if _, err := c.dst.ExecContext(ctx, c.d.InsertQuery(t.Name, cols), vals...); err != nil {
		return object.Ignored, failure(ctx, objectError("create copy of", t.Name, obj.Key, err))
	}
	return object.Created, nil
}

// resolveReferences asks the descriptors to record the new reference values in obj.Updates.
func (c *Controller) resolveReferences(obj *object.Object) error {
	names := make([]string, 0, len(obj.References))
	for n := range obj.References {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		ref := obj.References[n]
		d, ok := c.descriptors[strings.ToUpper(obj.Table.Name)][ref.Name]
		if !ok {
			return objectError("link copy of", obj.Table.Name, obj.Key, fmt.Errorf("no descriptor for reference %s", ref.Name))
		}
		target, newID := c.resolve(obj, ref)
		d.UpdateReference(obj, target, ref.Discriminator, newID)
	}
	return nil
}

// resolve returns the table and value the reference is written with.
func (c *Controller) resolve(obj *object.Object, ref *object.Ref) (*schema.Table, any) {
	switch ref.State {
	case object.RefLinked:
		if t, ok := c.objects.Resolve(ref); ok && t.Copied() && t.NewID != 0 {
			return ref.TargetTable, t.NewID
		}
		c.log.Warn("linked reference target has no copy", zap.Stringer("object", obj), zap.Stringer("reference", ref))
	case object.RefExternal:
		if c.mode == ModeDuplicate {
			return ref.TargetTable, ref.TargetID
		}
	case object.RefNulled, object.RefUnresolved:
	}
	return nil, obj.Table.NullValue(ref.Column)
}

func (c *Controller) isNull(ref *object.Ref) bool {
	switch ref.State {
	case object.RefLinked:
		t, ok := c.objects.Resolve(ref)
		return !ok || !t.Copied() || t.NewID == 0
	case object.RefExternal:
		return c.mode != ModeDuplicate
	}
	return true
}

func (c *Controller) finish(ctx context.Context, res *Result, obj *object.Object, action object.Action) error {
	res.record(obj, action)
	for _, m := range c.modificators[strings.ToUpper(obj.Table.Name)] {
		if err := m.Modify(ctx, c, obj, action); err != nil {
			return failure(ctx, Error.Wrap(err))
		}
	}
	return nil
}

func (c *Controller) progress(p Phase, done, total int) {
	if c.onProgress != nil {
		c.onProgress(p, done, total)
	}
}

// columns returns the columns written for obj, in table order when the table
// lists its columns.
func columns(obj *object.Object) []string {
	if len(obj.Table.Columns) > 0 {
		return obj.Table.ColumnNames()
	}
	return sortedKeys(obj.Values)
}

// valueOf returns the pending reference value of col, or the fetched one.
func valueOf(obj *object.Object, col string) any {
	for k, v := range obj.Updates {
		if strings.EqualFold(k, col) {
			return v
		}
	}
	v, _ := obj.Value(col)
	return v
}
