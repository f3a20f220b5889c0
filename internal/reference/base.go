package reference

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"db-clone/internal/object"
	"db-clone/internal/schema"
)

// base carries the parameters shared by all built-in descriptors.
type base struct {
	name    string
	table   *schema.Table
	column  string
	targets []*schema.Table

	linked      bool
	traverse    bool
	unsatisfied Resolution

	whenColumn string
	whenValues []string
}

func (b *base) init(params map[string]string) error {
	b.column = params["column"]
	if b.column == "" {
		return b.errorf("missing parameter column")
	}

	var err error
	if b.linked, err = boolParam(params, "linked", false); err != nil {
		return b.errorf("%v", err)
	}
	if b.traverse, err = boolParam(params, "traverse", true); err != nil {
		return b.errorf("%v", err)
	}

	switch strings.ToLower(params["unsatisfied"]) {
	case "", "fail":
		b.unsatisfied = ResolveFail
	case "null":
		b.unsatisfied = ResolveNull
	case "live":
		b.unsatisfied = ResolveKeep
	default:
		return b.errorf("unsatisfied must be one of fail, null, live (got %q)", params["unsatisfied"])
	}

	b.whenColumn = params["when_column"]
	if b.whenColumn != "" {
		b.whenValues = splitList(params["when_values"])
		if len(b.whenValues) == 0 {
			return b.errorf("when_column %s without when_values", b.whenColumn)
		}
	}
	return nil
}

func (b *base) errorf(format string, args ...any) error {
	return Error.New("%s.%s: %s", b.table.Name, b.name, fmt.Sprintf(format, args...))
}

func (b *base) Name() string                     { return b.name }
func (b *base) Table() *schema.Table             { return b.table }
func (b *base) LinkColumn() string               { return b.column }
func (b *base) PossibleTargets() []*schema.Table { return b.targets }
func (b *base) Linked() bool                     { return b.linked }
func (b *base) Traverse() bool                   { return b.traverse }

func (b *base) UpdateReference(obj *object.Object, target *schema.Table, discriminator any, newID any) {
	obj.Updates[b.column] = newID
}

// IsReferenceValueNeeded applies the when_column condition.
func (b *base) IsReferenceValueNeeded(row map[string]any, column string) bool {
	if b.whenColumn == "" {
		return true
	}
	v := lookup(row, b.whenColumn)
	for _, w := range b.whenValues {
		if normalize(v) == normalize(w) {
			return true
		}
	}
	return false
}

// HandleUnsatisfiedReference applies the unsatisfied parameter. "live" keeps the
// original id when the host still knows the row, and nulls it otherwise.
func (b *base) HandleUnsatisfiedReference(ctx context.Context, c Copier, obj *object.Object, table *schema.Table, id int64) (Resolution, error) {
	switch b.unsatisfied {
	case ResolveFail, ResolveNull:
		return b.unsatisfied, nil
	case ResolveKeep:
		exists, err := c.ObjectExists(ctx, table, id)
		if err != nil {
			return ResolveFail, err
		}
		if exists {
			return ResolveKeep, nil
		}
		return ResolveNull, nil
	}
	return ResolveFail, nil
}

func (b *base) hasTarget(t *schema.Table) bool {
	for _, pt := range b.targets {
		if strings.EqualFold(pt.Name, t.Name) {
			return true
		}
	}
	return false
}

// linkingQuery builds the restriction selecting rows whose link column holds id.
func (b *base) linkingQuery(id int64) (string, []any) {
	cond := "t." + b.column + " = ?"
	params := []any{id}
	if b.whenColumn != "" {
		cond += " AND t." + b.whenColumn + " IN (" + marks(len(b.whenValues)) + ")"
		for _, w := range b.whenValues {
			params = append(params, w)
		}
	}
	return cond, params
}

func (b *base) LinkingObjects(ctx context.Context, c Copier, obj *object.Object) ([]*object.Object, error) {
	if !b.hasTarget(obj.Table) {
		return nil, nil
	}
	cond, params := b.linkingQuery(obj.ID)
	return c.FetchObjects(ctx, b.table, "", cond, params, b.name, obj)
}

func boolParam(params map[string]string, key string, def bool) (bool, error) {
	s, ok := params[key]
	if !ok || s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("parameter %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var res []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

func marks(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func lookup(row map[string]any, column string) any {
	if v, ok := row[column]; ok {
		return v
	}
	for k, v := range row {
		if strings.EqualFold(k, column) {
			return v
		}
	}
	return nil
}

// normalize turns a discriminator value into a comparable string.
func normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return strings.ToLower(strings.TrimSpace(string(x)))
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	}
	if id, err := object.ToInt64(v); err == nil {
		return strconv.FormatInt(id, 10)
	}
	return strings.ToLower(fmt.Sprint(v))
}
