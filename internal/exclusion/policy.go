// Package exclusion decides which objects of a structure are left out of a copy.
package exclusion

import (
	"context"
	"fmt"
	"strings"

	"db-clone/internal/dialect"
	"db-clone/internal/object"
	"db-clone/internal/schema"

	"github.com/zeebo/errs"
)

// Error is the class of exclusion errors.
var Error = errs.Class("exclusion")

// Policy decides whether an object is copied.
type Policy interface {
	Decide(ctx context.Context, table *schema.Table, id int64) (object.Decision, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, table *schema.Table, id int64) (object.Decision, error)

func (f PolicyFunc) Decide(ctx context.Context, table *schema.Table, id int64) (object.Decision, error) {
	return f(ctx, table, id)
}

// None copies everything.
var None Policy = PolicyFunc(func(context.Context, *schema.Table, int64) (object.Decision, error) {
	return object.NotExcluded, nil
})

// ParseDecision parses "not_excluded", "excluded_null" (or "null") and "excluded_noted" (or "noted").
func ParseDecision(s string) (object.Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "not_excluded", "none", "":
		return object.NotExcluded, nil
	case "excluded_null", "null":
		return object.ExcludedNull, nil
	case "excluded_noted", "noted":
		return object.ExcludedNoted, nil
	}
	return object.NotExcluded, Error.New("unknown decision %q", s)
}

// Memo evaluates a policy at most once per object key and replays the answer afterwards.
type Memo struct {
	policy    Policy
	decisions map[object.Key]object.Decision
}

func Memoize(p Policy) *Memo {
	if p == nil {
		p = None
	}
	return &Memo{policy: p, decisions: make(map[object.Key]object.Decision)}
}

func (m *Memo) Decide(ctx context.Context, table *schema.Table, id int64) (object.Decision, error) {
	key := object.IDKey(table, id)
	if d, ok := m.decisions[key]; ok {
		return d, nil
	}
	d, err := m.policy.Decide(ctx, table, id)
	if err != nil {
		return object.NotExcluded, err
	}
	m.decisions[key] = d
	return d, nil
}

// Decided returns the number of keys decided so far.
func (m *Memo) Decided() int {
	return len(m.decisions)
}

// IDs excludes a fixed set of ids per table.
type IDs struct {
	decisions map[string]map[int64]object.Decision
}

func NewIDs() *IDs {
	return &IDs{decisions: make(map[string]map[int64]object.Decision)}
}

func (p *IDs) Add(table string, decision object.Decision, ids ...int64) {
	key := strings.ToLower(table)
	if p.decisions[key] == nil {
		p.decisions[key] = make(map[int64]object.Decision)
	}
	for _, id := range ids {
		p.decisions[key][id] = decision
	}
}

func (p *IDs) Decide(ctx context.Context, table *schema.Table, id int64) (object.Decision, error) {
	return p.decisions[strings.ToLower(table.Name)][id], nil
}

// Where excludes the rows of one table matching a SQL predicate.
// The predicate may use ${property} tokens and refers to the row as t.
type Where struct {
	q         dialect.Queryer
	d         dialect.Dialect
	table     string
	predicate string
	decision  object.Decision
	props     map[string]any
}

func NewWhere(q dialect.Queryer, d dialect.Dialect, table, predicate string, decision object.Decision, props map[string]any) *Where {
	return &Where{q: q, d: d, table: table, predicate: predicate, decision: decision, props: props}
}

func (p *Where) Decide(ctx context.Context, table *schema.Table, id int64) (object.Decision, error) {
	if !strings.EqualFold(table.Name, p.table) {
		return object.NotExcluded, nil
	}
	args := schema.NewArgs(p.d.Placeholder)
	idMark := args.Add(id)
	cond, err := args.Bind(p.predicate, nil, p.props)
	if err != nil {
		return object.NotExcluded, Error.Wrap(err)
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s t WHERE t.%s = %s AND (%s)",
		table.Name, table.IDColumn, idMark, cond)

	var n int
	if err := p.q.QueryRowContext(ctx, query, args.Values()...).Scan(&n); err != nil {
		return object.NotExcluded, Error.New("failed to evaluate exclusion of %s %d: %v", table.Name, id, err)
	}
	if n > 0 {
		return p.decision, nil
	}
	return object.NotExcluded, nil
}

// Chain asks each policy in turn; the first exclusion wins.
type Chain []Policy

func (c Chain) Decide(ctx context.Context, table *schema.Table, id int64) (object.Decision, error) {
	for _, p := range c {
		d, err := p.Decide(ctx, table, id)
		if err != nil {
			return object.NotExcluded, err
		}
		if d != object.NotExcluded {
			return d, nil
		}
	}
	return object.NotExcluded, nil
}
