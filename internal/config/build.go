package config

import (
	"context"
	"strings"

	"db-clone/internal/dialect"
	"db-clone/internal/engine"
	"db-clone/internal/exclusion"
	"db-clone/internal/modificator"
	"db-clone/internal/reference"
	"db-clone/internal/schema"

	"go.uber.org/zap"
)

// Run holds everything a copy needs besides its connections.
type Run struct {
	Tables       *schema.Registry
	Descriptors  []reference.Descriptor
	Modificators []*modificator.Bound
	Policy       exclusion.Policy
	Root         engine.Root
	Mode         engine.Mode
	Properties   map[string]any
}

// Build wires the copy definition against the source database. Descriptors and
// modificators are created fresh, so every run gets its own instances.
func (c *Copy) Build(ctx context.Context, q dialect.Queryer, d dialect.Dialect, log *zap.Logger) (*Run, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mode, err := engine.ParseMode(c.Mode)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	if err := schema.Introspect(ctx, q, d, c.Schema, reg); err != nil {
		return nil, Error.New("failed to read schema: %v", err)
	}

	run := &Run{Tables: reg, Mode: mode, Properties: c.properties()}
	if run.Descriptors, err = c.descriptors(ctx, q, reg, log); err != nil {
		return nil, err
	}
	if run.Modificators, err = c.modificators(reg); err != nil {
		return nil, err
	}
	if run.Policy, err = c.policy(q, d, reg, run.Properties); err != nil {
		return nil, err
	}
	if run.Root, err = c.root(reg); err != nil {
		return nil, err
	}

	log.Info("copy configured",
		zap.String("mode", string(mode)),
		zap.Int("tables", len(reg.Tables())),
		zap.Int("references", len(run.Descriptors)),
		zap.Int("modificators", len(run.Modificators)),
		zap.Int("exclusions", len(c.Exclusions)))
	return run, nil
}

// Registry builds the configured tables. Column lists left empty are completed by
// schema.Introspect.
func (c *Copy) Registry() (*schema.Registry, error) {
	if len(c.Tables) == 0 {
		return nil, Error.New("no tables configured")
	}
	reg := schema.NewRegistry()
	for _, tc := range c.Tables {
		t := &schema.Table{
			Name:       tc.Name,
			IDColumn:   tc.IDColumn,
			Restrict:   tc.Restrict,
			CrossTable: tc.Cross,
			KeyColumns: tc.KeyColumns,
			Naming: schema.Naming{
				Column: tc.Naming.Column,
			},
		}
		if j := tc.Naming.Join; j != nil {
			t.Naming.Join = &schema.NameJoin{Table: j.Table, Column: j.Column, Key: j.Key}
		}
		if def := tc.Naming.Definition; def != nil {
			t.Naming.Definition = &schema.NameDefinition{Column: def.Column, Table: def.Table}
		}
		for _, col := range tc.Columns {
			t.Columns = append(t.Columns, &schema.Column{Name: col})
		}
		if err := reg.Add(t); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return reg, nil
}

func (c *Copy) descriptors(ctx context.Context, q dialect.Queryer, reg *schema.Registry, log *zap.Logger) ([]reference.Descriptor, error) {
	var descs []reference.Descriptor
	seen := make(map[string]bool)
	// covered holds table.column pairs written by a configured descriptor.
	covered := make(map[string]bool)

	for _, rc := range c.References {
		t, ok := reg.Get(rc.Table)
		if !ok {
			return nil, Error.New("reference %s: unknown table %s", rc.Name, rc.Table)
		}
		name := rc.Name
		if name == "" {
			name = rc.Params["column"]
		}
		key := strings.ToLower(t.Name + "." + name)
		if seen[key] {
			return nil, Error.New("reference %s.%s configured twice", t.Name, name)
		}
		seen[key] = true

		desc, err := reference.New(rc.Type, name, t)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if err := desc.Init(ctx, q, reg, rc.Params); err != nil {
			return nil, Error.Wrap(err)
		}
		covered[strings.ToLower(t.Name+"."+desc.LinkColumn())] = true
		descs = append(descs, desc)
	}

	if !c.AutoReferences {
		return descs, nil
	}
	for _, t := range reg.Tables() {
		for _, fk := range t.ForeignKeys {
			key := strings.ToLower(t.Name + "." + fk.Column)
			if covered[key] || seen[key] {
				continue
			}
			if target, ok := reg.Get(fk.RefTable); !ok || target.CrossTable {
				continue
			}
			desc, err := reference.New("column", fk.Column, t)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			if err := desc.Init(ctx, q, reg, map[string]string{"column": fk.Column, "target": fk.RefTable}); err != nil {
				return nil, Error.Wrap(err)
			}
			covered[key] = true
			log.Debug("reference derived from foreign key", zap.String("table", t.Name),
				zap.String("column", fk.Column), zap.String("target", fk.RefTable))
			descs = append(descs, desc)
		}
	}
	return descs, nil
}

func (c *Copy) modificators(reg *schema.Registry) ([]*modificator.Bound, error) {
	var mods []*modificator.Bound
	for _, mc := range c.Modificators {
		t, ok := reg.Get(mc.Table)
		if !ok {
			return nil, Error.New("modificator %s: unknown table %s", mc.Type, mc.Table)
		}
		for _, mode := range mc.Modes {
			if _, err := engine.ParseMode(mode); err != nil {
				return nil, Error.New("modificator %s on %s: %v", mc.Type, t.Name, err)
			}
		}
		m, err := modificator.New(mc.Type, t, mc.Params, mc.Actions, mc.Modes)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// policy chains the exclusions in configuration order. An exclusion without a
// decision drops the rows (excluded_null).
func (c *Copy) policy(q dialect.Queryer, d dialect.Dialect, reg *schema.Registry, props map[string]any) (exclusion.Policy, error) {
	if len(c.Exclusions) == 0 {
		return exclusion.None, nil
	}
	var chain exclusion.Chain
	for _, ec := range c.Exclusions {
		t, ok := reg.Get(ec.Table)
		if !ok {
			return nil, Error.New("exclusion: unknown table %s", ec.Table)
		}
		if t.CrossTable {
			return nil, Error.New("exclusion: cross table %s has no ids", t.Name)
		}
		if ec.Decision == "" {
			ec.Decision = "excluded_null"
		}
		decision, err := exclusion.ParseDecision(ec.Decision)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if len(ec.IDs) == 0 && ec.Where == "" {
			return nil, Error.New("exclusion on %s needs ids or where", t.Name)
		}
		if len(ec.IDs) > 0 {
			ids := exclusion.NewIDs()
			ids.Add(t.Name, decision, ec.IDs...)
			chain = append(chain, ids)
		}
		if ec.Where != "" {
			chain = append(chain, exclusion.NewWhere(q, d, t.Name, ec.Where, decision, props))
		}
	}
	return chain, nil
}

func (c *Copy) root(reg *schema.Registry) (engine.Root, error) {
	if c.Root.Table == "" {
		return engine.Root{}, Error.New("no root table configured")
	}
	t, ok := reg.Get(c.Root.Table)
	if !ok {
		return engine.Root{}, Error.New("root table %s is not configured", c.Root.Table)
	}
	if t.CrossTable {
		return engine.Root{}, Error.New("root table %s is a cross table", t.Name)
	}
	where := c.Root.Where
	if where == "" {
		return engine.Root{}, Error.New("root of %s needs a where clause", t.Name)
	}
	params := make([]any, len(c.Root.Params))
	for i, p := range c.Root.Params {
		if s, ok := p.(string); ok {
			params[i] = ParseValue(s)
			continue
		}
		params[i] = p
	}
	return engine.Root{Table: t.Name, Where: where, Params: params}, nil
}
