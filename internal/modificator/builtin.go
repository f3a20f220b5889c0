package modificator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"db-clone/internal/object"
	"db-clone/internal/schema"

	"github.com/google/uuid"
)

// UUID gives the written row a fresh UUID in column.
type UUID struct {
	column string
}

func (m *UUID) Init(table *schema.Table, params map[string]string) error {
	if err := required(params, "column"); err != nil {
		return err
	}
	m.column = params["column"]
	return nil
}

func (m *UUID) Modify(ctx context.Context, run Run, obj *object.Object, action object.Action) error {
	return updateRow(ctx, run, obj, []string{m.column}, []any{uuid.NewString()})
}

// Set writes a constant into column, e.g. to take copied pages offline.
type Set struct {
	column string
	value  string
	null   bool
}

func (m *Set) Init(table *schema.Table, params map[string]string) error {
	if err := required(params, "column"); err != nil {
		return err
	}
	m.column = params["column"]
	m.value = params["value"]
	if s := params["null"]; s != "" {
		null, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("parameter null: %w", err)
		}
		m.null = null
	}
	return nil
}

func (m *Set) Modify(ctx context.Context, run Run, obj *object.Object, action object.Action) error {
	var v any = m.value
	if m.null {
		v = nil
	}
	return updateRow(ctx, run, obj, []string{m.column}, []any{v})
}

var errNoTransaction = errors.New("no transaction available")

// Version asks the host to create a version record of the written row.
type Version struct{}

func (m *Version) Init(table *schema.Table, params map[string]string) error {
	if table.CrossTable {
		return errors.New("cross tables are not versioned")
	}
	return nil
}

func (m *Version) Modify(ctx context.Context, run Run, obj *object.Object, action object.Action) error {
	v := run.Versioner()
	if v == nil {
		return errNoTransaction
	}
	return v.CreateVersion(ctx, obj.Table, obj.NewID)
}
