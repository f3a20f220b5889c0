package config_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"db-clone/internal/config"
	"db-clone/internal/dialect"
	"db-clone/internal/engine"
	"db-clone/internal/exclusion"
	"db-clone/internal/object"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddl = `
CREATE TABLE node (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE folder (id INTEGER PRIMARY KEY, node_id INTEGER REFERENCES node(id), mother INTEGER, name TEXT);
CREATE TABLE page (id INTEGER PRIMARY KEY, folder_id INTEGER REFERENCES folder(id), name TEXT, online INTEGER);
CREATE TABLE folder_group (folder_id INTEGER REFERENCES folder(id), group_id INTEGER, PRIMARY KEY (folder_id, group_id));
INSERT INTO node VALUES (1, 'Site');
INSERT INTO folder VALUES (1, 1, 0, 'Root'), (2, 1, 1, 'Sub');
INSERT INTO page VALUES (1, 1, 'Home', 1), (2, 1, 'Secret', 1), (3, 2, 'Offline', 0);
INSERT INTO folder_group VALUES (1, 7);
`

const copyYAML = `
copy:
  mode: duplicate
  root:
    table: node
    where: t.id = ?
    params: [1]
  properties:
    Online: 1
  tables:
    - name: node
    - name: folder
      naming:
        column: name
    - name: page
      restrict: t.online = ${online}
    - name: folder_group
      cross: true
  references:
    - {table: folder, name: node, type: column, params: {column: node_id, target: node, linked: true}}
    - {table: folder, name: mother, type: column, params: {column: mother, target: folder, linked: true}}
    - {table: page, name: folder, type: column, params: {column: folder_id, target: folder, linked: true}}
    - {table: folder_group, name: folder, type: column, params: {column: folder_id, target: folder, linked: true}}
  modificators:
    - table: folder
      type: rename
      params: {column: name, scope: mother}
  exclusions:
    - {table: folder, decision: noted, ids: [9]}
    - {table: page, where: "t.name = 'Secret'"}
`

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(ddl)
	require.NoError(t, err)
	return db
}

func load(t *testing.T, doc string) *config.Copy {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	c, err := config.Load(v, "copy")
	require.NoError(t, err)
	return c
}

func TestLoad(t *testing.T) {
	c := load(t, copyYAML)

	assert.Equal(t, "duplicate", c.Mode)
	assert.Equal(t, "node", c.Root.Table)
	require.Len(t, c.Tables, 4)
	assert.True(t, c.Tables[3].Cross)
	assert.Equal(t, "name", c.Tables[1].Naming.Column)
	require.Len(t, c.References, 4)
	// booleans arrive as strings through mapstructure's weak decoding
	assert.Equal(t, "1", c.References[0].Params["linked"])
	assert.Equal(t, []int64{9}, c.Exclusions[0].IDs)
	assert.Equal(t, "noted", c.Exclusions[0].Decision)

	v := viper.New()
	_, err := config.Load(v, "copy")
	assert.True(t, config.Error.Has(err))
}

func TestBuild(t *testing.T) {
	db := openDB(t)
	c := load(t, copyYAML)
	run, err := c.Build(context.Background(), db, dialect.GetDialect("sqlite3"), nil)
	require.NoError(t, err)

	assert.Equal(t, engine.ModeDuplicate, run.Mode)
	assert.Equal(t, map[string]any{"online": 1}, run.Properties)
	assert.Len(t, run.Tables.Tables(), 4)
	assert.Len(t, run.Descriptors, 4)
	assert.Len(t, run.Modificators, 1)
	assert.Equal(t, engine.Root{Table: "node", Where: "t.id = ?", Params: []any{1}}, run.Root)

	// Introspection completes columns and the cross table key.
	page, ok := run.Tables.Get("page")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "folder_id", "name", "online"}, page.ColumnNames())
	fg, _ := run.Tables.Get("folder_group")
	assert.Equal(t, []string{"folder_id", "group_id"}, fg.KeyColumns)

	chain, ok := run.Policy.(exclusion.Chain)
	require.True(t, ok)
	assert.Len(t, chain, 2)
	folder, _ := run.Tables.Get("folder")
	decision, err := run.Policy.Decide(context.Background(), folder, 9)
	require.NoError(t, err)
	assert.Equal(t, object.ExcludedNoted, decision)
	decision, err = run.Policy.Decide(context.Background(), page, 2)
	require.NoError(t, err)
	assert.Equal(t, object.ExcludedNull, decision)
	decision, err = run.Policy.Decide(context.Background(), page, 1)
	require.NoError(t, err)
	assert.Equal(t, object.NotExcluded, decision)
}

func TestBuild_AutoReferences(t *testing.T) {
	db := openDB(t)
	c := load(t, `
copy:
  auto_references: true
  root: {table: node, where: "t.id = 1"}
  tables:
    - name: node
    - name: folder
    - name: page
    - name: folder_group
      cross: true
  references:
    - {table: page, name: folder, type: column, params: {column: folder_id, target: folder, linked: true}}
`)
	run, err := c.Build(context.Background(), db, dialect.GetDialect("sqlite3"), nil)
	require.NoError(t, err)

	got := make(map[string]string)
	for _, d := range run.Descriptors {
		got[d.Table().Name+"."+d.LinkColumn()] = d.PossibleTargets()[0].Name
	}
	assert.Equal(t, map[string]string{
		"page.folder_id":         "folder",
		"folder.node_id":         "node",
		"folder_group.folder_id": "folder",
	}, got)
	_, chained := run.Policy.(exclusion.Chain)
	assert.False(t, chained)
}

func TestBuild_Errors(t *testing.T) {
	db := openDB(t)
	base := `
copy:
  root: {table: node, where: "t.id = 1"}
  tables: [{name: node}, {name: folder}]
`
	tests := []struct {
		name, extra, want string
	}{
		{"unknown mode", "  mode: clone\n", "unknown mode"},
		{"unknown reference table", "  references: [{table: nope, name: x, type: column, params: {column: a, target: node}}]\n", "unknown table nope"},
		{"unknown reference type", "  references: [{table: folder, name: x, type: magic, params: {column: node_id}}]\n", "unknown reference type"},
		{"duplicate reference", "  references:\n" +
			"    - {table: folder, name: node, type: column, params: {column: node_id, target: node}}\n" +
			"    - {table: folder, name: node, type: column, params: {column: node_id, target: node}}\n", "configured twice"},
		{"bad descriptor params", "  references: [{table: folder, name: node, type: column, params: {target: node}}]\n", "missing parameter column"},
		{"unknown modificator", "  modificators: [{table: folder, type: explode}]\n", "unknown modificator type"},
		{"modificator mode", "  modificators: [{table: folder, type: uuid, modes: [sideways], params: {column: name}}]\n", "unknown mode"},
		{"empty exclusion", "  exclusions: [{table: folder}]\n", "needs ids or where"},
		{"bad decision", "  exclusions: [{table: folder, decision: maybe, ids: [1]}]\n", "unknown decision"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := load(t, base+tt.extra)
			_, err := c.Build(context.Background(), db, dialect.GetDialect("sqlite3"), nil)
			require.Error(t, err)
			assert.True(t, config.Error.Has(err))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("missing table in schema", func(t *testing.T) {
		c := load(t, "copy:\n  root: {table: node, where: \"t.id = 1\"}\n  tables: [{name: node}, {name: ghost}]\n")
		_, err := c.Build(context.Background(), db, dialect.GetDialect("sqlite3"), nil)
		assert.ErrorContains(t, err, "ghost")
	})
	t.Run("unknown configured column", func(t *testing.T) {
		c := load(t, "copy:\n  root: {table: node, where: \"t.id = 1\"}\n  tables: [{name: node, columns: [id, nickname]}]\n")
		_, err := c.Build(context.Background(), db, dialect.GetDialect("sqlite3"), nil)
		assert.ErrorContains(t, err, "column nickname not found in table node")
	})
	t.Run("no root", func(t *testing.T) {
		c := load(t, "copy:\n  tables: [{name: node}]\n")
		_, err := c.Build(context.Background(), db, dialect.GetDialect("sqlite3"), nil)
		assert.ErrorContains(t, err, "no root table")
	})
}

func TestSetProperty(t *testing.T) {
	c := &config.Copy{}
	require.NoError(t, c.SetProperty("Language=de"))
	require.NoError(t, c.SetProperty("node=12"))
	assert.Equal(t, map[string]any{"language": "de", "node": int64(12)}, c.Properties)

	assert.Error(t, c.SetProperty("novalue"))
	assert.Error(t, c.SetProperty("=x"))
}

// TestBuild_Copy runs a configured copy end to end.
func TestBuild_Copy(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	d := dialect.GetDialect("sqlite3")
	run, err := load(t, copyYAML).Build(ctx, db, d, nil)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	s := engine.NewStructureCopy(tx, engine.Options{
		Dialect:     d,
		Tables:      run.Tables,
		Descriptors: run.Descriptors,
		Policy:      run.Policy,
		Names:       exclusion.NewNameResolver(tx, d, run.Tables),
		Properties:  run.Properties,
	})
	objects, err := s.Fetch(ctx, run.Root)
	require.NoError(t, err)
	res, err := engine.NewController(tx, engine.ControllerOptions{
		Dialect:      d,
		Mode:         run.Mode,
		Descriptors:  run.Descriptors,
		Modificators: run.Modificators,
	}).Run(ctx, objects)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, res.Table("node").Created)
	assert.Equal(t, 2, res.Table("folder").Created)
	// page 2 is excluded and page 3 is offline
	assert.Equal(t, 1, res.Table("page").Created)
	assert.Equal(t, 1, res.Table("folder_group").Created)

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM folder WHERE id = ?", res.NewID("folder", 1)).Scan(&name))
	assert.Equal(t, "Copy 1 of Root", name)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM folder_group WHERE folder_id = ? AND group_id = 7",
		res.NewID("folder", 1)).Scan(&n))
	assert.Equal(t, 1, n)
}

// TestBuild_ConfiguredColumns copies a table with a column selection whose
// link columns are NOT NULL; deferred links are written as 0 in phase 1.
func TestBuild_ConfiguredColumns(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "columns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`
CREATE TABLE node (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE folder (
    id INTEGER PRIMARY KEY,
    node_id INTEGER NOT NULL DEFAULT 0,
    mother INTEGER NOT NULL DEFAULT 0,
    name TEXT,
    secret TEXT
);
INSERT INTO node VALUES (1, 'Site');
INSERT INTO folder VALUES (1, 1, 0, 'Root', 'x'), (2, 1, 1, 'Sub', 'y');
`)
	require.NoError(t, err)

	ctx := context.Background()
	d := dialect.GetDialect("sqlite3")
	run, err := load(t, `
copy:
  root:
    table: node
    where: t.id = ?
    params: [1]
  tables:
    - name: node
    - name: folder
      columns: [id, node_id, mother, name]
  references:
    - {table: folder, name: node, type: column, params: {column: node_id, target: node, linked: true}}
    - {table: folder, name: mother, type: column, params: {column: mother, target: folder, linked: true}}
`).Build(ctx, db, d, nil)
	require.NoError(t, err)

	folder, ok := run.Tables.Get("folder")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "node_id", "mother", "name"}, folder.ColumnNames())
	nodeID, _ := folder.Column("node_id")
	assert.False(t, nodeID.IsNullable)
	assert.NotEmpty(t, nodeID.DataType)
	assert.Equal(t, 0, folder.NullValue("mother"))
	assert.Nil(t, folder.NullValue("name"))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	s := engine.NewStructureCopy(tx, engine.Options{
		Dialect:     d,
		Tables:      run.Tables,
		Descriptors: run.Descriptors,
		Policy:      run.Policy,
		Names:       exclusion.NewNameResolver(tx, d, run.Tables),
		Properties:  run.Properties,
	})
	objects, err := s.Fetch(ctx, run.Root)
	require.NoError(t, err)
	res, err := engine.NewController(tx, engine.ControllerOptions{
		Dialect:     d,
		Mode:        run.Mode,
		Descriptors: run.Descriptors,
	}).Run(ctx, objects)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 2, res.Table("folder").Created)
	var node, mother int64
	var secret sql.NullString
	require.NoError(t, db.QueryRow("SELECT node_id, mother, secret FROM folder WHERE id = ?", res.NewID("folder", 2)).
		Scan(&node, &mother, &secret))
	assert.Equal(t, res.NewID("node", 1), node)
	assert.Equal(t, res.NewID("folder", 1), mother)
	assert.False(t, secret.Valid)

	require.NoError(t, db.QueryRow("SELECT mother FROM folder WHERE id = ?", res.NewID("folder", 1)).Scan(&mother))
	assert.Equal(t, int64(0), mother)
}
