package modificator_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"db-clone/internal/dialect"
	"db-clone/internal/modificator"
	"db-clone/internal/object"
	"db-clone/internal/schema"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRun struct {
	db        *sql.DB
	mode      string
	versioner modificator.Versioner
	objects   *object.Map
}

func (r *testRun) Queryer() dialect.Queryer         { return r.db }
func (r *testRun) Dialect() dialect.Dialect         { return dialect.GetDialect("sqlite3") }
func (r *testRun) Objects() *object.Map             { return r.objects }
func (r *testRun) Mode() string                     { return r.mode }
func (r *testRun) Versioner() modificator.Versioner { return r.versioner }

type recordingVersioner struct {
	ids []int64
}

func (v *recordingVersioner) CreateVersion(ctx context.Context, table *schema.Table, id int64) error {
	v.ids = append(v.ids, id)
	return nil
}

var pageTable = &schema.Table{
	Name:     "page",
	IDColumn: "id",
	Columns: []*schema.Column{
		{Name: "id", DataType: "integer"},
		{Name: "name", DataType: "text"},
		{Name: "folder_id", DataType: "integer"},
		{Name: "uuid", DataType: "text"},
		{Name: "online", DataType: "integer"},
		{Name: "editor_mail", DataType: "varchar", Length: 40, Meaning: "email"},
	},
}

func setup(t *testing.T) *testRun {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "mod.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`
CREATE TABLE page (id INTEGER PRIMARY KEY, name TEXT, folder_id INTEGER, uuid TEXT, online INTEGER, editor_mail VARCHAR(40));
INSERT INTO page VALUES
  (1, 'Start', 1, 'a', 1, 'x@example.com'),
  (2, 'COPY 1 OF Start', 1, 'b', 1, NULL),
  (3, 'Start', 2, 'c', 1, NULL),
  (4, 'Start', 1, 'd', 1, NULL);`)
	require.NoError(t, err)
	return &testRun{db: db, mode: "duplicate", objects: object.NewMap()}
}

// written returns an object standing for page row 4, written as a copy of row 1.
func written(values map[string]any) *object.Object {
	obj := object.New(pageTable, object.IDKey(pageTable, 1), 1, values)
	obj.NewID = 4
	return obj
}

func column(t *testing.T, db *sql.DB, col string, id int64) sql.NullString {
	t.Helper()
	var v sql.NullString
	require.NoError(t, db.QueryRow("SELECT "+col+" FROM page WHERE id = ?", id).Scan(&v))
	return v
}

func TestNew(t *testing.T) {
	_, err := modificator.New("reflective", pageTable, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, modificator.Error.Has(err))

	_, err = modificator.New("uuid", pageTable, map[string]string{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing parameter column")

	_, err = modificator.New("uuid", pageTable, map[string]string{"column": "uuid"}, []string{"sometimes"}, nil)
	require.Error(t, err)

	_, err = modificator.New("rename", pageTable, map[string]string{"column": "name", "scope": "folder_id", "format": "Copy of %s"}, nil, nil)
	require.Error(t, err)
}

func TestBound_Applies(t *testing.T) {
	def, err := modificator.New("uuid", pageTable, map[string]string{"column": "uuid"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, def.Applies(object.Created, "duplicate"))
	assert.True(t, def.Applies(object.Created, "export"))
	assert.False(t, def.Applies(object.Updated, "duplicate"))
	assert.False(t, def.Applies(object.Ignored, "duplicate"))

	b, err := modificator.New("set", pageTable, map[string]string{"column": "online", "value": "0"},
		[]string{"created", "updated"}, []string{"Duplicate"})
	require.NoError(t, err)
	assert.True(t, b.Applies(object.Updated, "duplicate"))
	assert.False(t, b.Applies(object.Created, "export"))
}

func TestUUIDAndSet(t *testing.T) {
	run := setup(t)
	ctx := context.Background()
	obj := written(map[string]any{"name": "Start"})

	u, err := modificator.New("uuid", pageTable, map[string]string{"column": "uuid"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, u.Modify(ctx, run, obj, object.Created))
	got := column(t, run.db, "uuid", 4)
	_, err = uuid.Parse(got.String)
	require.NoError(t, err)

	s, err := modificator.New("set", pageTable, map[string]string{"column": "online", "value": "0"}, nil, []string{"export"})
	require.NoError(t, err)
	// Not applied in duplicate mode.
	require.NoError(t, s.Modify(ctx, run, obj, object.Created))
	assert.Equal(t, "1", column(t, run.db, "online", 4).String)

	run.mode = "export"
	require.NoError(t, s.Modify(ctx, run, obj, object.Created))
	assert.Equal(t, "0", column(t, run.db, "online", 4).String)

	n, err := modificator.New("set", pageTable, map[string]string{"column": "editor_mail", "null": "true"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, n.Modify(ctx, run, written(nil), object.Created))
	assert.False(t, column(t, run.db, "editor_mail", 4).Valid)
}

func TestRename_ProbesFreeName(t *testing.T) {
	run := setup(t)
	ctx := context.Background()
	r, err := modificator.New("rename", pageTable, map[string]string{"column": "name", "scope": "folder_id"}, nil, nil)
	require.NoError(t, err)

	// Folder 1 holds "Start" and "COPY 1 OF Start"; names compare case-insensitively.
	require.NoError(t, r.Modify(ctx, run, written(map[string]any{"name": "Start", "folder_id": int64(1)}), object.Created))
	assert.Equal(t, "Copy 2 of Start", column(t, run.db, "name", 4).String)
}

func TestRename_NoCollisionKeepsName(t *testing.T) {
	run := setup(t)
	_, err := run.db.Exec("UPDATE page SET folder_id = 9 WHERE id = 4")
	require.NoError(t, err)
	r, err := modificator.New("rename", pageTable, map[string]string{"column": "name", "scope": "folder_id"}, nil, nil)
	require.NoError(t, err)

	obj := written(map[string]any{"name": "Start", "folder_id": int64(1)})
	obj.Updates["folder_id"] = int64(9)
	require.NoError(t, r.Modify(context.Background(), run, obj, object.Created))
	assert.Equal(t, "Start", column(t, run.db, "name", 4).String)
}

func TestRename_SkippedWhenScopeIsCopied(t *testing.T) {
	run := setup(t)
	r, err := modificator.New("rename", pageTable, map[string]string{"column": "name", "scope": "folder_id"}, nil, nil)
	require.NoError(t, err)

	folder := &schema.Table{Name: "folder", IDColumn: "id"}
	require.NoError(t, run.objects.Put(object.New(folder, object.IDKey(folder, 1), 1, nil)))
	obj := written(map[string]any{"name": "Start", "folder_id": int64(1)})
	obj.SetRef(&object.Ref{Name: "folder", Column: "folder_id", TargetTable: folder,
		Target: object.IDKey(folder, 1), TargetID: 1, State: object.RefLinked})
	require.NoError(t, r.Modify(context.Background(), run, obj, object.Created))
	assert.Equal(t, "Start", column(t, run.db, "name", 4).String)
}

// The siblings are looked up under the value the link phase writes, not the
// original one. Folder 1 holds "Start" and "COPY 1 OF Start"; folder 0 is empty.
func TestRename_ScopeFollowsWrittenReference(t *testing.T) {
	folder := &schema.Table{Name: "folder", IDColumn: "id"}
	ref := func(state object.RefState) *object.Ref {
		return &object.Ref{Name: "folder", Column: "folder_id", TargetTable: folder,
			Target: object.IDKey(folder, 1), TargetID: 1, State: state}
	}
	excluded := object.New(folder, object.IDKey(folder, 1), 1, nil)
	excluded.Decision = object.ExcludedNull

	tests := []struct {
		name   string
		mode   string
		ref    *object.Ref
		target *object.Object
		want   string
	}{
		{"nulled", "duplicate", ref(object.RefNulled), nil, "Start"},
		{"unresolved", "duplicate", ref(object.RefUnresolved), nil, "Start"},
		{"linked to excluded", "duplicate", ref(object.RefLinked), excluded, "Start"},
		{"external in export", "export", ref(object.RefExternal), nil, "Start"},
		{"external in duplicate", "duplicate", ref(object.RefExternal), nil, "Copy 2 of Start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := setup(t)
			run.mode = tt.mode
			if tt.target != nil {
				require.NoError(t, run.objects.Put(tt.target))
			}
			r, err := modificator.New("rename", pageTable, map[string]string{"column": "name", "scope": "folder_id"}, nil, nil)
			require.NoError(t, err)

			obj := written(map[string]any{"name": "Start", "folder_id": int64(1)})
			obj.SetRef(tt.ref)
			require.NoError(t, r.Modify(context.Background(), run, obj, object.Created))
			assert.Equal(t, tt.want, column(t, run.db, "name", 4).String)
		})
	}
}

func TestFake(t *testing.T) {
	run := setup(t)
	f, err := modificator.New("fake", pageTable, map[string]string{"column": "editor_mail"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.Modify(context.Background(), run, written(nil), object.Created))
	got := column(t, run.db, "editor_mail", 4)
	assert.Contains(t, got.String, "@")
	assert.LessOrEqual(t, len(got.String), 40)

	_, err = modificator.New("fake", pageTable, map[string]string{"column": "name", "kind": "horoscope"}, nil, nil)
	require.Error(t, err)
}

func TestGenerateValue(t *testing.T) {
	tests := []struct {
		col  *schema.Column
		kind string
		ok   func(any) bool
	}{
		{&schema.Column{Name: "n", DataType: "varchar", Length: 5}, "", func(v any) bool { return len([]rune(v.(string))) <= 5 }},
		{&schema.Column{Name: "n", DataType: "integer"}, "", func(v any) bool { _, ok := v.(int); return ok }},
		{&schema.Column{Name: "n", DataType: "date"}, "", func(v any) bool { return len(v.(string)) == 10 }},
		{&schema.Column{Name: "n", DataType: "decimal"}, "", func(v any) bool { _, ok := v.(float64); return ok }},
		{&schema.Column{Name: "n", DataType: "boolean"}, "", func(v any) bool { _, ok := v.(bool); return ok }},
		{&schema.Column{Name: "n", DataType: "integer"}, "username", func(v any) bool { _, ok := v.(string); return ok }},
		{&schema.Column{Name: "n", DataType: "geometry"}, "", func(v any) bool { return v == nil }},
	}
	for _, tt := range tests {
		v := modificator.GenerateValue(tt.col, tt.kind)
		assert.True(t, tt.ok(v), "%s/%s: %#v", tt.col.DataType, tt.kind, v)
	}
}

func TestVersion(t *testing.T) {
	run := setup(t)
	v, err := modificator.New("version", pageTable, nil, nil, nil)
	require.NoError(t, err)

	err = v.Modify(context.Background(), run, written(nil), object.Created)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction available")

	rec := &recordingVersioner{}
	run.versioner = rec
	require.NoError(t, v.Modify(context.Background(), run, written(nil), object.Created))
	assert.Equal(t, []int64{4}, rec.ids)
}

func TestCrossTableRowKey(t *testing.T) {
	run := setup(t)
	_, err := run.db.Exec(`CREATE TABLE folder_group (folder_id INTEGER, group_id INTEGER, perm TEXT);
INSERT INTO folder_group VALUES (10, 3, 'r'), (11, 3, 'r');`)
	require.NoError(t, err)

	cross := &schema.Table{Name: "folder_group", CrossTable: true, KeyColumns: []string{"folder_id", "group_id"}}
	obj := object.New(cross, object.CompositeKey(cross, []any{1, 3}), 0, map[string]any{"folder_id": int64(1), "group_id": int64(3)})
	obj.Updates["folder_id"] = int64(11)

	s, err := modificator.New("set", cross, map[string]string{"column": "perm", "value": "rw"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Modify(context.Background(), run, obj, object.Created))

	var perm string
	require.NoError(t, run.db.QueryRow("SELECT perm FROM folder_group WHERE folder_id = 11").Scan(&perm))
	assert.Equal(t, "rw", perm)
	require.NoError(t, run.db.QueryRow("SELECT perm FROM folder_group WHERE folder_id = 10").Scan(&perm))
	assert.Equal(t, "r", perm)
}
