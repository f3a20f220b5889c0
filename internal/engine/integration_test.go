//go:build integration

package engine_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"db-clone/internal/dialect"
	"db-clone/internal/engine"
	"db-clone/internal/exclusion"
	"db-clone/internal/reference"
	"db-clone/internal/schema"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresDDL = `
CREATE TABLE node (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL, root_folder BIGINT);
CREATE TABLE folder (
    id BIGSERIAL PRIMARY KEY,
    node_id BIGINT REFERENCES node(id),
    mother BIGINT REFERENCES folder(id),
    name TEXT NOT NULL
);
ALTER TABLE node ADD FOREIGN KEY (root_folder) REFERENCES folder(id) DEFERRABLE INITIALLY IMMEDIATE;
CREATE TABLE page (id BIGSERIAL PRIMARY KEY, folder_id BIGINT REFERENCES folder(id), name TEXT NOT NULL);
CREATE TABLE folder_group (
    folder_id BIGINT NOT NULL REFERENCES folder(id),
    group_id BIGINT NOT NULL,
    PRIMARY KEY (folder_id, group_id)
);
INSERT INTO node (id, name) VALUES (1, 'Site');
INSERT INTO folder (id, node_id, mother, name) VALUES (1, 1, NULL, 'Root'), (2, 1, 1, 'Sub');
UPDATE node SET root_folder = 1 WHERE id = 1;
INSERT INTO page (id, folder_id, name) VALUES (1, 1, 'Home'), (2, 2, 'News');
INSERT INTO folder_group VALUES (1, 7), (2, 7);
SELECT setval('node_id_seq', 10), setval('folder_id_seq', 10), setval('page_id_seq', 10);
`

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "clone",
				"POSTGRES_USER":     "clone",
				"POSTGRES_PASSWORD": "clone",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := sql.Open("pgx", fmt.Sprintf("postgres://clone:clone@%s:%s/clone?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, postgresDDL)
	require.NoError(t, err)
	return db
}

func TestPostgres_Duplicate(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	d := dialect.GetDialect("pgx")

	reg := schema.NewRegistry()
	for _, tbl := range []*schema.Table{
		{Name: "node"},
		{Name: "folder"},
		{Name: "page"},
		{Name: "folder_group", CrossTable: true},
	} {
		require.NoError(t, reg.Add(tbl))
	}
	require.NoError(t, schema.Introspect(ctx, db, d, "", reg))
	fg, _ := reg.Get("folder_group")
	require.Equal(t, []string{"folder_id", "group_id"}, fg.KeyColumns)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	var descs []reference.Descriptor
	for _, r := range []refSpec{
		{"node", "root", "column", map[string]string{"column": "root_folder", "target": "folder"}},
		{"folder", "node", "column", map[string]string{"column": "node_id", "target": "node", "linked": "true"}},
		{"folder", "mother", "column", map[string]string{"column": "mother", "target": "folder", "linked": "true"}},
		{"page", "folder", "column", map[string]string{"column": "folder_id", "target": "folder", "linked": "true"}},
		{"folder_group", "folder", "column", map[string]string{"column": "folder_id", "target": "folder", "linked": "true"}},
	} {
		tbl, _ := reg.Get(r.table)
		desc, err := reference.New(r.typ, r.name, tbl)
		require.NoError(t, err)
		require.NoError(t, desc.Init(ctx, tx, reg, r.params))
		descs = append(descs, desc)
	}

	s := engine.NewStructureCopy(tx, engine.Options{
		Dialect:     d,
		Tables:      reg,
		Descriptors: descs,
		Names:       exclusion.NewNameResolver(tx, d, reg),
	})
	objects, err := s.Fetch(ctx, engine.Root{Table: "node", Where: "t.id = ?", Params: []any{1}})
	require.NoError(t, err)
	res, err := engine.NewController(tx, engine.ControllerOptions{Dialect: d, Descriptors: descs}).Run(ctx, objects)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, res.Table("node").Created)
	assert.Equal(t, 2, res.Table("folder").Created)
	assert.Equal(t, 2, res.Table("page").Created)
	assert.Equal(t, 2, res.Table("folder_group").Created)

	node, root := res.NewID("node", 1), res.NewID("folder", 1)
	assert.Greater(t, node, int64(10))
	var got int64
	require.NoError(t, db.QueryRow("SELECT root_folder FROM node WHERE id = $1", node).Scan(&got))
	assert.Equal(t, root, got)
	require.NoError(t, db.QueryRow("SELECT mother FROM folder WHERE id = $1", res.NewID("folder", 2)).Scan(&got))
	assert.Equal(t, root, got)
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM folder_group WHERE folder_id = $1", root).Scan(&n))
	assert.Equal(t, 1, n)
}
