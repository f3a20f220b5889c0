package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setDatabases(t *testing.T, dbs ...map[string]any) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	list := make([]any, len(dbs))
	for i, db := range dbs {
		list[i] = db
	}
	viper.Set("databases", list)
}

func TestGetActiveDBConfig(t *testing.T) {
	setDatabases(t,
		map[string]any{"name": "live", "driver": "pgx", "dsn": "postgres://live", "active": true},
		map[string]any{"name": "archive", "driver": "sqlite3", "dsn": "archive.db"},
	)
	config, err := GetActiveDBConfig()
	require.NoError(t, err)
	assert.Equal(t, "live", config.Name)
	assert.Equal(t, "pgx", config.Driver)

	setDatabases(t, map[string]any{"name": "a"}, map[string]any{"name": "b"})
	_, err = GetActiveDBConfig()
	assert.ErrorContains(t, err, "no active database")

	setDatabases(t, map[string]any{"name": "a", "active": true}, map[string]any{"name": "b", "active": true})
	_, err = GetActiveDBConfig()
	assert.ErrorContains(t, err, "multiple active databases")
}

func TestGetExportTarget(t *testing.T) {
	setDatabases(t,
		map[string]any{"name": "live", "driver": "mysql", "dsn": "root@/cms", "active": true},
		map[string]any{"name": "archive", "driver": "sqlite3", "dsn": "archive.db"},
	)
	_, err := GetExportTarget()
	assert.ErrorContains(t, err, "needs export_target")

	viper.Set("export_target", "archive")
	target, err := GetExportTarget()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", target.Driver)

	viper.Set("export_target", "live")
	_, err = GetExportTarget()
	assert.ErrorContains(t, err, "active source database")

	viper.Set("export_target", "nowhere")
	_, err = GetExportTarget()
	assert.ErrorContains(t, err, "not found")
}

func TestDetectDriver(t *testing.T) {
	tests := map[string]string{
		"root:root@tcp(127.0.0.1:3306)/cms":             "mysql",
		"postgres://u:p@localhost/cms?sslmode=disable":  "pgx",
		"host=localhost dbname=cms sslmode=disable":     "pgx",
		"sqlserver://sa:pw@localhost:1433?database=cms": "sqlserver",
		"oracle://system:pw@localhost:1521/XE":          "oracle",
		"file:cms.db?cache=shared":                      "sqlite3",
		"/var/lib/cms.db":                               "sqlite3",
	}
	for dsn, want := range tests {
		assert.Equal(t, want, detectDriver(dsn, ""), dsn)
	}
	assert.Equal(t, "postgres", detectDriver("postgres://x", "postgres"))
}
