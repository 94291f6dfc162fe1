// Package dbtest opens a migrated Postgres database for repository tests.
// Tests are skipped unless TEST_DB_NAME names a database they may write to;
// the other DB_* variables locate the server.
package dbtest

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/config"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/database"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// Open connects to the test database inside schema, applies migrations and
// empties tables before and after the test. Each package uses its own
// schema so packages can run in parallel against one database.
func Open(t *testing.T, schema string, migrations fs.FS, tables ...string) *sqlx.DB {
	t.Helper()

	name := os.Getenv("TEST_DB_NAME")
	if name == "" {
		t.Skip("TEST_DB_NAME not set, skipping Postgres repository test")
	}
	ctx := context.Background()
	cfg := config.NewPostgresConfig(name)
	cfg.DBName = name

	admin, err := database.Connect(ctx, cfg)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema)
	admin.Close()
	require.NoError(t, err)

	cfg.Schema = schema
	db, err := database.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, migrations, ".", cfg.DBName, schema+"_schema_migrations"))

	truncate := func() {
		_, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		db.Close()
	})
	return db
}
