package upkeeppgxv5

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/upkeephq/upkeep/internal/upkeeptest"
	"github.com/upkeephq/upkeep/internal/util/randutil"
	"github.com/upkeephq/upkeep/upkeepdriver"
)

func TestMain(m *testing.M) {
	upkeeptest.WrapTestMain(m)
}

// Tests in this package need a running Postgres and are skipped unless
// TEST_DATABASE_URL is set, e.g.:
//
//	TEST_DATABASE_URL=postgres://localhost:5432/upkeep_test go test ./upkeepdriver/upkeeppgxv5
func TestDriver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	type testBundle struct {
		exec   upkeepdriver.Executor
		schema string
	}

	setup := func(t *testing.T) (*Driver, *testBundle) {
		t.Helper()

		databaseURL := os.Getenv("TEST_DATABASE_URL")
		if databaseURL == "" {
			t.Skip("TEST_DATABASE_URL unset; skipping Postgres driver tests")
		}

		// Each test gets its own schema so that tests can run in parallel
		// against a shared database and clean up completely afterward.
		adminPool, err := pgxpool.New(ctx, databaseURL)
		require.NoError(t, err)
		t.Cleanup(adminPool.Close)

		schema := "upkeep_driver_test_" + randutil.Hex(8)
		_, err = adminPool.Exec(ctx, "CREATE SCHEMA "+schema)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, err := adminPool.Exec(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
			require.NoError(t, err)
		})

		poolConfig, err := pgxpool.ParseConfig(databaseURL)
		require.NoError(t, err)
		poolConfig.ConnConfig.RuntimeParams["search_path"] = schema

		dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		require.NoError(t, err)
		t.Cleanup(dbPool.Close)

		driver := New(dbPool)

		return driver, &testBundle{exec: driver.GetExecutor(), schema: schema}
	}

	setupLedger := func(t *testing.T) (*Driver, *testBundle) {
		t.Helper()

		driver, bundle := setup(t)
		require.NoError(t, bundle.exec.MigrationTableEnsure(ctx))
		return driver, bundle
	}

	t.Run("Dialect", func(t *testing.T) {
		t.Parallel()

		driver, _ := setup(t)
		require.Equal(t, upkeepdriver.DialectPostgres, driver.Dialect())
	})

	t.Run("MigrationUpsertAndGetAll", func(t *testing.T) {
		t.Parallel()

		_, bundle := setupLedger(t)

		now := time.Now().UTC()

		require.NoError(t, bundle.exec.MigrationUpsert(ctx, &upkeepdriver.MigrationUpsertParams{
			Version:       1,
			Name:          "initial_schema",
			AppliedAt:     now,
			ExecutionTime: 1500 * time.Millisecond,
			Success:       true,
		}))
		require.NoError(t, bundle.exec.MigrationUpsert(ctx, &upkeepdriver.MigrationUpsertParams{
			Version:      2,
			Name:         "equipment_status",
			AppliedAt:    now,
			Success:      false,
			ErrorMessage: "syntax error",
		}))

		entries, err := bundle.exec.MigrationGetAll(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		require.Equal(t, 1, entries[0].Version)
		require.Equal(t, "initial_schema", entries[0].Name)
		require.WithinDuration(t, now, entries[0].AppliedAt, time.Microsecond)
		require.Equal(t, int64(1500), entries[0].ExecutionTimeMS)
		require.True(t, entries[0].Success)
		require.Empty(t, entries[0].ErrorMessage)

		require.Equal(t, 2, entries[1].Version)
		require.False(t, entries[1].Success)
		require.Equal(t, "syntax error", entries[1].ErrorMessage)
	})

	t.Run("MigrationUpsertOverwritesByVersion", func(t *testing.T) {
		t.Parallel()

		_, bundle := setupLedger(t)

		now := time.Now().UTC()

		require.NoError(t, bundle.exec.MigrationUpsert(ctx, &upkeepdriver.MigrationUpsertParams{
			Version:      1,
			Name:         "initial_schema",
			AppliedAt:    now,
			Success:      false,
			ErrorMessage: "transient failure",
		}))
		require.NoError(t, bundle.exec.MigrationUpsert(ctx, &upkeepdriver.MigrationUpsertParams{
			Version:   1,
			Name:      "initial_schema",
			AppliedAt: now.Add(1 * time.Minute),
			Success:   true,
		}))

		entries, err := bundle.exec.MigrationGetAll(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.True(t, entries[0].Success)
		require.Empty(t, entries[0].ErrorMessage)
	})

	t.Run("MigrationDeleteByVersion", func(t *testing.T) {
		t.Parallel()

		_, bundle := setupLedger(t)

		require.NoError(t, bundle.exec.MigrationUpsert(ctx, &upkeepdriver.MigrationUpsertParams{
			Version:   1,
			Name:      "initial_schema",
			AppliedAt: time.Now().UTC(),
			Success:   true,
		}))

		require.NoError(t, bundle.exec.MigrationDeleteByVersion(ctx, 1))

		entries, err := bundle.exec.MigrationGetAll(ctx)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("TableExistsScopedToSchema", func(t *testing.T) {
		t.Parallel()

		_, bundle := setup(t)

		exists, err := bundle.exec.TableExists(ctx, "upkeep_migration")
		require.NoError(t, err)
		require.False(t, exists)

		require.NoError(t, bundle.exec.MigrationTableEnsure(ctx))

		exists, err = bundle.exec.TableExists(ctx, "upkeep_migration")
		require.NoError(t, err)
		require.True(t, exists)
	})

	t.Run("ColumnExists", func(t *testing.T) {
		t.Parallel()

		_, bundle := setupLedger(t)

		exists, err := bundle.exec.ColumnExists(ctx, "upkeep_migration", "version")
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = bundle.exec.ColumnExists(ctx, "upkeep_migration", "no_such_column")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("QueryRowNotFound", func(t *testing.T) {
		t.Parallel()

		_, bundle := setupLedger(t)

		var name string
		err := bundle.exec.QueryRow(ctx, `SELECT name FROM upkeep_migration WHERE version = $1`, 42).Scan(&name)
		require.ErrorIs(t, err, upkeepdriver.ErrNotFound)
	})

	t.Run("TxCommitAndRollback", func(t *testing.T) {
		t.Parallel()

		_, bundle := setup(t)

		tx, err := bundle.exec.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, `CREATE TABLE committed_table (id bigint PRIMARY KEY)`))
		require.NoError(t, tx.Commit(ctx))

		exists, err := bundle.exec.TableExists(ctx, "committed_table")
		require.NoError(t, err)
		require.True(t, exists)

		tx, err = bundle.exec.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, `CREATE TABLE discarded_table (id bigint PRIMARY KEY)`))
		require.NoError(t, tx.Rollback(ctx))

		exists, err = bundle.exec.TableExists(ctx, "discarded_table")
		require.NoError(t, err)
		require.False(t, exists)
	})
}
