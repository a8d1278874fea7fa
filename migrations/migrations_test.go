package migrations

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	"github.com/upkeephq/upkeep/internal/upkeeptest"
	"github.com/upkeephq/upkeep/internal/util/sliceutil"
	"github.com/upkeephq/upkeep/upkeepdriver"
	"github.com/upkeephq/upkeep/upkeepdriver/upkeepsqlite"
	"github.com/upkeephq/upkeep/upkeepmigrate"
)

func TestMain(m *testing.M) {
	upkeeptest.WrapTestMain(m)
}

func TestAll(t *testing.T) {
	t.Parallel()

	units := All()

	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, sliceutil.Map(units,
		func(unit *upkeepmigrate.Unit) int { return unit.Version }))

	for _, unit := range units {
		require.NotEmpty(t, unit.Name)
		require.NotNil(t, unit.Up)
		require.NotNil(t, unit.Down)
	}
}

// The full registry run against SQLite, the more constrained of the two
// dialects. Postgres-specific branches are covered by the driver tests, which
// require a real database.
func TestMigrationsSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	type testBundle struct {
		driver *upkeepsqlite.Driver
		exec   upkeepdriver.Executor
	}

	setup := func(t *testing.T) (*upkeepmigrate.Migrator[*sql.Tx], *testBundle) {
		t.Helper()

		dbPool, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		dbPool.SetMaxOpenConns(1)
		t.Cleanup(func() { require.NoError(t, dbPool.Close()) })

		driver := upkeepsqlite.New(dbPool)

		migrator, err := upkeepmigrate.New(driver, &upkeepmigrate.Config{
			Logger: upkeeptest.Logger(t),
			Units:  All(),
		})
		require.NoError(t, err)

		return migrator, &testBundle{driver: driver, exec: driver.GetExecutor()}
	}

	seed := func(t *testing.T, exec upkeepdriver.Executor) {
		t.Helper()

		statements := []string{
			`INSERT INTO organizations (name, settings) VALUES ('Acme Elevators', '{}')`,
			`INSERT INTO organizations (name, settings) VALUES ('Globex HVAC', '{"branding":{"color":"teal"}}')`,
			`INSERT INTO users (organization_id, email, name) VALUES (1, 'pat@acme.test', 'Pat')`,
			`INSERT INTO users (organization_id, email, name) VALUES (1, 'sam@acme.test', 'Sam')`,
			`INSERT INTO users (organization_id, email, name) VALUES (2, 'lee@globex.test', 'Lee')`,
			`INSERT INTO equipment (organization_id, name, serial_number, legacy_code) VALUES (1, 'Elevator A', 'SN-100', 'LGC-1')`,
			`INSERT INTO equipment (organization_id, name, serial_number, legacy_code) VALUES (1, 'Elevator B', 'SN-101', 'LGC-2')`,
			`INSERT INTO equipment (organization_id, name) VALUES (2, 'Rooftop Chiller')`,
		}
		for _, statement := range statements {
			require.NoError(t, exec.Exec(ctx, statement))
		}
	}

	columnExists := func(t *testing.T, exec upkeepdriver.Executor, table, column string) bool {
		t.Helper()

		exists, err := exec.ColumnExists(ctx, table, column)
		require.NoError(t, err)
		return exists
	}

	triggerExists := func(t *testing.T, exec upkeepdriver.Executor, name string) bool {
		t.Helper()

		var exists bool
		err := exec.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'trigger' AND name = ?)`, name).Scan(&exists)
		require.NoError(t, err)
		return exists
	}

	// Migrates through the given version with a migrator restricted to a
	// prefix of the registry, mimicking an older deployment.
	migrateThrough := func(t *testing.T, bundle *testBundle, version int) {
		t.Helper()

		partial, err := upkeepmigrate.New(bundle.driver, &upkeepmigrate.Config{
			Logger: upkeeptest.Logger(t),
			Units:  All()[:version],
		})
		require.NoError(t, err)

		_, err = partial.Migrate(ctx)
		require.NoError(t, err)
	}

	t.Run("FullMigrationFromScratch", func(t *testing.T) {
		t.Parallel()

		migrator, bundle := setup(t)

		res, err := migrator.Migrate(ctx)
		require.NoError(t, err)
		require.Len(t, res.Applied, 7)

		for _, table := range []string{"organizations", "users", "equipment", "maintenance_records"} {
			exists, err := bundle.exec.TableExists(ctx, table)
			require.NoError(t, err)
			require.True(t, exists, "table %s should exist", table)
		}

		require.True(t, columnExists(t, bundle.exec, "equipment", "status"))
		require.True(t, columnExists(t, bundle.exec, "equipment", "external_id"))
		require.True(t, columnExists(t, bundle.exec, "equipment", "updated_at"))
		require.False(t, columnExists(t, bundle.exec, "equipment", "legacy_code"))

		require.True(t, triggerExists(t, bundle.exec, "equipment_set_updated_at"))
		require.True(t, triggerExists(t, bundle.exec, "maintenance_records_set_updated_at"))

		// The service account was seeded with an unusable bcrypt credential.
		var role, passwordHash string
		require.NoError(t, bundle.exec.QueryRow(ctx,
			`SELECT role, password_hash FROM users WHERE email = ?`, serviceAccountEmail).Scan(&role, &passwordHash))
		require.Equal(t, "system", role)
		require.True(t, strings.HasPrefix(passwordHash, "$2a$"))
	})

	t.Run("FullMigrationIsRerunSafe", func(t *testing.T) {
		t.Parallel()

		migrator, _ := setup(t)

		_, err := migrator.Migrate(ctx)
		require.NoError(t, err)

		res, err := migrator.Migrate(ctx)
		require.NoError(t, err)
		require.Empty(t, res.Applied)
	})

	t.Run("BackfillsTouchPreexistingRows", func(t *testing.T) {
		t.Parallel()

		migrator, bundle := setup(t)

		migrateThrough(t, bundle, 2)
		seed(t, bundle.exec)

		res, err := migrator.Migrate(ctx)
		require.NoError(t, err)
		require.Equal(t, []int{3, 4, 5, 6, 7}, sliceutil.Map(res.Applied,
			func(applied upkeepmigrate.AppliedMigration) int { return applied.Version }))

		// Each organization's earliest user became an admin; the rest didn't.
		rows, err := bundle.exec.Query(ctx, `SELECT email, role FROM users WHERE organization_id IS NOT NULL ORDER BY id`)
		require.NoError(t, err)
		defer rows.Close()

		roleByEmail := make(map[string]string)
		for rows.Next() {
			var email, role string
			require.NoError(t, rows.Scan(&email, &role))
			roleByEmail[email] = role
		}
		require.NoError(t, rows.Err())
		require.Equal(t, map[string]string{
			"pat@acme.test":   "admin",
			"sam@acme.test":   "member",
			"lee@globex.test": "admin",
		}, roleByEmail)

		// Equipment rows survived the legacy_code rebuild and picked up
		// unique external UUIDs.
		externalIDs := make(map[string]struct{})
		equipmentRows, err := bundle.exec.Query(ctx, `SELECT name, external_id FROM equipment ORDER BY id`)
		require.NoError(t, err)
		defer equipmentRows.Close()

		var names []string
		for equipmentRows.Next() {
			var name, externalID string
			require.NoError(t, equipmentRows.Scan(&name, &externalID))
			_, err := uuid.Parse(externalID)
			require.NoError(t, err)
			externalIDs[externalID] = struct{}{}
			names = append(names, name)
		}
		require.NoError(t, equipmentRows.Err())
		require.Equal(t, []string{"Elevator A", "Elevator B", "Rooftop Chiller"}, names)
		require.Len(t, externalIDs, 3)

		// Settings documents gained default notification preferences, and
		// preexisting keys were preserved.
		var acmeSettings, globexSettings string
		require.NoError(t, bundle.exec.QueryRow(ctx, `SELECT settings FROM organizations WHERE id = 1`).Scan(&acmeSettings))
		require.NoError(t, bundle.exec.QueryRow(ctx, `SELECT settings FROM organizations WHERE id = 2`).Scan(&globexSettings))

		require.True(t, gjson.Get(acmeSettings, "notifications.overdue_alerts").Bool())
		require.Equal(t, "weekly", gjson.Get(acmeSettings, "notifications.report_frequency").String())
		require.Equal(t, "teal", gjson.Get(globexSettings, "branding.color").String())
		require.True(t, gjson.Get(globexSettings, "notifications.overdue_alerts").Bool())
	})

	t.Run("RollbackWalksTheWholeRegistryDown", func(t *testing.T) {
		t.Parallel()

		migrator, bundle := setup(t)

		migrateThrough(t, bundle, 2)
		seed(t, bundle.exec)

		_, err := migrator.Migrate(ctx)
		require.NoError(t, err)

		// 007: the service account goes away.
		res, err := migrator.Rollback(ctx)
		require.NoError(t, err)
		require.Equal(t, 7, res.Version)
		require.False(t, res.Degraded)

		var serviceAccounts int
		require.NoError(t, bundle.exec.QueryRow(ctx,
			`SELECT count(*) FROM users WHERE email = ?`, serviceAccountEmail).Scan(&serviceAccounts))
		require.Zero(t, serviceAccounts)

		// 006: notification settings removed; the column itself can't be
		// dropped on SQLite, so the reversal is degraded.
		res, err = migrator.Rollback(ctx)
		require.NoError(t, err)
		require.Equal(t, 6, res.Version)
		require.True(t, res.Degraded)

		var settings string
		require.NoError(t, bundle.exec.QueryRow(ctx, `SELECT settings FROM organizations WHERE id = 1`).Scan(&settings))
		require.False(t, gjson.Get(settings, "notifications").Exists())
		require.True(t, columnExists(t, bundle.exec, "equipment", "external_id"))

		// 005: legacy_code comes back structurally, though its values are gone.
		res, err = migrator.Rollback(ctx)
		require.NoError(t, err)
		require.Equal(t, 5, res.Version)
		require.False(t, res.Degraded)
		require.True(t, columnExists(t, bundle.exec, "equipment", "legacy_code"))

		// 004: triggers dropped, columns degraded in place.
		res, err = migrator.Rollback(ctx)
		require.NoError(t, err)
		require.Equal(t, 4, res.Version)
		require.True(t, res.Degraded)
		require.False(t, triggerExists(t, bundle.exec, "equipment_set_updated_at"))

		// 003 through 001.
		for expectedVersion := 3; expectedVersion >= 1; expectedVersion-- {
			res, err = migrator.Rollback(ctx)
			require.NoError(t, err)
			require.Equal(t, expectedVersion, res.Version)
		}

		exists, err := bundle.exec.TableExists(ctx, "organizations")
		require.NoError(t, err)
		require.False(t, exists)

		_, err = migrator.Rollback(ctx)
		require.ErrorIs(t, err, upkeepmigrate.ErrNothingToRollback)
	})
}

func TestIsDuplicateObject(t *testing.T) {
	t.Parallel()

	require.True(t, isDuplicateObject(errorString("duplicate column name: status")))
	require.True(t, isDuplicateObject(errorString("index index_equipment_org_status already exists")))
	require.False(t, isDuplicateObject(errorString("no such table: equipment")))
}

type errorString string

func (e errorString) Error() string { return string(e) }
