package migrations

import (
	"context"
	"fmt"

	"github.com/upkeephq/upkeep/upkeepdriver"
	"github.com/upkeephq/upkeep/upkeepmigrate"
)

// The tables that get updated_at maintenance triggers.
var updatedAtTables = []string{"equipment", "maintenance_records"}

// Adds updated_at columns maintained by triggers. The two dialects diverge
// completely here: Postgres uses a procedural plpgsql function shared by
// per-table triggers, while SQLite expresses the same thing as row-level
// AFTER UPDATE trigger statements.
func up004UpdatedAtTriggers(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	for _, table := range updatedAtTables {
		columnExists, err := exec.ColumnExists(ctx, table, "updated_at")
		if err != nil {
			return err
		}
		if columnExists {
			continue
		}

		var columnType string
		switch dialect {
		case upkeepdriver.DialectPostgres:
			columnType = "timestamptz"
		case upkeepdriver.DialectSQLite:
			columnType = "text"
		}
		if err := exec.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN updated_at %s`, table, columnType)); err != nil && !isDuplicateObject(err) {
			return err
		}
	}

	switch dialect {
	case upkeepdriver.DialectPostgres:
		const function = `
CREATE OR REPLACE FUNCTION upkeep_set_updated_at() RETURNS trigger AS $$
BEGIN
    NEW.updated_at = now();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql`
		if err := exec.Exec(ctx, function); err != nil {
			return err
		}

		for _, table := range updatedAtTables {
			if err := exec.Exec(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_set_updated_at ON %s`, table, table)); err != nil {
				return err
			}
			if err := exec.Exec(ctx, fmt.Sprintf(
				`CREATE TRIGGER %s_set_updated_at BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION upkeep_set_updated_at()`,
				table, table)); err != nil {
				return err
			}
		}

	case upkeepdriver.DialectSQLite:
		for _, table := range updatedAtTables {
			if err := exec.Exec(ctx, fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS %s_set_updated_at AFTER UPDATE ON %s
FOR EACH ROW BEGIN
    UPDATE %s SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END`, table, table, table)); err != nil {
				return err
			}
		}
	}

	return nil
}

func down004UpdatedAtTriggers(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	switch dialect {
	case upkeepdriver.DialectPostgres:
		for _, table := range updatedAtTables {
			if err := exec.Exec(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_set_updated_at ON %s`, table, table)); err != nil {
				return err
			}
			if err := exec.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s DROP COLUMN IF EXISTS updated_at`, table)); err != nil {
				return err
			}
		}
		return exec.Exec(ctx, `DROP FUNCTION IF EXISTS upkeep_set_updated_at()`)

	case upkeepdriver.DialectSQLite:
		for _, table := range updatedAtTables {
			if err := exec.Exec(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_set_updated_at`, table)); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: SQLite can't drop columns; updated_at columns are left in place", upkeepmigrate.ErrReversalDegraded)
	}

	return nil
}
