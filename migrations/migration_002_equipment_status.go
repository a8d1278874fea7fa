package migrations

import (
	"context"
	"fmt"

	"github.com/upkeephq/upkeep/upkeepdriver"
	"github.com/upkeephq/upkeep/upkeepmigrate"
)

// Adds a lifecycle status to equipment, a generated search label, and an
// index supporting the dashboard's status filtering.
func up002EquipmentStatus(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	statusExists, err := exec.ColumnExists(ctx, "equipment", "status")
	if err != nil {
		return err
	}
	if !statusExists {
		if err := exec.Exec(ctx, `ALTER TABLE equipment ADD COLUMN status text NOT NULL DEFAULT 'active'`); err != nil && !isDuplicateObject(err) {
			return err
		}
	}

	labelExists, err := exec.ColumnExists(ctx, "equipment", "search_label")
	if err != nil {
		return err
	}
	if !labelExists {
		// Generated column syntax differs: Postgres requires STORED, SQLite
		// defaults to (and here keeps) VIRTUAL.
		var statement string
		switch dialect {
		case upkeepdriver.DialectPostgres:
			statement = `ALTER TABLE equipment ADD COLUMN search_label text GENERATED ALWAYS AS (name || ' ' || coalesce(serial_number, '')) STORED`
		case upkeepdriver.DialectSQLite:
			statement = `ALTER TABLE equipment ADD COLUMN search_label text GENERATED ALWAYS AS (name || ' ' || coalesce(serial_number, '')) VIRTUAL`
		}
		if err := exec.Exec(ctx, statement); err != nil && !isDuplicateObject(err) {
			return err
		}
	}

	return exec.Exec(ctx, `CREATE INDEX IF NOT EXISTS index_equipment_org_status ON equipment (organization_id, status)`)
}

func down002EquipmentStatus(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	if err := exec.Exec(ctx, `DROP INDEX IF EXISTS index_equipment_org_status`); err != nil {
		return err
	}

	switch dialect {
	case upkeepdriver.DialectPostgres:
		for _, statement := range []string{
			`ALTER TABLE equipment DROP COLUMN IF EXISTS search_label`,
			`ALTER TABLE equipment DROP COLUMN IF EXISTS status`,
		} {
			if err := exec.Exec(ctx, statement); err != nil {
				return err
			}
		}
		return nil

	case upkeepdriver.DialectSQLite:
		return fmt.Errorf("%w: SQLite can't drop columns; equipment.status and equipment.search_label are left in place", upkeepmigrate.ErrReversalDegraded)
	}

	return nil
}
