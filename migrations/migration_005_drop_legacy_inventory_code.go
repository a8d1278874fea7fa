package migrations

import (
	"context"

	"github.com/upkeephq/upkeep/upkeepdriver"
)

// Removes equipment.legacy_code, a pre-launch inventory identifier nothing
// reads anymore. Postgres drops the column directly; SQLite's ALTER TABLE
// can't, so it takes the canonical rebuild path: create a replacement table
// without the column, copy rows, swap it in, and recreate the dependent index
// and trigger.
func up005DropLegacyInventoryCode(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	hasLegacy, err := exec.ColumnExists(ctx, "equipment", "legacy_code")
	if err != nil {
		return err
	}
	if !hasLegacy {
		// Already applied (or partially applied past the point of no return).
		return nil
	}

	switch dialect {
	case upkeepdriver.DialectPostgres:
		return exec.Exec(ctx, `ALTER TABLE equipment DROP COLUMN legacy_code`)

	case upkeepdriver.DialectSQLite:
		statements := []string{
			`CREATE TABLE equipment_rebuilt (
				id integer PRIMARY KEY AUTOINCREMENT,
				organization_id integer NOT NULL REFERENCES organizations (id),
				name text NOT NULL,
				serial_number text,
				created_at text NOT NULL DEFAULT CURRENT_TIMESTAMP,
				status text NOT NULL DEFAULT 'active',
				search_label text GENERATED ALWAYS AS (name || ' ' || coalesce(serial_number, '')) VIRTUAL,
				updated_at text
			)`,
			`INSERT INTO equipment_rebuilt (id, organization_id, name, serial_number, created_at, status, updated_at)
				SELECT id, organization_id, name, serial_number, created_at, status, updated_at FROM equipment`,
			`DROP TABLE equipment`,
			`ALTER TABLE equipment_rebuilt RENAME TO equipment`,
			`CREATE INDEX IF NOT EXISTS index_equipment_org_status ON equipment (organization_id, status)`,
			`CREATE TRIGGER IF NOT EXISTS equipment_set_updated_at AFTER UPDATE ON equipment
FOR EACH ROW BEGIN
    UPDATE equipment SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END`,
		}
		for _, statement := range statements {
			if err := exec.Exec(ctx, statement); err != nil {
				return err
			}
		}
		return nil
	}

	return nil
}

// Restores the column's structure only; the dropped values are gone. Both
// dialects support ADD COLUMN, so the reversal isn't degraded, just lossy in
// the way any column drop is.
func down005DropLegacyInventoryCode(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	hasLegacy, err := exec.ColumnExists(ctx, "equipment", "legacy_code")
	if err != nil {
		return err
	}
	if hasLegacy {
		return nil
	}

	if err := exec.Exec(ctx, `ALTER TABLE equipment ADD COLUMN legacy_code text`); err != nil && !isDuplicateObject(err) {
		return err
	}
	return nil
}
