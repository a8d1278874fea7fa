package migrations

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/upkeephq/upkeep/upkeepdriver"
	"github.com/upkeephq/upkeep/upkeepmigrate"
)

// Gives every piece of equipment a stable external UUID for report links, and
// backfills default notification settings into each organization's settings
// document. Both backfills only touch rows missing the new data, so the unit
// is re-run safe.
func up006EquipmentExternalIDs(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	columnExists, err := exec.ColumnExists(ctx, "equipment", "external_id")
	if err != nil {
		return err
	}
	if !columnExists {
		if err := exec.Exec(ctx, `ALTER TABLE equipment ADD COLUMN external_id text`); err != nil && !isDuplicateObject(err) {
			return err
		}
	}

	if err := backfillExternalIDs(ctx, exec, dialect); err != nil {
		return err
	}

	if err := exec.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS index_equipment_external_id ON equipment (external_id)`); err != nil {
		return err
	}

	return backfillNotificationSettings(ctx, exec, dialect)
}

func down006EquipmentExternalIDs(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	if err := removeNotificationSettings(ctx, exec, dialect); err != nil {
		return err
	}

	if err := exec.Exec(ctx, `DROP INDEX IF EXISTS index_equipment_external_id`); err != nil {
		return err
	}

	switch dialect {
	case upkeepdriver.DialectPostgres:
		return exec.Exec(ctx, `ALTER TABLE equipment DROP COLUMN IF EXISTS external_id`)
	case upkeepdriver.DialectSQLite:
		return fmt.Errorf("%w: SQLite can't drop columns; equipment.external_id is left in place", upkeepmigrate.ErrReversalDegraded)
	}

	return nil
}

func backfillExternalIDs(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	update := `UPDATE equipment SET external_id = $1 WHERE id = $2`
	if dialect == upkeepdriver.DialectSQLite {
		update = `UPDATE equipment SET external_id = ? WHERE id = ?`
	}

	// Collect first, then update: SQLite runs on a single connection, which
	// can't interleave writes with an open result set.
	ids, err := collectIDs(ctx, exec, `SELECT id FROM equipment WHERE external_id IS NULL`)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := exec.Exec(ctx, update, uuid.NewString(), id); err != nil {
			return err
		}
	}
	return nil
}

func backfillNotificationSettings(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	update := `UPDATE organizations SET settings = $1::jsonb WHERE id = $2`
	if dialect == upkeepdriver.DialectSQLite {
		update = `UPDATE organizations SET settings = ? WHERE id = ?`
	}

	docs, err := collectSettings(ctx, exec)
	if err != nil {
		return err
	}

	for id, settings := range docs {
		if gjson.Get(settings, "notifications").Exists() {
			continue
		}

		updated, err := sjson.Set(settings, "notifications.overdue_alerts", true)
		if err != nil {
			return err
		}
		updated, err = sjson.Set(updated, "notifications.report_frequency", "weekly")
		if err != nil {
			return err
		}

		if err := exec.Exec(ctx, update, updated, id); err != nil {
			return err
		}
	}
	return nil
}

func removeNotificationSettings(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	update := `UPDATE organizations SET settings = $1::jsonb WHERE id = $2`
	if dialect == upkeepdriver.DialectSQLite {
		update = `UPDATE organizations SET settings = ? WHERE id = ?`
	}

	docs, err := collectSettings(ctx, exec)
	if err != nil {
		return err
	}

	for id, settings := range docs {
		if !gjson.Get(settings, "notifications").Exists() {
			continue
		}

		updated, err := sjson.Delete(settings, "notifications")
		if err != nil {
			return err
		}

		if err := exec.Exec(ctx, update, updated, id); err != nil {
			return err
		}
	}
	return nil
}

func collectIDs(ctx context.Context, exec upkeepdriver.ExecutorTx, query string) ([]int64, error) {
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectSettings(ctx context.Context, exec upkeepdriver.ExecutorTx) (map[int64]string, error) {
	rows, err := exec.Query(ctx, `SELECT id, settings FROM organizations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make(map[int64]string)
	for rows.Next() {
		var (
			id       int64
			settings string
		)
		if err := rows.Scan(&id, &settings); err != nil {
			return nil, err
		}
		docs[id] = settings
	}
	return docs, rows.Err()
}
