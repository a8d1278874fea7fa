package migrations

import (
	"context"

	"github.com/upkeephq/upkeep/upkeepdriver"
)

// The platform's base tables: organizations that own everything, their users,
// the equipment being maintained, and the log of maintenance performed.
func up001InitialSchema(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	var statements []string

	switch dialect {
	case upkeepdriver.DialectPostgres:
		statements = []string{
			`CREATE TABLE IF NOT EXISTS organizations (
				id bigserial PRIMARY KEY,
				name text NOT NULL,
				settings jsonb NOT NULL DEFAULT '{}',
				created_at timestamptz NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id bigserial PRIMARY KEY,
				organization_id bigint REFERENCES organizations (id),
				email text NOT NULL UNIQUE,
				name text NOT NULL,
				role text NOT NULL DEFAULT 'member',
				password_hash text,
				created_at timestamptz NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS equipment (
				id bigserial PRIMARY KEY,
				organization_id bigint NOT NULL REFERENCES organizations (id),
				name text NOT NULL,
				serial_number text,
				legacy_code text,
				created_at timestamptz NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS maintenance_records (
				id bigserial PRIMARY KEY,
				equipment_id bigint NOT NULL REFERENCES equipment (id),
				performed_by bigint REFERENCES users (id),
				notes text,
				performed_at timestamptz NOT NULL DEFAULT now(),
				next_due_at timestamptz
			)`,
		}

	case upkeepdriver.DialectSQLite:
		statements = []string{
			`CREATE TABLE IF NOT EXISTS organizations (
				id integer PRIMARY KEY AUTOINCREMENT,
				name text NOT NULL,
				settings text NOT NULL DEFAULT '{}',
				created_at text NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id integer PRIMARY KEY AUTOINCREMENT,
				organization_id integer REFERENCES organizations (id),
				email text NOT NULL UNIQUE,
				name text NOT NULL,
				role text NOT NULL DEFAULT 'member',
				password_hash text,
				created_at text NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS equipment (
				id integer PRIMARY KEY AUTOINCREMENT,
				organization_id integer NOT NULL REFERENCES organizations (id),
				name text NOT NULL,
				serial_number text,
				legacy_code text,
				created_at text NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS maintenance_records (
				id integer PRIMARY KEY AUTOINCREMENT,
				equipment_id integer NOT NULL REFERENCES equipment (id),
				performed_by integer REFERENCES users (id),
				notes text,
				performed_at text NOT NULL DEFAULT CURRENT_TIMESTAMP,
				next_due_at text
			)`,
		}
	}

	for _, statement := range statements {
		if err := exec.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func down001InitialSchema(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	// Reverse dependency order so foreign keys don't block the drops.
	statements := []string{
		`DROP TABLE IF EXISTS maintenance_records`,
		`DROP TABLE IF EXISTS equipment`,
		`DROP TABLE IF EXISTS users`,
		`DROP TABLE IF EXISTS organizations`,
	}

	for _, statement := range statements {
		if err := exec.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}
