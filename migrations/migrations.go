// Package migrations contains the maintenance platform's schema migration
// units.
//
// Units are registered explicitly in All rather than discovered by file
// listing or reflection, so the compiler and the engine's validation both see
// the full set. Evolution is append-only: once a version has shipped (i.e. may
// have a ledger entry somewhere), its unit's semantics must not change; write
// a new version instead.
//
// Every Up is written to be re-run safe, guarded by existence probes or
// tolerance of duplicate-object errors, because the engine may re-invoke a
// unit whose ledger write was lost or whose prior attempt failed partway.
package migrations

import (
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/upkeephq/upkeep/upkeepmigrate"
)

// All returns the platform's migration units in ascending version order. A
// fresh slice is returned on each call; units are loaded fresh per run and
// never cached across process restarts.
func All() []*upkeepmigrate.Unit {
	return []*upkeepmigrate.Unit{
		{Version: 1, Name: "initial_schema", Up: up001InitialSchema, Down: down001InitialSchema},
		{Version: 2, Name: "equipment_status", Up: up002EquipmentStatus, Down: down002EquipmentStatus},
		{Version: 3, Name: "promote_first_admins", Up: up003PromoteFirstAdmins, Down: down003PromoteFirstAdmins},
		{Version: 4, Name: "updated_at_triggers", Up: up004UpdatedAtTriggers, Down: down004UpdatedAtTriggers},
		{Version: 5, Name: "drop_legacy_inventory_code", Up: up005DropLegacyInventoryCode, Down: down005DropLegacyInventoryCode},
		{Version: 6, Name: "equipment_external_ids", Up: up006EquipmentExternalIDs, Down: down006EquipmentExternalIDs},
		{Version: 7, Name: "seed_service_account", Up: up007SeedServiceAccount, Down: down007SeedServiceAccount},
	}
}

// isDuplicateObject reports whether err indicates that the target of a DDL
// statement already exists, which units treat as success-by-skip when
// re-applying a partially applied change.
func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.DuplicateColumn, pgerrcode.DuplicateObject, pgerrcode.DuplicateTable:
			return true
		}
		return false
	}

	// SQLite exposes no structured error codes through database/sql; match on
	// its stable message fragments.
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}
