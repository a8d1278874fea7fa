package upkeepcli

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upkeephq/upkeep/migrations"
	"github.com/upkeephq/upkeep/upkeepdriver/upkeeppgxv5"
	"github.com/upkeephq/upkeep/upkeepdriver/upkeepsqlite"
	"github.com/upkeephq/upkeep/upkeepmigrate"
)

// DriverProcurer procures a migrator for the dialect of the database URL the
// CLI was invoked against, papering over the driver's generic type parameter.
type DriverProcurer interface {
	ProcureMigrator(logger *slog.Logger) (MigratorInterface, error)
}

// MigratorInterface is the subset of upkeepmigrate.Migrator behavior the CLI
// needs, with the generic transaction type erased.
type MigratorInterface interface {
	Migrate(ctx context.Context) (*upkeepmigrate.MigrateResult, error)
	Rollback(ctx context.Context) (*upkeepmigrate.RollbackResult, error)
	Status(ctx context.Context) (*upkeepmigrate.StatusResult, error)
	Validate(ctx context.Context) (*upkeepmigrate.ValidateResult, error)
}

type pgxV5DriverProcurer struct {
	dbPool *pgxpool.Pool
}

func (p *pgxV5DriverProcurer) ProcureMigrator(logger *slog.Logger) (MigratorInterface, error) {
	migrator, err := upkeepmigrate.New[pgx.Tx](upkeeppgxv5.New(p.dbPool), &upkeepmigrate.Config{
		Logger: logger,
		Units:  migrations.All(),
	})
	if err != nil {
		return nil, err
	}
	return migrator, nil
}

type sqliteDriverProcurer struct {
	dbPool *sql.DB
}

func (p *sqliteDriverProcurer) ProcureMigrator(logger *slog.Logger) (MigratorInterface, error) {
	migrator, err := upkeepmigrate.New[*sql.Tx](upkeepsqlite.New(p.dbPool), &upkeepmigrate.Config{
		Logger: logger,
		Units:  migrations.All(),
	})
	if err != nil {
		return nil, err
	}
	return migrator, nil
}
