// Package upkeeppgxv5 provides an Upkeep driver implementation for Pgx v5.
//
// This is the driver used against full-featured Postgres databases. It wraps
// pgx with only the thinnest possible layer.
package upkeeppgxv5

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upkeephq/upkeep/upkeepdriver"
)

// Driver is an implementation of upkeepdriver.Driver for Pgx v5.
type Driver struct {
	dbPool *pgxpool.Pool
}

// New returns a new Pgx v5 Upkeep driver.
//
// It takes a pgxpool.Pool for use with the migration engine. The pool must not
// be closed while associated migrators are running.
func New(dbPool *pgxpool.Pool) *Driver {
	return &Driver{dbPool: dbPool}
}

func (d *Driver) Dialect() upkeepdriver.Dialect { return upkeepdriver.DialectPostgres }

func (d *Driver) GetExecutor() upkeepdriver.Executor {
	return &Executor{dbtx: d.dbPool}
}

func (d *Driver) UnwrapExecutor(tx pgx.Tx) upkeepdriver.ExecutorTx {
	return &ExecutorTx{Executor: Executor{dbtx: tx}, tx: tx}
}

// dbtx is the interface shared by pgxpool.Pool and pgx.Tx that the executor
// needs.
type dbtx interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Executor struct {
	dbtx dbtx
}

func (e *Executor) Begin(ctx context.Context) (upkeepdriver.ExecutorTx, error) {
	tx, err := e.dbtx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{Executor: Executor{dbtx: tx}, tx: tx}, nil
}

func (e *Executor) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	const sql = `
SELECT EXISTS (
    SELECT 1
    FROM information_schema.columns
    WHERE table_schema = current_schema()
        AND table_name = $1
        AND column_name = $2
)`
	var exists bool
	if err := e.dbtx.QueryRow(ctx, sql, table, column).Scan(&exists); err != nil {
		return false, interpretError(err)
	}
	return exists, nil
}

func (e *Executor) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := e.dbtx.Exec(ctx, sql, args...)
	return interpretError(err)
}

func (e *Executor) MigrationDeleteByVersion(ctx context.Context, version int) error {
	_, err := e.dbtx.Exec(ctx, `DELETE FROM upkeep_migration WHERE version = $1`, version)
	return interpretError(err)
}

func (e *Executor) MigrationGetAll(ctx context.Context) ([]*upkeepdriver.Migration, error) {
	const sql = `
SELECT version, name, applied_at, execution_time_ms, success, coalesce(error_message, '')
FROM upkeep_migration
ORDER BY version`

	rows, err := e.dbtx.Query(ctx, sql)
	if err != nil {
		return nil, interpretError(err)
	}
	defer rows.Close()

	var migrations []*upkeepdriver.Migration
	for rows.Next() {
		var migration upkeepdriver.Migration
		if err := rows.Scan(&migration.Version, &migration.Name, &migration.AppliedAt, &migration.ExecutionTimeMS, &migration.Success, &migration.ErrorMessage); err != nil {
			return nil, interpretError(err)
		}
		migrations = append(migrations, &migration)
	}
	return migrations, rows.Err()
}

func (e *Executor) MigrationTableEnsure(ctx context.Context) error {
	const sql = `
CREATE TABLE IF NOT EXISTS upkeep_migration (
    version bigint PRIMARY KEY,
    name text NOT NULL,
    applied_at timestamptz NOT NULL,
    execution_time_ms bigint NOT NULL,
    success boolean NOT NULL,
    error_message text
)`
	_, err := e.dbtx.Exec(ctx, sql)
	return interpretError(err)
}

func (e *Executor) MigrationUpsert(ctx context.Context, params *upkeepdriver.MigrationUpsertParams) error {
	const sql = `
INSERT INTO upkeep_migration (version, name, applied_at, execution_time_ms, success, error_message)
VALUES ($1, $2, $3, $4, $5, nullif($6, ''))
ON CONFLICT (version) DO UPDATE SET
    name = EXCLUDED.name,
    applied_at = EXCLUDED.applied_at,
    execution_time_ms = EXCLUDED.execution_time_ms,
    success = EXCLUDED.success,
    error_message = EXCLUDED.error_message`

	_, err := e.dbtx.Exec(ctx, sql,
		params.Version,
		params.Name,
		params.AppliedAt,
		params.ExecutionTime.Milliseconds(),
		params.Success,
		params.ErrorMessage,
	)
	return interpretError(err)
}

func (e *Executor) Query(ctx context.Context, sql string, args ...any) (upkeepdriver.Rows, error) {
	rows, err := e.dbtx.Query(ctx, sql, args...)
	if err != nil {
		return nil, interpretError(err)
	}
	return rows, nil
}

func (e *Executor) QueryRow(ctx context.Context, sql string, args ...any) upkeepdriver.Row {
	return &row{row: e.dbtx.QueryRow(ctx, sql, args...)}
}

func (e *Executor) TableExists(ctx context.Context, table string) (bool, error) {
	const sql = `
SELECT EXISTS (
    SELECT 1
    FROM information_schema.tables
    WHERE table_schema = current_schema()
        AND table_name = $1
)`
	var exists bool
	if err := e.dbtx.QueryRow(ctx, sql, table).Scan(&exists); err != nil {
		return false, interpretError(err)
	}
	return exists, nil
}

type ExecutorTx struct {
	Executor
	tx pgx.Tx
}

func (t *ExecutorTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *ExecutorTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type row struct {
	row pgx.Row
}

func (r *row) Scan(dest ...any) error {
	return interpretError(r.row.Scan(dest...))
}

func interpretError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return upkeepdriver.ErrNotFound
	}
	return err
}
