// Package upkeepsqlite provides an Upkeep driver implementation for SQLite,
// wrapping database/sql over the modernc.org/sqlite driver.
//
// SQLite allows only one writer at a time and returns errors like "database is
// locked (5) (SQLITE_BUSY)" when another connection tries. Since migration
// execution is strictly sequential anyway, set the maximum pool size to one
// connection with `dbPool.SetMaxOpenConns(1)` to avoid these errors entirely.
//
// SQLite is the constrained of the two supported dialects: it has no
// procedural trigger bodies and its ALTER TABLE can't drop a column, so
// migration units take different (sometimes degraded) paths when running
// against it.
package upkeepsqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/upkeephq/upkeep/upkeepdriver"
)

// Driver is an implementation of upkeepdriver.Driver for database/sql over
// SQLite.
type Driver struct {
	dbPool *sql.DB
}

// New returns a new SQLite Upkeep driver.
//
// It takes an sql.DB for use with the migration engine. The pool must not be
// closed while associated migrators are running.
func New(dbPool *sql.DB) *Driver {
	return &Driver{dbPool: dbPool}
}

func (d *Driver) Dialect() upkeepdriver.Dialect { return upkeepdriver.DialectSQLite }

func (d *Driver) GetExecutor() upkeepdriver.Executor {
	return &Executor{dbPool: d.dbPool, dbtx: d.dbPool}
}

func (d *Driver) UnwrapExecutor(tx *sql.Tx) upkeepdriver.ExecutorTx {
	return &ExecutorTx{Executor: Executor{dbtx: tx}, tx: tx}
}

// dbtx is the interface shared by sql.DB and sql.Tx that the executor needs.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Executor struct {
	dbPool *sql.DB // nil when the executor wraps a transaction
	dbtx   dbtx
}

func (e *Executor) Begin(ctx context.Context) (upkeepdriver.ExecutorTx, error) {
	if e.dbPool == nil {
		return nil, upkeepdriver.ErrSubTxNotSupported
	}

	tx, err := e.dbPool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{Executor: Executor{dbtx: tx}, tx: tx}, nil
}

func (e *Executor) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	// The table-valued pragma isn't directly queryable with a bound table
	// name, but its hidden `arg` column is.
	const query = `
SELECT EXISTS (
    SELECT 1
    FROM pragma_table_info
    WHERE arg = ? AND name = ?
)`
	var exists bool
	if err := e.dbtx.QueryRowContext(ctx, query, table, column).Scan(&exists); err != nil {
		return false, interpretError(err)
	}
	return exists, nil
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) error {
	_, err := e.dbtx.ExecContext(ctx, query, args...)
	return interpretError(err)
}

func (e *Executor) MigrationDeleteByVersion(ctx context.Context, version int) error {
	_, err := e.dbtx.ExecContext(ctx, `DELETE FROM upkeep_migration WHERE version = ?`, version)
	return interpretError(err)
}

func (e *Executor) MigrationGetAll(ctx context.Context) ([]*upkeepdriver.Migration, error) {
	const query = `
SELECT version, name, applied_at, execution_time_ms, success, coalesce(error_message, '')
FROM upkeep_migration
ORDER BY version`

	rows, err := e.dbtx.QueryContext(ctx, query)
	if err != nil {
		return nil, interpretError(err)
	}
	defer rows.Close()

	var migrations []*upkeepdriver.Migration
	for rows.Next() {
		var (
			migration     upkeepdriver.Migration
			appliedAtMill int64
		)
		if err := rows.Scan(&migration.Version, &migration.Name, &appliedAtMill, &migration.ExecutionTimeMS, &migration.Success, &migration.ErrorMessage); err != nil {
			return nil, interpretError(err)
		}
		migration.AppliedAt = time.UnixMilli(appliedAtMill).UTC()
		migrations = append(migrations, &migration)
	}
	return migrations, rows.Err()
}

func (e *Executor) MigrationTableEnsure(ctx context.Context) error {
	// applied_at is kept as epoch milliseconds because SQLite has no native
	// timestamp type.
	const query = `
CREATE TABLE IF NOT EXISTS upkeep_migration (
    version integer PRIMARY KEY,
    name text NOT NULL,
    applied_at integer NOT NULL,
    execution_time_ms integer NOT NULL,
    success boolean NOT NULL,
    error_message text
)`
	_, err := e.dbtx.ExecContext(ctx, query)
	return interpretError(err)
}

func (e *Executor) MigrationUpsert(ctx context.Context, params *upkeepdriver.MigrationUpsertParams) error {
	const query = `
INSERT INTO upkeep_migration (version, name, applied_at, execution_time_ms, success, error_message)
VALUES (?, ?, ?, ?, ?, nullif(?, ''))
ON CONFLICT (version) DO UPDATE SET
    name = excluded.name,
    applied_at = excluded.applied_at,
    execution_time_ms = excluded.execution_time_ms,
    success = excluded.success,
    error_message = excluded.error_message`

	_, err := e.dbtx.ExecContext(ctx, query,
		params.Version,
		params.Name,
		params.AppliedAt.UnixMilli(),
		params.ExecutionTime.Milliseconds(),
		params.Success,
		params.ErrorMessage,
	)
	return interpretError(err)
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (upkeepdriver.Rows, error) {
	sqlRows, err := e.dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interpretError(err)
	}
	return &rows{rows: sqlRows}, nil
}

func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) upkeepdriver.Row {
	return &row{row: e.dbtx.QueryRowContext(ctx, query, args...)}
}

func (e *Executor) TableExists(ctx context.Context, table string) (bool, error) {
	const query = `
SELECT EXISTS (
    SELECT 1
    FROM sqlite_master
    WHERE type = 'table' AND name = ?
)`
	var exists bool
	if err := e.dbtx.QueryRowContext(ctx, query, table).Scan(&exists); err != nil {
		return false, interpretError(err)
	}
	return exists, nil
}

type ExecutorTx struct {
	Executor
	tx *sql.Tx
}

func (t *ExecutorTx) Commit(ctx context.Context) error { return t.tx.Commit() }

func (t *ExecutorTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// rows adapts sql.Rows to upkeepdriver.Rows, whose Close has no return value
// to stay compatible with pgx.
type rows struct {
	rows *sql.Rows
}

func (r *rows) Close()                 { _ = r.rows.Close() }
func (r *rows) Err() error             { return r.rows.Err() }
func (r *rows) Next() bool             { return r.rows.Next() }
func (r *rows) Scan(dest ...any) error { return interpretError(r.rows.Scan(dest...)) }

type row struct {
	row *sql.Row
}

func (r *row) Scan(dest ...any) error {
	return interpretError(r.row.Scan(dest...))
}

func interpretError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return upkeepdriver.ErrNotFound
	}
	return err
}
