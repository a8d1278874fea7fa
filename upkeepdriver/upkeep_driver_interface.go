// Package upkeepdriver exposes generic constructs to be implemented by
// specific drivers that wrap third party database packages, with the aim being
// to keep the migration engine decoupled from any one database package so that
// both supported databases (Postgres and SQLite) can be driven through the
// same interface.
//
// The driver layer is deliberately thin: it's a connection/transaction factory
// plus a dialect tag and the handful of queries the migration ledger needs. It
// performs no query translation. The two dialects aren't semantically
// equivalent for every operation (SQLite can't drop a column, trigger bodies
// differ, and so on), so translation gaps are kept visible by having each
// migration unit branch on Dialect and author both paths explicitly.
package upkeepdriver

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by driver queries that expect a row when none
// exists, normalizing pgx.ErrNoRows and sql.ErrNoRows.
var ErrNotFound = errors.New("not found")

// ErrSubTxNotSupported is returned by drivers that can't begin a transaction
// inside another transaction.
var ErrSubTxNotSupported = errors.New("subtransactions not supported by driver")

// Dialect tags which SQL backend a driver speaks. Migration units receive the
// active dialect and branch internally where the backends differ.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Driver provides a database driver for use with the migration engine.
//
// Its purpose is to wrap the interface of a third party database package so
// that the engine stays decoupled from any specific one. Two drivers are
// provided: upkeeppgxv5 wrapping Pgx v5, and upkeepsqlite wrapping
// database/sql over modernc.org/sqlite.
type Driver[TTx any] interface {
	// Dialect returns the SQL dialect the driver speaks. Migration units use
	// this to choose between their Postgres and SQLite paths.
	Dialect() Dialect

	// GetExecutor returns an executor for the driver's underlying pool.
	GetExecutor() Executor

	// UnwrapExecutor turns a generically typed transaction into an ExecutorTx
	// for use with engine infrastructure.
	UnwrapExecutor(tx TTx) ExecutorTx
}

// Executor is the subset of database operations the migration engine needs. An
// executor may be backed by a pool or by a transaction.
type Executor interface {
	// Begin begins a new transaction and returns an executor that wraps it.
	Begin(ctx context.Context) (ExecutorTx, error)

	// ColumnExists checks whether a column exists on the given table.
	// Migration units use it to guard against reapplying a partially applied
	// change.
	ColumnExists(ctx context.Context, table, column string) (bool, error)

	// Exec executes raw SQL.
	Exec(ctx context.Context, sql string, args ...any) error

	// MigrationDeleteByVersion deletes the ledger entry for a version. Used
	// only by rollback.
	MigrationDeleteByVersion(ctx context.Context, version int) error

	// MigrationGetAll returns every ledger entry, ascending by version.
	MigrationGetAll(ctx context.Context) ([]*Migration, error)

	// MigrationTableEnsure creates the migration ledger table if it doesn't
	// already exist. Safe to call unconditionally on every run.
	MigrationTableEnsure(ctx context.Context) error

	// MigrationUpsert inserts or replaces the ledger entry keyed by
	// params.Version. `applied_at` is refreshed on every call so that retried
	// versions show their latest attempt time.
	MigrationUpsert(ctx context.Context, params *MigrationUpsertParams) error

	// Query executes a query returning multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row

	// TableExists checks whether a table exists in the current schema.
	TableExists(ctx context.Context, table string) (bool, error)
}

// ExecutorTx is an executor which is a transaction, and therefore able to
// commit or roll back.
type ExecutorTx interface {
	Executor

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Row is a single row returned by QueryRow. Scan returns ErrNotFound if no row
// matched the query.
type Row interface {
	Scan(dest ...any) error
}

// Rows is an iterator over rows returned by Query. It intentionally mirrors
// pgx.Rows (Close has no return value) so that the pgx driver can return its
// rows unwrapped.
type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// Migration is a persisted migration ledger entry. Each attempted version has
// exactly one row; reattempts overwrite it.
type Migration struct {
	// Version is the unique version of the migration.
	Version int

	// Name is the migration's display name.
	Name string

	// AppliedAt is when the version was most recently attempted.
	AppliedAt time.Time

	// ExecutionTimeMS is how long the most recent attempt took, in
	// milliseconds.
	ExecutionTimeMS int64

	// Success is whether the most recent attempt completed without error.
	Success bool

	// ErrorMessage is the failure cause of the most recent attempt. Empty when
	// Success is true.
	ErrorMessage string
}

// MigrationUpsertParams are parameters to upsert a migration ledger entry.
type MigrationUpsertParams struct {
	Version       int
	Name          string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Success       bool
	ErrorMessage  string
}
