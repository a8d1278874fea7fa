// Package upkeepmigrate provides the versioned schema migration engine for
// Upkeep. It applies hand-authored migration units strictly in version order,
// records every attempt in a persisted ledger, and halts a batch at the first
// failure so that no version is ever applied out of turn relative to an
// earlier unresolved failure.
//
// Each unit runs in its own transaction, and the ledger write for a unit is
// never combined with the unit's own DDL transaction. A crash after a unit
// commits but before its ledger write leaves a committed schema change that
// the ledger doesn't know about; the next run re-attempts that unit, which is
// why units must be authored to be re-run safe.
//
// No locking coordinates multiple concurrent migrators against the same
// database. The design assumes a single deployment pipeline drives
// migrations; concurrent runs are an unsupported operating condition.
package upkeepmigrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/upkeephq/upkeep/internal/baseservice"
	"github.com/upkeephq/upkeep/internal/util/dbutil"
	"github.com/upkeephq/upkeep/internal/util/maputil"
	"github.com/upkeephq/upkeep/internal/util/sliceutil"
	"github.com/upkeephq/upkeep/upkeepdriver"
)

// ledgerTable is the name of the persisted migration ledger table.
const ledgerTable = "upkeep_migration"

// ErrReversalDegraded is returned (usually wrapped) by a unit's Down when the
// active dialect can't fully express the reversal, e.g. dropping a column on
// SQLite. The unit commits whatever partial reversal it could perform and the
// engine reports the degradation as a warning rather than a failure.
var ErrReversalDegraded = errors.New("reversal degraded")

// ErrNothingToRollback is returned by Rollback when the ledger records no
// successfully applied migrations.
var ErrNothingToRollback = errors.New("no applied migrations to roll back")

// UnitFunc is one direction of a migration unit. It receives a transaction
// the whole direction runs inside of and the active dialect to branch on.
type UnitFunc func(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error

// Unit is one self-contained, named, versioned schema change with an up
// (apply) and down (revert) direction. Units are registered explicitly (see
// the migrations package) rather than discovered by reflection or file
// listing, and are immutable once a migrator has loaded them.
//
// Up must be written to check for prior partial application (e.g. "column
// already exists") and skip rather than fail, because a unit may be
// re-invoked after a prior partial failure or after a ledger write was lost.
//
// Down is best-effort: for operations the constrained dialect can't express
// it should perform the closest approximation and return a wrapped
// ErrReversalDegraded instead of raising.
type Unit struct {
	// Version is the unit's unique, totally ordered version. Versions are
	// never reused; once a version has a ledger entry its unit's semantics
	// must not change.
	Version int

	// Name is a short display name, e.g. "initial_schema".
	Name string

	// Up applies the unit's schema change.
	Up UnitFunc

	// Down reverts the unit's schema change.
	Down UnitFunc
}

// Config contains configuration for Migrator.
type Config struct {
	// Logger is the structured logger to use for logging purposes. If none is
	// specified, logs will be emitted to STDOUT with messages at warn level
	// or higher.
	Logger *slog.Logger

	// Units are the migration units the migrator operates on, in ascending
	// version order. Required.
	Units []*Unit
}

// Migrator is the migration runner. It computes the pending set from the
// ledger, applies pending units one at a time in ascending version order, and
// records each outcome.
//
// The function takes a generic parameter TTx representing a transaction type,
// but it can generally be omitted because it'll be inferred from the driver.
// For example:
//
//	dbPool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil {
//		// handle error
//	}
//	defer dbPool.Close()
//
//	migrator, err := upkeepmigrate.New(upkeeppgxv5.New(dbPool), &upkeepmigrate.Config{
//		Units: migrations.All(),
//	})
//	if err != nil {
//		// handle error
//	}
type Migrator[TTx any] struct {
	baseservice.BaseService

	driver upkeepdriver.Driver[TTx]
	units  map[int]*Unit
}

// New returns a new migrator with the given database driver and
// configuration. Unit registration problems (duplicate versions, out-of-order
// registration, missing directions) are configuration errors reported here,
// before any migration runs.
func New[TTx any](driver upkeepdriver.Driver[TTx], config *Config) (*Migrator[TTx], error) {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))
	}

	units, err := validateUnits(config.Units)
	if err != nil {
		return nil, err
	}

	return baseservice.Init(baseservice.NewArchetype(logger), &Migrator[TTx]{
		driver: driver,
		units:  units,
	}), nil
}

// AppliedMigration describes one unit successfully applied during a run.
type AppliedMigration struct {
	// Version is the version of the migration applied.
	Version int

	// Name is the migration's display name.
	Name string

	// Duration is how long the migration took to apply.
	Duration time.Duration
}

// MigrateResult is the result of a migrate run.
type MigrateResult struct {
	// Applied are the units applied during this run, in order.
	Applied []AppliedMigration

	// FailedVersion is the version at which the batch halted, or zero if no
	// unit failed.
	FailedVersion int

	// Remaining counts units that are still pending after this run, including
	// a failed unit (a failed ledger entry stays pending and is retried on
	// the next run).
	Remaining int
}

// Migrate applies all pending migrations in ascending version order, one unit
// at a time, each in its own transaction.
//
// The batch halts at the first failing unit: its failure is recorded in the
// ledger with the causing message, later versions aren't attempted, and a
// non-nil error is returned alongside a result describing what was applied
// before the halt. Prior successful units remain committed and recorded.
func (m *Migrator[TTx]) Migrate(ctx context.Context) (*MigrateResult, error) {
	exec := m.driver.GetExecutor()

	if err := exec.MigrationTableEnsure(ctx); err != nil {
		return nil, fmt.Errorf("error ensuring ledger table `%s`: %w", ledgerTable, err)
	}

	entries, err := exec.MigrationGetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting existing ledger entries: %w", err)
	}

	pending := m.pendingUnits(entries)

	res := &MigrateResult{Applied: make([]AppliedMigration, 0, len(pending))}

	if len(pending) < 1 {
		m.Logger.InfoContext(ctx, m.Name+": Schema up to date, no migrations to apply")
		return res, nil
	}

	for i, unit := range pending {
		// Cancellation is only honored between units; a unit that has begun
		// runs to completion or failure.
		if err := ctx.Err(); err != nil {
			res.Remaining = len(pending) - i
			return res, err
		}

		m.Logger.InfoContext(ctx, fmt.Sprintf(m.Name+": Applying migration %03d [UP]", unit.Version),
			slog.Int("version", unit.Version),
			slog.String("name", unit.Name),
		)

		start := m.Time.NowUTC()
		unitErr := dbutil.WithTx(ctx, exec, func(ctx context.Context, execTx upkeepdriver.ExecutorTx) error {
			return unit.Up(ctx, execTx, m.driver.Dialect())
		})
		elapsed := m.Time.NowUTC().Sub(start)

		if unitErr != nil {
			if recordErr := m.record(ctx, exec, unit, elapsed, false, unitErr.Error()); recordErr != nil {
				m.Logger.ErrorContext(ctx, m.Name+": Error recording failed migration attempt",
					slog.Int("version", unit.Version),
					slog.String("error", recordErr.Error()),
				)
			}

			res.FailedVersion = unit.Version
			res.Remaining = len(pending) - i
			return res, fmt.Errorf("error applying version %03d [%s]: %w", unit.Version, unit.Name, unitErr)
		}

		// The ledger write deliberately happens outside the unit's
		// transaction. If the process dies between the commit above and this
		// write, the ledger still reports the unit as pending and the next
		// run re-attempts it; units are authored to tolerate that.
		if err := m.record(ctx, exec, unit, elapsed, true, ""); err != nil {
			res.Remaining = len(pending) - i
			return res, fmt.Errorf("error recording version %03d: %w", unit.Version, err)
		}

		res.Applied = append(res.Applied, AppliedMigration{Version: unit.Version, Name: unit.Name, Duration: elapsed})
	}

	return res, nil
}

// RollbackResult is the result of a rollback operation.
type RollbackResult struct {
	// Version is the version that was rolled back.
	Version int

	// Name is the migration's display name.
	Name string

	// Duration is how long the reversal took.
	Duration time.Duration

	// Degraded indicates the active dialect couldn't fully express the
	// reversal and the closest approximation was performed instead.
	Degraded bool

	// DegradedReason describes the degradation when Degraded is set.
	DegradedReason string
}

// Rollback reverts the single most recently applied migration and deletes its
// ledger entry. Rollback is strictly one-step; rolling back further requires
// repeated invocation.
//
// Returns ErrNothingToRollback if the ledger records no successfully applied
// versions.
func (m *Migrator[TTx]) Rollback(ctx context.Context) (*RollbackResult, error) {
	exec := m.driver.GetExecutor()

	entries, err := m.existingEntries(ctx, exec)
	if err != nil {
		return nil, err
	}

	var target *upkeepdriver.Migration
	for _, entry := range entries { // ascending; keep the highest applied
		if entry.Success {
			target = entry
		}
	}
	if target == nil {
		return nil, ErrNothingToRollback
	}

	unit, ok := m.units[target.Version]
	if !ok {
		return nil, fmt.Errorf("version %03d has a ledger entry but no registered migration unit", target.Version)
	}

	m.Logger.InfoContext(ctx, fmt.Sprintf(m.Name+": Applying migration %03d [DOWN]", unit.Version),
		slog.Int("version", unit.Version),
		slog.String("name", unit.Name),
	)

	res := &RollbackResult{Version: unit.Version, Name: unit.Name}
	start := m.Time.NowUTC()

	tx, err := exec.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}

	downErr := unit.Down(ctx, tx, m.driver.Dialect())
	switch {
	case downErr == nil:
	case errors.Is(downErr, ErrReversalDegraded):
		// A degraded reversal commits whatever partial work the down step
		// could perform and is surfaced as a warning, not a failure.
		res.Degraded = true
		res.DegradedReason = downErr.Error()
		m.Logger.WarnContext(ctx, m.Name+": Reversal degraded",
			slog.Int("version", unit.Version),
			slog.String("reason", downErr.Error()),
		)
	default:
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("error reverting version %03d [%s]: %w", unit.Version, unit.Name, downErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("error committing transaction: %w", err)
	}

	res.Duration = m.Time.NowUTC().Sub(start)

	if err := exec.MigrationDeleteByVersion(ctx, unit.Version); err != nil {
		return nil, fmt.Errorf("error deleting ledger entry for version %03d: %w", unit.Version, err)
	}

	return res, nil
}

// PendingMigration describes one registered unit not yet successfully
// applied.
type PendingMigration struct {
	// Version is the unit's version.
	Version int

	// Name is the unit's display name.
	Name string

	// LastAttemptError carries the error message of a previous failed attempt
	// at this version, if there was one.
	LastAttemptError string
}

// StatusResult is a read-only report of applied versus pending migrations.
type StatusResult struct {
	// Applied are successful ledger entries, ascending by version.
	Applied []*upkeepdriver.Migration

	// Pending are registered units not yet successfully applied, ascending by
	// version.
	Pending []PendingMigration
}

// Status reports applied and pending migrations without mutating anything; it
// tolerates the ledger table not existing yet.
func (m *Migrator[TTx]) Status(ctx context.Context) (*StatusResult, error) {
	exec := m.driver.GetExecutor()

	entries, err := m.existingEntries(ctx, exec)
	if err != nil {
		return nil, err
	}

	entryByVersion := sliceutil.KeyBy(entries,
		func(entry *upkeepdriver.Migration) (int, *upkeepdriver.Migration) { return entry.Version, entry })

	res := &StatusResult{}
	for _, entry := range entries {
		if entry.Success {
			res.Applied = append(res.Applied, entry)
		}
	}

	for _, unit := range m.pendingUnits(entries) {
		pending := PendingMigration{Version: unit.Version, Name: unit.Name}
		if entry, ok := entryByVersion[unit.Version]; ok && !entry.Success {
			pending.LastAttemptError = entry.ErrorMessage
		}
		res.Pending = append(res.Pending, pending)
	}

	return res, nil
}

// ValidateResult is the result of validating the current schema version.
type ValidateResult struct {
	// OK is true when no registered migrations are pending.
	OK bool

	// PendingVersions are versions that still need to be applied.
	PendingVersions []int
}

// Validate checks that the database is at the latest registered schema
// version. It's the contract surrounding applications (web server, cron
// process) call at startup so they can refuse to serve, or degrade, while
// pending migrations exist; the engine itself only reports.
func (m *Migrator[TTx]) Validate(ctx context.Context) (*ValidateResult, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	res := &ValidateResult{
		OK: len(status.Pending) < 1,
		PendingVersions: sliceutil.Map(status.Pending,
			func(pending PendingMigration) int { return pending.Version }),
	}

	if !res.OK {
		m.Logger.WarnContext(ctx, m.Name+": Schema is not up to date",
			slog.Any("pending_versions", res.PendingVersions),
		)
	}

	return res, nil
}

func (m *Migrator[TTx]) record(ctx context.Context, exec upkeepdriver.Executor, unit *Unit, elapsed time.Duration, success bool, errorMessage string) error {
	return exec.MigrationUpsert(ctx, &upkeepdriver.MigrationUpsertParams{
		Version:       unit.Version,
		Name:          unit.Name,
		AppliedAt:     m.Time.NowUTC(),
		ExecutionTime: elapsed,
		Success:       success,
		ErrorMessage:  errorMessage,
	})
}

// existingEntries returns all ledger entries, tolerating the ledger table not
// existing yet so that read-only operations don't have to create it.
func (m *Migrator[TTx]) existingEntries(ctx context.Context, exec upkeepdriver.Executor) ([]*upkeepdriver.Migration, error) {
	exists, err := exec.TableExists(ctx, ledgerTable)
	if err != nil {
		return nil, fmt.Errorf("error checking if `%s` exists: %w", ledgerTable, err)
	}
	if !exists {
		return nil, nil
	}

	entries, err := exec.MigrationGetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting existing ledger entries: %w", err)
	}

	return entries, nil
}

// pendingUnits computes the pending set: registered units minus versions with
// a successful ledger entry, ascending. A version with a failed entry is
// still pending and will be retried.
func (m *Migrator[TTx]) pendingUnits(entries []*upkeepdriver.Migration) []*Unit {
	targetUnits := maps.Clone(m.units)
	for _, entry := range entries {
		if entry.Success {
			delete(targetUnits, entry.Version)
		}
	}

	sortedTargetUnits := maputil.Values(targetUnits)
	slices.SortFunc(sortedTargetUnits, func(a, b *Unit) int { return a.Version - b.Version })

	return sortedTargetUnits
}

// Validates a set of units to reduce the probability of configuration
// problems as new migrations are introduced, e.g. missing fields or
// accidentally duplicated version numbers from copy/pasta problems.
func validateUnits(units []*Unit) (map[int]*Unit, error) {
	if len(units) < 1 {
		return nil, errors.New("at least one migration unit must be registered")
	}

	lastVersion := 0
	unitsMap := make(map[int]*Unit, len(units))

	for _, unit := range units {
		if unit.Version < 1 {
			return nil, fmt.Errorf("migration unit %q should have a positive version", unit.Name)
		}
		if unit.Name == "" {
			return nil, fmt.Errorf("migration version %03d should have a name", unit.Version)
		}
		if unit.Up == nil {
			return nil, fmt.Errorf("migration %03d [%s] should define Up", unit.Version, unit.Name)
		}
		if unit.Down == nil {
			return nil, fmt.Errorf("migration %03d [%s] should define Down", unit.Version, unit.Name)
		}

		if _, ok := unitsMap[unit.Version]; ok {
			return nil, fmt.Errorf("duplicate migration version: %03d", unit.Version)
		}
		if unit.Version <= lastVersion {
			return nil, fmt.Errorf("migration versions should be registered in ascending order; got %03d after %03d", unit.Version, lastVersion)
		}

		lastVersion = unit.Version
		unitsMap[unit.Version] = unit
	}

	return unitsMap, nil
}
